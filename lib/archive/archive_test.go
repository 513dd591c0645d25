package archive

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"tradereg/lib/browser/browsertest"

	"github.com/stretchr/testify/require"
)

func TestSave(t *testing.T) {
	dir := t.TempDir()
	page := browsertest.NewPage()

	var shell string
	page.OnNavigate = func(raw string) {
		parsed, err := url.Parse(raw)
		require.NoError(t, err)
		require.Equal(t, "file", parsed.Scheme)
		content, err := os.ReadFile(filepath.FromSlash(parsed.Path))
		require.NoError(t, err)
		shell = string(content)
	}

	writer := NewWriter(dir, nil)
	writer.Stamp = false

	path, err := writer.Save(
		context.Background(),
		page,
		"22099131",
		SECTION_GRADE,
		`<div id="popGradeCard"><table class="table-bordered"></table></div>`,
	)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "22099131_實績級距.pdf"), path)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, page.PDF, written)

	require.Contains(t, shell, `<meta charset="UTF-8">`)
	require.Contains(t, shell, "<title>廠商實績級距</title>")
	require.Contains(t, shell, `<div id="popGradeCard"><table class="table-bordered"></table></div>`)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp page must be removed")
}

func TestSaveNavigationFailure(t *testing.T) {
	dir := t.TempDir()
	page := browsertest.NewPage()
	page.NavigateErr = os.ErrPermission

	writer := NewWriter(dir, nil)
	writer.Stamp = false
	_, err := writer.Save(context.Background(), page, "22099131", SECTION_BASIC, "<div></div>")
	require.ErrorIs(t, err, os.ErrPermission)
	require.Zero(t, page.Count("print-pdf"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSectionNames(t *testing.T) {
	require.Equal(t, "04351626_基本資料.pdf", FileName("04351626", SECTION_BASIC))
	require.Equal(t, "廠商基本資料", SECTION_BASIC.Title())
}
