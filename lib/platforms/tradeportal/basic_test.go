package tradeportal

import (
	"context"
	"errors"
	"testing"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/archive"
	"tradereg/lib/browser"
	"tradereg/lib/browser/browsertest"
	"tradereg/lib/registry"

	"github.com/stretchr/testify/require"
)

const basicFragment = `<div id="popBasicCard"></div>`

// basicPage is a page on which the query succeeds and the basic card opens.
func basicPage() *browsertest.Page {
	page := queryPage()
	page.SetWait(selBackdrop, browser.WaitMet)
	page.SetWait(selBasicTrigger, browser.WaitMet)
	page.SetWait(selBasicCard, browser.WaitMet)
	page.SourceHTML = string(basicCardTest)
	page.HTML[selBasicCard.String()] = basicFragment
	return page
}

func TestFetchBasic(t *testing.T) {
	page := basicPage()
	launcher := &browsertest.Launcher{Pages: []*browsertest.Page{page}}
	archiver := &recordingArchiver{}

	rec, err := NewBasicFetcher(launcher, testSolver(), archiver, testOptions, telemetry.NewMemoryAPI()).
		Fetch(context.Background(), testSubject)
	require.NoError(t, err)
	require.Equal(t, registry.SubjectID(testSubject), rec.SubjectID)
	require.Equal(t, "範例貿易股份有限公司", rec.NameZh)
	require.Equal(t, "EXAMPLE TRADING CO., LTD.", rec.NameEn)

	require.Equal(t, 1, launcher.Launched)
	require.Equal(t, 1, page.Closed)
	require.Equal(t, 1, page.Count("script-click "+selBasicTrigger.String()))
	require.Equal(t, []savedFragment{
		{id: testSubject, section: archive.SECTION_BASIC, fragment: basicFragment},
	}, archiver.saved)
}

func TestFetchBasicNoData(t *testing.T) {
	page := basicPage()
	page.SetWait(selErrorBanner, browser.WaitMet)
	page.Texts[selErrorBanner.String()] = "查無資料"
	launcher := &browsertest.Launcher{Pages: []*browsertest.Page{page}}
	archiver := &recordingArchiver{}

	rec, err := NewBasicFetcher(launcher, testSolver(), archiver, testOptions, telemetry.NewMemoryAPI()).
		Fetch(context.Background(), testSubject)
	require.ErrorIs(t, err, ErrNoData)
	require.Equal(t, registry.IdentityRecord{SubjectID: testSubject}, rec)
	require.Equal(t, 1, page.Closed)
	require.Empty(t, archiver.saved)
	require.Zero(t, page.Count("script-click "+selBasicTrigger.String()))
}

func TestFetchBasicCardNotShown(t *testing.T) {
	page := basicPage()
	page.SetWait(selBasicCard, browser.WaitTimeout)
	launcher := &browsertest.Launcher{Pages: []*browsertest.Page{page}}
	tel := telemetry.NewMemoryAPI()

	rec, err := NewBasicFetcher(launcher, testSolver(), nil, testOptions, tel).
		Fetch(context.Background(), testSubject)
	require.ErrorIs(t, err, ErrPanelNotShown)
	require.False(t, rec.HasIdentityData())
	require.Equal(t, 1, page.Closed)
	require.Len(t, tel.Find(telemetry.REPORT_WARNING, report_basic_fetch), 1)
}

func TestFetchBasicLaunchFailure(t *testing.T) {
	launcher := &browsertest.Launcher{Err: errors.New("chrome not found")}

	_, err := NewBasicFetcher(launcher, testSolver(), nil, testOptions, telemetry.NewMemoryAPI()).
		Fetch(context.Background(), testSubject)
	require.ErrorIs(t, err, ErrSessionLaunch)
	require.ErrorContains(t, err, "chrome not found")
}

func TestFetchBasicArchiveFailureIsNotFatal(t *testing.T) {
	page := basicPage()
	launcher := &browsertest.Launcher{Pages: []*browsertest.Page{page}}
	archiver := &recordingArchiver{err: errors.New("disk full")}
	tel := telemetry.NewMemoryAPI()

	rec, err := NewBasicFetcher(launcher, testSolver(), archiver, testOptions, tel).
		Fetch(context.Background(), testSubject)
	require.NoError(t, err)
	require.True(t, rec.HasIdentityData())
	require.Len(t, archiver.saved, 1)
	require.Len(t, tel.Find(telemetry.REPORT_WARNING, report_card_capture), 1)
}
