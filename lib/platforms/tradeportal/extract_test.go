package tradeportal

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/browser/browsertest"
	"tradereg/lib/registry"

	_ "embed"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

//go:embed basic_card_test.html
var basicCardTest []byte

//go:embed grade_card_test.html
var gradeCardTest []byte

func parseDoc(t testing.TB, src []byte) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(src))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestParseBasic(t *testing.T) {
	rec, displayed := ParseBasic(context.Background(), parseDoc(t, basicCardTest))
	require.Equal(t, testSubject, displayed)

	expected := registry.IdentityRecord{
		IssueDate:           "2008/12/19",
		RegistrationDate:    "1988/06/07",
		NameZh:              "範例貿易股份有限公司",
		NameEn:              "EXAMPLE TRADING CO., LTD.",
		AddressZh:           "新竹市東區光復路二段101號",
		AddressEn:           "No. 101, Sec. 2, Guangfu Rd., East Dist., Hsinchu City",
		Representative:      "王小明",
		Tel1:                "03-5711234",
		Fax:                 "03-5715678",
		Website:             "http://www.example.com.tw",
		Email:               "service@example.com.tw",
		ImportQualification: "有",
		ExportQualification: "有",
		ImportItemsZh:       "8486 製造半導體晶圓用之機器",
		ImportItemsEn:       "8486 Machines for the manufacture of semiconductor wafers",
		// item lists only read the nested span
		ExportItemsZh: "",
		ExportItemsEn: "8542 Electronic integrated circuits",
	}
	diff := cmp.Diff(expected, rec)
	if diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, 16, rec.FieldCount())
}

func TestExtractBasicNeverFails(t *testing.T) {
	cases := []struct {
		name   string
		source string
		err    error
	}{
		{name: "source unavailable", err: errors.New("session deleted")},
		{name: "empty page", source: "<html><body></body></html>"},
		{name: "not html", source: "\x00\x01 garbage"},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			page := browsertest.NewPage()
			page.SourceHTML = test.source
			page.SourceErr = test.err

			rec := NewExtractor(telemetry.NewMemoryAPI()).ExtractBasic(context.Background(), page, testSubject)
			require.Equal(t, registry.SubjectID(testSubject), rec.SubjectID)
			require.Zero(t, rec.FieldCount())
			require.False(t, rec.HasIdentityData())
		})
	}
}

func TestExtractBasicReportsMismatch(t *testing.T) {
	page := browsertest.NewPage()
	page.SourceHTML = string(basicCardTest)
	tel := telemetry.NewMemoryAPI()
	extractor := NewExtractor(tel)

	rec := extractor.ExtractBasic(context.Background(), page, testSubject)
	require.Equal(t, "範例貿易股份有限公司", rec.NameZh)
	require.Empty(t, tel.Find(telemetry.REPORT_WARNING, report_extractor_basic))

	rec = extractor.ExtractBasic(context.Background(), page, "04351626")
	require.Equal(t, registry.SubjectID("04351626"), rec.SubjectID)
	require.Len(t, tel.Find(telemetry.REPORT_WARNING, report_extractor_basic), 1)
}

func TestParseGrades(t *testing.T) {
	grades := ParseGrades(parseDoc(t, gradeCardTest))
	require.Equal(t, []registry.GradeRecord{
		{Period: "113年/2024", LocalYear: "113", ForeignYear: "2024", ImportGrade: "A", ExportGrade: "B"},
		{Period: "112年/2023", LocalYear: "112", ForeignYear: "2023", ImportGrade: "C", ExportGrade: "D"},
		{Period: "111年/2022", LocalYear: "111", ForeignYear: "2022", ImportGrade: "E", ExportGrade: "F"},
	}, grades)
}

func TestParseGradesSkipsHeadersAndShortRows(t *testing.T) {
	src := `<div id="popGradeCard"><table class="table-bordered">
		<tr><td>h</td><td>h</td><td>h</td></tr>
		<tr><td>h</td><td>h</td><td>h</td></tr>
		<tr><td>h</td><td>h</td><td>h</td></tr>
		<tr><td>113年/2024</td><td>A</td><td>B</td></tr>
		<tr><td>bad</td></tr>
	</table></div>`
	grades := ParseGrades(parseDoc(t, []byte(src)))
	require.Equal(t, []registry.GradeRecord{
		{Period: "113年/2024", LocalYear: "113", ForeignYear: "2024", ImportGrade: "A", ExportGrade: "B"},
	}, grades)
}

func TestParseGradesMissingTable(t *testing.T) {
	grades := ParseGrades(parseDoc(t, []byte("<div id=popGradeCard></div>")))
	require.NotNil(t, grades)
	require.Empty(t, grades)
}

func TestSplitPeriod(t *testing.T) {
	cases := []struct {
		cell    string
		local   string
		foreign string
	}{
		{cell: "113年\n2024", local: "113年", foreign: "2024"},
		{cell: "113年/2024", local: "113年", foreign: "2024"},
		{cell: "113年", local: "113年", foreign: ""},
		{cell: "", local: "", foreign: ""},
	}
	for _, test := range cases {
		local, foreign := splitPeriod(test.cell)
		require.Equal(t, test.local, local, strings.ReplaceAll(test.cell, "\n", `\n`))
		require.Equal(t, test.foreign, foreign)
	}
}
