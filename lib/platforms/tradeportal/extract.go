package tradeportal

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/browser"
	"tradereg/lib/htmlutil"
	"tradereg/lib/registry"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
)

const (
	report_extractor_basic  = "extractor.basic"
	report_extractor_grades = "extractor.grades"
)

type fieldKind int

const (
	// text of the nested span, or of the container when there is none
	field_label fieldKind = iota
	// href of the nested anchor
	field_href
	// text of the nested span only
	field_span
)

type basicField struct {
	id   string
	kind fieldKind
	set  func(r *registry.IdentityRecord, value string)
}

// ids of the containers on the basic data card, the portal spells
// "address" with one d
var basicFields = [...]basicField{
	{id: "issueDateM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.IssueDate = v }},
	{id: "regDateM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.RegistrationDate = v }},
	{id: "cNameM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.NameZh = v }},
	{id: "eNameM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.NameEn = v }},
	{id: "cAdressM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.AddressZh = v }},
	{id: "eAdressM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.AddressEn = v }},
	{id: "regNameM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.Representative = v }},
	{id: "tel1M", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.Tel1 = v }},
	{id: "tel2M", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.Tel2 = v }},
	{id: "faxM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.Fax = v }},
	{id: "oldCNameM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.OldNameZh = v }},
	{id: "oldENameM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.OldNameEn = v }},
	{id: "urlM", kind: field_href, set: func(r *registry.IdentityRecord, v string) { r.Website = v }},
	{id: "emailM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.Email = v }},
	{id: "importM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.ImportQualification = v }},
	{id: "exportM", kind: field_label, set: func(r *registry.IdentityRecord, v string) { r.ExportQualification = v }},
	{id: "cStockIM", kind: field_span, set: func(r *registry.IdentityRecord, v string) { r.ImportItemsZh = v }},
	{id: "eStockIM", kind: field_span, set: func(r *registry.IdentityRecord, v string) { r.ImportItemsEn = v }},
	{id: "cStockEM", kind: field_span, set: func(r *registry.IdentityRecord, v string) { r.ExportItemsZh = v }},
	{id: "eStockEM", kind: field_span, set: func(r *registry.IdentityRecord, v string) { r.ExportItemsEn = v }},
}

const displayedIDField = "banNoM"

var portalBase, _ = url.Parse(QueryURL)

func readField(ctx context.Context, doc *goquery.Document, f basicField) string {
	container := doc.Find("#" + f.id).First()
	if container.Length() == 0 {
		return ""
	}
	switch f.kind {
	case field_href:
		anchors := htmlutil.GetAnchors(ctx, container.Find("a[href]"), portalBase)
		if len(anchors) == 0 {
			return ""
		}
		return anchors[0].Href
	case field_span:
		return strings.TrimSpace(htmlutil.SelectionText(container.Find("span").First()))
	default:
		span := container.Find("span").First()
		if span.Length() > 0 {
			return strings.TrimSpace(htmlutil.SelectionText(span))
		}
		return strings.TrimSpace(htmlutil.SelectionText(container))
	}
}

// ParseBasic reads the basic data card out of a page. It returns the record
// and the registration number the card displays. Missing fields are left
// empty.
func ParseBasic(ctx context.Context, doc *goquery.Document) (registry.IdentityRecord, string) {
	var rec registry.IdentityRecord
	for _, f := range basicFields {
		f.set(&rec, readField(ctx, doc, f))
	}
	displayed := readField(ctx, doc, basicField{id: displayedIDField, kind: field_label})
	return rec, displayed
}

var (
	localYearPattern   = regexp.MustCompile(`(\d+)年`)
	foreignYearPattern = regexp.MustCompile(`(\d{4})`)
)

// the grade table opens with a title row and two header rows
const gradeHeaderRows = 3

func firstGroup(pattern *regexp.Regexp, s string) string {
	m := pattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// splitPeriod splits the period cell into its local and foreign calendar
// tokens. The cell is normally two lines, a single line falls back to
// splitting on "/".
func splitPeriod(cell string) (string, string) {
	lines := strings.Split(strings.TrimSpace(cell), "\n")
	if len(lines) > 1 {
		return strings.TrimSpace(lines[0]), strings.TrimSpace(lines[1])
	}
	local, foreign, _ := strings.Cut(lines[0], "/")
	return strings.TrimSpace(local), strings.TrimSpace(foreign)
}

// ParseGrades reads the rows of the grade card table, rows with fewer than
// three cells are skipped.
func ParseGrades(doc *goquery.Document) []registry.GradeRecord {
	rows := doc.Find("#popGradeCard table.table-bordered").First().Find("tr")

	grades := []registry.GradeRecord{}
	rows.Each(func(i int, row *goquery.Selection) {
		if i < gradeHeaderRows {
			return
		}
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		local, foreign := splitPeriod(htmlutil.SelectionText(cells.Eq(0)))
		grades = append(grades, registry.GradeRecord{
			Period:      local + "/" + foreign,
			LocalYear:   firstGroup(localYearPattern, local),
			ForeignYear: firstGroup(foreignYearPattern, foreign),
			ImportGrade: strings.TrimSpace(htmlutil.SelectionText(cells.Eq(1))),
			ExportGrade: strings.TrimSpace(htmlutil.SelectionText(cells.Eq(2))),
		})
	})
	return grades
}

// Extractor reads records from the current state of a page. It never fails,
// anything it cannot read is left empty and reported.
type Extractor struct {
	tel telemetry.API
}

func NewExtractor(tel telemetry.API) Extractor {
	return Extractor{tel: telemetry.NewScopedAPI("tradeportal", tel)}
}

func (e Extractor) document(ctx context.Context, page browser.Page, id string) *goquery.Document {
	source, err := page.Source(ctx)
	if err != nil {
		e.tel.ReportWarning(id, fmt.Errorf("get page source: %w", err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		e.tel.ReportWarning(id, fmt.Errorf("parse page source: %w", err))
		return nil
	}
	return doc
}

func (e Extractor) ExtractBasic(ctx context.Context, page browser.Page, subject registry.SubjectID) registry.IdentityRecord {
	ctx, span := tracer.Start(ctx, "extractor:ExtractBasic")
	defer span.End()

	doc := e.document(ctx, page, report_extractor_basic)
	if doc == nil {
		return registry.IdentityRecord{SubjectID: subject}
	}

	rec, displayed := ParseBasic(ctx, doc)
	rec.SubjectID = subject
	if displayed != subject.String() {
		e.tel.ReportWarning(
			report_extractor_basic,
			fmt.Errorf("card shows registration number '%s', queried '%s'", displayed, subject),
		)
	}
	span.SetAttributes(attribute.Int("fields", rec.FieldCount()))
	e.tel.ReportDebug("basic card extracted", subject.String(), rec.FieldCount())
	return rec
}

func (e Extractor) ExtractGrades(ctx context.Context, page browser.Page) []registry.GradeRecord {
	ctx, span := tracer.Start(ctx, "extractor:ExtractGrades")
	defer span.End()

	doc := e.document(ctx, page, report_extractor_grades)
	if doc == nil {
		return []registry.GradeRecord{}
	}
	grades := ParseGrades(doc)
	span.SetAttributes(attribute.Int("rows", len(grades)))
	return grades
}
