package registry

import "time"

type Status string

const (
	STATUS_SUCCESS Status = "success"
	STATUS_PARTIAL Status = "partial"
	STATUS_ERROR   Status = "error"
)

// IdentityRecord is the basic data card of a company. Every text field is
// an empty string when it could not be read from the page.
type IdentityRecord struct {
	SubjectID SubjectID

	IssueDate        string
	RegistrationDate string
	NameZh           string
	NameEn           string
	AddressZh        string
	AddressEn        string
	Representative   string
	Tel1             string
	Tel2             string
	Fax              string
	OldNameZh        string
	OldNameEn        string
	Website          string
	Email            string

	ImportQualification string
	ExportQualification string
	ImportItemsZh       string
	ImportItemsEn       string
	ExportItemsZh       string
	ExportItemsEn       string

	FetchedAt time.Time
	Status    Status
}

func (r IdentityRecord) textFields() []string {
	return []string{
		r.IssueDate, r.RegistrationDate,
		r.NameZh, r.NameEn, r.AddressZh, r.AddressEn,
		r.Representative, r.Tel1, r.Tel2, r.Fax,
		r.OldNameZh, r.OldNameEn, r.Website, r.Email,
		r.ImportQualification, r.ExportQualification,
		r.ImportItemsZh, r.ImportItemsEn, r.ExportItemsZh, r.ExportItemsEn,
	}
}

// HasIdentityData reports whether at least one text field was extracted.
func (r IdentityRecord) HasIdentityData() bool {
	for _, f := range r.textFields() {
		if f != "" {
			return true
		}
	}
	return false
}

// FieldCount is the number of non-empty text fields.
func (r IdentityRecord) FieldCount() int {
	n := 0
	for _, f := range r.textFields() {
		if f != "" {
			n++
		}
	}
	return n
}

// GradeRecord is one period of the import/export performance grade table.
type GradeRecord struct {
	// Period is "<local calendar token>/<foreign calendar token>"
	Period      string
	LocalYear   string
	ForeignYear string
	ImportGrade string
	ExportGrade string
}

type ErrorEntry struct {
	SubjectID SubjectID
	Message   string
	Trace     string
	At        time.Time
}
