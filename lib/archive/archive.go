// Package archive prints captured portal cards to PDF documents.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"path/filepath"
	"time"
	"tradereg/lib/browser"
	"tradereg/lib/registry"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/archive")

func init() {
	// pdfcpu would otherwise create a config directory under the user's home
	api.DisableConfigDir()
}

type Section string

const (
	SECTION_BASIC Section = "basic"
	SECTION_GRADE Section = "grade"
)

// Label is the section part of the document file name.
func (s Section) Label() string {
	switch s {
	case SECTION_BASIC:
		return "基本資料"
	case SECTION_GRADE:
		return "實績級距"
	}
	return string(s)
}

func (s Section) Title() string {
	switch s {
	case SECTION_BASIC:
		return "廠商基本資料"
	case SECTION_GRADE:
		return "廠商實績級距"
	}
	return string(s)
}

var shellTemplate = template.Must(template.New("shell").Parse(
	`<html><head><meta charset="UTF-8"><title>{{ .Title }}</title></head><body>{{ .Body }}</body></html>`,
))

func renderShell(title, fragment string) ([]byte, error) {
	var buf bytes.Buffer
	err := shellTemplate.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		// the fragment is markup captured from the portal page itself
		Body: template.HTML(fragment),
	})
	return buf.Bytes(), err
}

// FileName is the name of the document of one subject and section.
func FileName(id registry.SubjectID, section Section) string {
	return fmt.Sprintf("%s_%s.pdf", id, section.Label())
}

// Writer renders fragments through a browser page and writes them to Dir.
type Writer struct {
	Dir     string
	Options browser.PDFOptions
	// Stamp writes the subject, section and time into the PDF properties.
	Stamp bool
	Now   func() time.Time
}

func NewWriter(dir string, now func() time.Time) Writer {
	return Writer{
		Dir:     dir,
		Options: browser.DefaultPDFOptions,
		Stamp:   true,
		Now:     now,
	}
}

func stamp(pdf []byte, properties map[string]string) ([]byte, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed

	var out bytes.Buffer
	err := api.AddProperties(bytes.NewReader(pdf), &out, properties, cfg)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Save navigates page away from where it was, callers read everything they
// need from the page first.
func (w Writer) Save(ctx context.Context, page browser.Page, id registry.SubjectID, section Section, fragment string) (string, error) {
	ctx, span := tracer.Start(ctx, "writer:Save")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject", id.String()),
		attribute.String("section", string(section)),
	)

	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	err := os.MkdirAll(w.Dir, 0755)
	if err != nil {
		return fail(fmt.Errorf("create archive dir: %w", err))
	}

	shell, err := renderShell(section.Title(), fragment)
	if err != nil {
		return fail(fmt.Errorf("render %s shell: %w", section, err))
	}
	tmp, err := os.CreateTemp(w.Dir, "tmp_*.html")
	if err != nil {
		return fail(fmt.Errorf("create temp page: %w", err))
	}
	defer os.Remove(tmp.Name())
	_, err = tmp.Write(shell)
	closeErr := tmp.Close()
	if err != nil {
		return fail(fmt.Errorf("write temp page: %w", err))
	}
	if closeErr != nil {
		return fail(fmt.Errorf("write temp page: %w", closeErr))
	}

	abs, err := filepath.Abs(tmp.Name())
	if err != nil {
		return fail(err)
	}
	fileURL := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	err = page.Navigate(ctx, fileURL.String())
	if err != nil {
		return fail(fmt.Errorf("open temp page: %w", err))
	}

	pdf, err := page.PrintPDF(ctx, w.Options)
	if err != nil {
		return fail(err)
	}

	if w.Stamp {
		now := time.Now()
		if w.Now != nil {
			now = w.Now()
		}
		pdf, err = stamp(pdf, map[string]string{
			"Subject":   id.String(),
			"Section":   section.Title(),
			"FetchedAt": now.Format(time.RFC3339),
		})
		if err != nil {
			return fail(fmt.Errorf("stamp pdf properties: %w", err))
		}
	}

	out := filepath.Join(w.Dir, FileName(id, section))
	err = os.WriteFile(out, pdf, 0644)
	if err != nil {
		return fail(fmt.Errorf("write %s: %w", out, err))
	}
	span.SetAttributes(attribute.String("path", out))
	return out, nil
}
