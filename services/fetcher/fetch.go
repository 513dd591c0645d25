package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"
	"tradereg/lib/platforms/tradeportal"
	"tradereg/lib/registry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_fetcher_store   = "store"
	report_fetcher_persist = "persist"
	report_fetcher_subject = "subject"
)

// Report is the outcome of one subject.
type Report struct {
	Subject registry.SubjectID
	Status  registry.Status
	Fields  int
	Grades  int
	Errors  []string
	// Persisted is false when the outcome could not be written.
	Persisted bool
	Duration  time.Duration
}

// Classify decides the final status of a subject from the failures of its
// two stages. Any failure with identity data at hand is partial.
func Classify(basicErr, gradeErr error, rec registry.IdentityRecord) registry.Status {
	if basicErr == nil && gradeErr == nil {
		return registry.STATUS_SUCCESS
	}
	if rec.HasIdentityData() {
		return registry.STATUS_PARTIAL
	}
	return registry.STATUS_ERROR
}

// terminal failures end the subject before any grade is read
func terminal(err error) bool {
	return errors.Is(err, tradeportal.ErrNoData) ||
		errors.Is(err, tradeportal.ErrRetryExhausted) ||
		errors.Is(err, tradeportal.ErrSessionLaunch)
}

func (s Service) openRecordStore(ctx context.Context) RecordStore {
	if s.openStore == nil {
		return nil
	}
	store, err := s.openStore(ctx)
	if err != nil {
		s.tel.ReportBroken(report_fetcher_store, fmt.Errorf("open store: %w", err))
		return nil
	}
	err = store.EnsureSchema(ctx)
	if err != nil {
		s.tel.ReportBroken(report_fetcher_store, fmt.Errorf("ensure schema: %w", err))
		store.Close()
		return nil
	}
	return store
}

func (s Service) closeStore(store RecordStore) {
	if store == nil {
		return
	}
	err := store.Close()
	if err != nil {
		s.tel.ReportWarning(report_fetcher_store, fmt.Errorf("close store: %w", err))
	}
}

// recordFailure logs the failure and marks the subject as failed, each in a
// transaction of its own. It reports whether both writes went through.
func (s Service) recordFailure(ctx context.Context, store RecordStore, id registry.SubjectID, err error, trace string, at time.Time) bool {
	if store == nil {
		return false
	}
	ok := true
	appendErr := store.AppendError(ctx, registry.ErrorEntry{
		SubjectID: id,
		Message:   err.Error(),
		Trace:     trace,
		At:        at,
	})
	if appendErr != nil {
		s.tel.ReportBroken(report_fetcher_persist, id.String(), appendErr)
		ok = false
	}
	markErr := store.MarkError(ctx, id, at)
	if markErr != nil {
		s.tel.ReportBroken(report_fetcher_persist, id.String(), markErr)
		ok = false
	}
	return ok
}

// FetchSubject runs the pipeline for one subject: the basic card on one
// session, then the grade card on another, then a single write of the
// outcome. The returned error joins every failure met on the way, the
// report is filled in either way.
func (s Service) FetchSubject(ctx context.Context, id registry.SubjectID) (report Report, err error) {
	ctx, span := tracer.Start(ctx, "fetcher:FetchSubject")
	defer span.End()
	span.SetAttributes(attribute.String("subject", id.String()))

	start := time.Now()
	report = Report{Subject: id}
	defer func() {
		report.Duration = time.Since(start)
		span.SetAttributes(attribute.String("status", string(report.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(report.Status))
		}
		recordSubject(ctx, report)
	}()

	store := s.openRecordStore(ctx)
	defer s.closeStore(store)

	fetchedAt := s.clock.Now()

	rec, basicErr := s.basic.Fetch(ctx, id)
	if terminal(basicErr) {
		s.tel.ReportWarning(report_fetcher_subject, id.String(), basicErr)
		report.Status = registry.STATUS_ERROR
		report.Errors = []string{basicErr.Error()}
		report.Persisted = s.recordFailure(ctx, store, id, basicErr, "", fetchedAt)
		return report, basicErr
	}
	if basicErr != nil {
		s.tel.ReportWarning(report_fetcher_subject, id.String(), basicErr)
	}

	grades, gradeErr := s.grades.Fetch(ctx, id)
	if gradeErr != nil {
		s.tel.ReportWarning(report_fetcher_subject, id.String(), gradeErr)
	}
	if grades == nil {
		grades = []registry.GradeRecord{}
	}

	rec.SubjectID = id
	rec.FetchedAt = fetchedAt
	rec.Status = Classify(basicErr, gradeErr, rec)

	report.Status = rec.Status
	report.Fields = rec.FieldCount()
	report.Grades = len(grades)

	var failures []error
	for _, stageErr := range []error{basicErr, gradeErr} {
		if stageErr == nil {
			continue
		}
		failures = append(failures, stageErr)
		report.Errors = append(report.Errors, stageErr.Error())
	}

	if store == nil {
		return report, errors.Join(failures...)
	}

	report.Persisted = true
	for _, failure := range failures {
		appendErr := store.AppendError(ctx, registry.ErrorEntry{
			SubjectID: id,
			Message:   failure.Error(),
			At:        fetchedAt,
		})
		if appendErr != nil {
			s.tel.ReportBroken(report_fetcher_persist, id.String(), appendErr)
			report.Persisted = false
		}
	}
	saveErr := store.SaveRecord(ctx, rec, grades)
	if saveErr != nil {
		s.tel.ReportBroken(report_fetcher_persist, id.String(), saveErr)
		report.Persisted = false
		failures = append(failures, fmt.Errorf("save record: %w", saveErr))
	}

	return report, errors.Join(failures...)
}
