package fetcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"tradereg/lib/registry"

	"go.opentelemetry.io/otel/attribute"
)

const (
	report_batch_skipped = "batch.skipped"
	report_batch_panic   = "batch.panic"
	report_batch_pauses  = "batch.pauses"
)

// Summary tallies the reports of a batch.
type Summary struct {
	Reports []Report
	// Invalid holds the identifiers that failed validation, in input order.
	Invalid []string
	Pauses  int

	Success int
	Partial int
	Error   int
	Skipped int
}

func (s *Summary) add(report Report) {
	s.Reports = append(s.Reports, report)
	switch report.Status {
	case registry.STATUS_SUCCESS:
		s.Success++
	case registry.STATUS_PARTIAL:
		s.Partial++
	default:
		s.Error++
	}
}

func (s Summary) Total() int {
	return len(s.Reports) + s.Skipped
}

// safeFetch is FetchSubject with panics turned into an error report.
func (s Service) safeFetch(ctx context.Context, id registry.SubjectID) (report Report) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("fetch panicked: %v", r)
		trace := string(debug.Stack())
		s.tel.ReportBroken(report_batch_panic, id.String(), err, trace)

		report = Report{
			Subject: id,
			Status:  registry.STATUS_ERROR,
			Errors:  []string{err.Error()},
		}
		store := s.openRecordStore(ctx)
		defer s.closeStore(store)
		report.Persisted = s.recordFailure(ctx, store, id, err, trace, s.clock.Now())
	}()

	report, _ = s.FetchSubject(ctx, id)
	return report
}

// Batch fetches subjects one after another. Identifiers that fail
// validation are skipped, a failing subject never stops the batch. After
// every few subjects, but not after the last one, the batch pauses.
// Cancelling ctx stops the batch before its next subject.
func (s Service) Batch(ctx context.Context, ids []string) Summary {
	ctx, span := tracer.Start(ctx, "fetcher:Batch")
	defer span.End()

	var summary Summary
	var valid []registry.SubjectID
	for _, raw := range ids {
		id, err := registry.ParseSubjectID(raw)
		if err != nil {
			s.tel.ReportWarning(report_batch_skipped, raw, err)
			summary.Invalid = append(summary.Invalid, raw)
			summary.Skipped++
			continue
		}
		valid = append(valid, id)
	}
	span.SetAttributes(
		attribute.Int("subjects", len(valid)),
		attribute.Int("skipped", summary.Skipped),
	)

	for i, id := range valid {
		if ctx.Err() != nil {
			s.tel.ReportWarning(report_batch_skipped, "batch cancelled", len(valid)-i)
			break
		}

		s.tel.ReportDebug("fetching subject", id.String(), i+1, len(valid))
		summary.add(s.safeFetch(ctx, id))

		done := i + 1
		if done%s.every != 0 || done == len(valid) {
			continue
		}
		summary.Pauses++
		err := s.pacer.Pause(ctx)
		if err != nil {
			s.tel.ReportWarning(report_batch_skipped, "batch cancelled", len(valid)-done)
			break
		}
	}

	s.tel.ReportCount(report_batch_pauses, int64(summary.Pauses))
	return summary
}
