package tradeportal

import (
	"context"
	"fmt"
	"tradereg/internal/components/assert"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/archive"
	"tradereg/lib/browser"
	"tradereg/lib/captcha"
	"tradereg/lib/registry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_basic_fetch   = "basic.fetch"
	report_card_capture  = "card.capture"
	report_session_close = "session.close"
)

// BasicFetcher queries the portal and reads the basic data card, every call
// runs on a session of its own that is closed before it returns.
type BasicFetcher struct {
	launcher  browser.Launcher
	solver    captcha.Solver
	archiver  Archiver
	opts      Options
	baseTel   telemetry.API
	tel       telemetry.API
	extractor Extractor
}

// NewBasicFetcher creates a BasicFetcher, archiver may be nil.
func NewBasicFetcher(
	launcher browser.Launcher,
	solver captcha.Solver,
	archiver Archiver,
	opts Options,
	tel telemetry.API,
) BasicFetcher {
	assert.NotNil(launcher, "launcher")
	assert.NotNil(tel, "telemetry")
	return BasicFetcher{
		launcher:  launcher,
		solver:    solver,
		archiver:  archiver,
		opts:      opts.withDefaults(),
		baseTel:   tel,
		tel:       telemetry.NewScopedAPI("tradeportal", tel),
		extractor: NewExtractor(tel),
	}
}

// Fetch returns the identity record of a subject. The record always carries
// the subject id, its other fields are whatever could be read.
//
// A query that ends without results fails with ErrNoData or
// ErrRetryExhausted, a browser that cannot start with ErrSessionLaunch.
func (b BasicFetcher) Fetch(ctx context.Context, id registry.SubjectID) (registry.IdentityRecord, error) {
	ctx, span := tracer.Start(ctx, "basic:Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("subject", id.String()))

	rec := registry.IdentityRecord{SubjectID: id}
	fail := func(err error) (registry.IdentityRecord, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, err
	}

	page, err := b.launcher.Launch(ctx)
	if err != nil {
		return fail(fmt.Errorf("%w: primary session: %w", ErrSessionLaunch, err))
	}
	defer closeSession(page, b.tel)

	result := NewFormSession(page, b.solver, b.opts, b.baseTel).Submit(ctx, id)
	span.SetAttributes(attribute.Int("attempts", result.Attempts))
	if result.Outcome != OUTCOME_SUCCESS {
		return fail(result.Err())
	}

	err = OpenBasicCard(ctx, page, b.opts.Timing)
	if err != nil {
		b.tel.ReportWarning(report_basic_fetch, id.String(), err)
		return fail(err)
	}

	rec = b.extractor.ExtractBasic(ctx, page, id)
	span.SetAttributes(attribute.Int("fields", rec.FieldCount()))

	captureCard(ctx, page, b.archiver, b.tel, id, archive.SECTION_BASIC, selBasicCard, b.opts.Timing)
	return rec, nil
}

func closeSession(page browser.Page, tel telemetry.API) {
	err := page.Close()
	if err != nil {
		tel.ReportWarning(report_session_close, err)
	}
}

// captureCard closes the card that is showing and archives its markup.
// Archiving navigates the page away, so it happens last. Nothing here fails
// the fetch.
func captureCard(
	ctx context.Context,
	page browser.Page,
	archiver Archiver,
	tel telemetry.API,
	id registry.SubjectID,
	section archive.Section,
	card browser.Selector,
	timing Timing,
) {
	fragment, err := page.OuterHTML(ctx, card)
	if err != nil {
		tel.ReportWarning(report_card_capture, id.String(), section, fmt.Errorf("capture card: %w", err))
	}
	if !CloseModal(ctx, page, timing) {
		tel.ReportWarning(report_card_capture, id.String(), section, fmt.Errorf("card did not close"))
	}
	if archiver == nil || fragment == "" {
		return
	}
	path, err := archiver.Save(ctx, page, id, section, fragment)
	if err != nil {
		tel.ReportWarning(report_card_capture, id.String(), section, fmt.Errorf("archive card: %w", err))
		return
	}
	tel.ReportDebug("card archived", id.String(), section, path)
}
