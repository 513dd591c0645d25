package tradeportal

import (
	"context"
	"fmt"
	"strings"
	"tradereg/internal/components/assert"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/browser"
	"tradereg/lib/captcha"
	"tradereg/lib/registry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_form_submit  = "form.submit"
	report_form_attempt = "form.attempt"
)

type Outcome int

const (
	OUTCOME_SUCCESS Outcome = iota
	OUTCOME_NO_DATA
	OUTCOME_RETRY_EXHAUSTED
)

func (o Outcome) String() string {
	switch o {
	case OUTCOME_SUCCESS:
		return "success"
	case OUTCOME_NO_DATA:
		return "no_data"
	case OUTCOME_RETRY_EXHAUSTED:
		return "retry_exhausted"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type SubmitResult struct {
	Outcome  Outcome
	Attempts int
	// Reason describes why the last attempt did not succeed.
	Reason string
}

// Err is nil on success and wraps ErrNoData or ErrRetryExhausted otherwise.
func (r SubmitResult) Err() error {
	switch r.Outcome {
	case OUTCOME_NO_DATA:
		return ErrNoData
	case OUTCOME_RETRY_EXHAUSTED:
		return fmt.Errorf("%w after %d attempts: %s", ErrRetryExhausted, r.Attempts, r.Reason)
	}
	return nil
}

// FormSession submits the query form on one page until the portal shows
// results, answers that it has no data, or the attempt budget runs out.
type FormSession struct {
	page   browser.Page
	solver captcha.Solver
	opts   Options
	tel    telemetry.API
}

func NewFormSession(page browser.Page, solver captcha.Solver, opts Options, tel telemetry.API) FormSession {
	assert.NotNil(page, "page")
	assert.NotNil(tel, "telemetry")
	return FormSession{
		page:   page,
		solver: solver,
		opts:   opts.withDefaults(),
		tel:    telemetry.NewScopedAPI("tradeportal", tel),
	}
}

type verdict int

const (
	verdict_retry verdict = iota
	verdict_success
	verdict_no_data
)

func (f FormSession) Submit(ctx context.Context, id registry.SubjectID) SubmitResult {
	ctx, span := tracer.Start(ctx, "form:Submit")
	defer span.End()
	span.SetAttributes(attribute.String("subject", id.String()))

	result := SubmitResult{Outcome: OUTCOME_RETRY_EXHAUSTED}
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Reason = err.Error()
			break
		}
		result.Attempts = attempt

		v, reason := f.attempt(ctx, id, attempt)
		switch v {
		case verdict_success:
			result.Outcome = OUTCOME_SUCCESS
			result.Reason = ""
		case verdict_no_data:
			result.Outcome = OUTCOME_NO_DATA
			result.Reason = reason
		default:
			result.Reason = reason
			f.tel.ReportDebug(
				"query attempt needs retry",
				id.String(),
				fmt.Sprintf("attempt %d/%d", attempt, f.opts.MaxAttempts),
				reason,
			)
			continue
		}
		break
	}

	span.SetAttributes(
		attribute.String("outcome", result.Outcome.String()),
		attribute.Int("attempts", result.Attempts),
	)
	if result.Outcome == OUTCOME_RETRY_EXHAUSTED {
		err := result.Err()
		f.tel.ReportWarning(report_form_submit, err, id.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "query attempts exhausted")
	}
	return result
}

// load brings the form up fresh, a retry reloads so the portal issues a new
// captcha and forgets the rejected submission.
func (f FormSession) load(ctx context.Context, attempt int) error {
	if attempt > 1 {
		err := f.page.Reload(ctx)
		if err == nil {
			return nil
		}
		f.tel.ReportWarning(report_form_attempt, fmt.Errorf("reload, navigating instead: %w", err))
	}
	return f.page.Navigate(ctx, f.opts.QueryURL)
}

func (f FormSession) attempt(ctx context.Context, id registry.SubjectID, attempt int) (verdict, string) {
	ctx, span := tracer.Start(ctx, "form:attempt")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", attempt))

	err := f.load(ctx, attempt)
	if err != nil {
		return verdict_retry, fmt.Sprintf("load query page: %v", err)
	}
	if err := pause(ctx, f.opts.Timing.Settle); err != nil {
		return verdict_retry, err.Error()
	}

	wait := f.page.WaitFor(ctx, selIdentifierInput, browser.Interactable, f.opts.Timing.InputTimeout)
	if wait != browser.WaitMet {
		return verdict_retry, fmt.Sprintf("identifier input not interactable (%s)", wait)
	}
	err = f.page.Fill(ctx, selIdentifierInput, id.String())
	if err != nil {
		return verdict_retry, err.Error()
	}

	image, err := f.page.Screenshot(ctx, selCaptchaImage)
	if err != nil {
		return verdict_retry, fmt.Sprintf("capture captcha: %v", err)
	}
	code := f.solver.Solve(ctx, image)
	f.tel.ReportDebug("captcha solved", id.String(), attempt, code)

	err = f.page.Fill(ctx, selCaptchaInput, code)
	if err != nil {
		return verdict_retry, err.Error()
	}
	err = f.page.Click(ctx, selSubmit)
	if err != nil {
		return verdict_retry, fmt.Sprintf("submit: %v", err)
	}

	return f.classify(ctx)
}

func (f FormSession) classify(ctx context.Context) (verdict, string) {
	if f.page.WaitFor(ctx, selErrorBanner, browser.Present, f.opts.Timing.BannerTimeout) == browser.WaitMet {
		text, err := f.page.Text(ctx, selErrorBanner)
		if err != nil {
			f.tel.ReportWarning(report_form_attempt, fmt.Errorf("read error banner: %w", err))
		}
		text = strings.TrimSpace(text)
		if strings.Contains(text, noDataMarker) {
			return verdict_no_data, text
		}
		return verdict_retry, fmt.Sprintf("portal rejected query: %s", text)
	}

	if f.page.WaitFor(ctx, selResults, browser.Present, f.opts.Timing.ResultsTimeout) == browser.WaitMet {
		return verdict_success, ""
	}
	return verdict_retry, "neither results nor an error banner appeared"
}
