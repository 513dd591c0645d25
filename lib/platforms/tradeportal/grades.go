package tradeportal

import (
	"context"
	"fmt"
	"runtime/debug"
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
	report_grades_fetch      = "grades.fetch"
	report_grades_show_panel = "grades.show-panel"
)

// Archiver keeps a printable copy of a captured card.
type Archiver interface {
	Save(ctx context.Context, page browser.Page, id registry.SubjectID, section archive.Section, fragment string) (string, error)
}

// GradeFetcher reads the grade card on a session of its own. The grade card
// needs a second query round, and a session that already opened the basic
// card carries modal state that gets in the way.
type GradeFetcher struct {
	launcher  browser.Launcher
	solver    captcha.Solver
	archiver  Archiver
	opts      Options
	baseTel   telemetry.API
	tel       telemetry.API
	extractor Extractor
}

// NewGradeFetcher creates a GradeFetcher, archiver may be nil.
func NewGradeFetcher(
	launcher browser.Launcher,
	solver captcha.Solver,
	archiver Archiver,
	opts Options,
	tel telemetry.API,
) GradeFetcher {
	assert.NotNil(launcher, "launcher")
	assert.NotNil(tel, "telemetry")
	return GradeFetcher{
		launcher:  launcher,
		solver:    solver,
		archiver:  archiver,
		opts:      opts.withDefaults(),
		baseTel:   tel,
		tel:       telemetry.NewScopedAPI("tradeportal", tel),
		extractor: NewExtractor(tel),
	}
}

// Fetch returns the grade rows of a subject. Every failure, panics included,
// comes back as an empty list and an error.
func (g GradeFetcher) Fetch(ctx context.Context, id registry.SubjectID) (grades []registry.GradeRecord, err error) {
	ctx, span := tracer.Start(ctx, "grades:Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("subject", id.String()))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("grade fetch panicked: %v", r)
			grades = []registry.GradeRecord{}
			g.tel.ReportBroken(report_grades_fetch, err, string(debug.Stack()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	page, err := g.launcher.Launch(ctx)
	if err != nil {
		return []registry.GradeRecord{}, fmt.Errorf("%w: grade session: %w", ErrSessionLaunch, err)
	}
	defer closeSession(page, g.tel)

	result := NewFormSession(page, g.solver, g.opts, g.baseTel).Submit(ctx, id)
	if result.Outcome != OUTCOME_SUCCESS {
		return []registry.GradeRecord{}, fmt.Errorf("grade session query: %w", result.Err())
	}

	err = g.showPanel(ctx, page, id)
	if err != nil {
		return []registry.GradeRecord{}, err
	}

	grades = g.extractor.ExtractGrades(ctx, page)
	span.SetAttributes(attribute.Int("rows", len(grades)))

	captureCard(ctx, page, g.archiver, g.tel, id, archive.SECTION_GRADE, selGradeCard, g.opts.Timing)
	return grades, nil
}

// showPanel clicks through to the grade card, retrying the whole click
// sequence and finally calling the page function that the link runs.
func (g GradeFetcher) showPanel(ctx context.Context, page browser.Page, id registry.SubjectID) error {
	ctx, span := tracer.Start(ctx, "grades:showPanel")
	defer span.End()

	var lastErr error
	for round := 0; round <= g.opts.PanelRetries; round++ {
		lastErr = g.clickGradeTrigger(ctx, page, id)
		if lastErr == nil {
			span.SetAttributes(attribute.Int("rounds", round+1))
			return nil
		}
		g.tel.ReportDebug("grade card click sequence failed", id.String(), round+1, lastErr)
		if round < g.opts.PanelRetries {
			err := pause(ctx, g.opts.Timing.PanelRetryPause)
			if err != nil {
				return err
			}
		}
	}

	g.tel.ReportWarning(
		report_grades_show_panel,
		fmt.Errorf("click sequence failed, calling page function: %w", lastErr),
	)
	span.AddEvent("page function fallback")
	err := page.Eval(ctx, showGradeScript(id))
	if err != nil {
		return fmt.Errorf("%w: grade card: %v", ErrPanelNotShown, err)
	}
	wait := page.WaitFor(ctx, selGradeCard, browser.Visible, g.opts.Timing.PanelFallbackTimeout)
	if wait != browser.WaitMet {
		return fmt.Errorf("%w: grade card (%s)", ErrPanelNotShown, wait)
	}
	return nil
}

func (g GradeFetcher) clickGradeTrigger(ctx context.Context, page browser.Page, id registry.SubjectID) error {
	timeout := g.opts.Timing.PanelStepTimeout

	wait := page.WaitFor(ctx, selBackdrop, browser.Invisible, timeout)
	if wait != browser.WaitMet {
		return fmt.Errorf("modal backdrop still shown (%s)", wait)
	}
	wait = page.WaitFor(ctx, selResults, browser.Visible, timeout)
	if wait != browser.WaitMet {
		return fmt.Errorf("results list not visible (%s)", wait)
	}

	trigger := gradeTrigger(id)
	wait = page.WaitFor(ctx, trigger, browser.Interactable, timeout)
	if wait != browser.WaitMet {
		return fmt.Errorf("grade link not interactable (%s)", wait)
	}
	err := page.Click(ctx, trigger)
	if err != nil {
		g.tel.ReportDebug("grade link click intercepted, using script click", err)
		err = page.ScriptClick(ctx, trigger)
		if err != nil {
			return fmt.Errorf("click grade link: %w", err)
		}
	}

	wait = page.WaitFor(ctx, selGradeCard, browser.Visible, timeout)
	if wait != browser.WaitMet {
		return fmt.Errorf("%w: grade card (%s)", ErrPanelNotShown, wait)
	}
	return nil
}
