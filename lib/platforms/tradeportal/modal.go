package tradeportal

import (
	"context"
	"fmt"
	"tradereg/lib/browser"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// tried in order, the first one that can be clicked wins
var dismissCandidates = []browser.Selector{
	browser.XPath(`//button[@data-dismiss='modal' and contains(., '關閉視窗')]`),
	browser.XPath(`//button[@data-dismiss='modal']`),
	browser.XPath(`//button[@aria-label='Close']`),
	browser.XPath(`//*[contains(text(),'×')]`),
}

const closeRounds = 3

// OpenBasicCard opens the basic data card from the results list.
func OpenBasicCard(ctx context.Context, page browser.Page, timing Timing) error {
	ctx, span := tracer.Start(ctx, "modal:OpenBasicCard")
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	wait := page.WaitFor(ctx, selBasicTrigger, browser.Interactable, timing.CardTimeout)
	if wait != browser.WaitMet {
		return fail(fmt.Errorf("basic card link not interactable (%s)", wait))
	}
	// the results list overlays its own links, so the click is scripted
	err := page.ScriptClick(ctx, selBasicTrigger)
	if err != nil {
		return fail(fmt.Errorf("open basic card: %w", err))
	}
	wait = page.WaitFor(ctx, selBasicCard, browser.Visible, timing.CardTimeout)
	if wait != browser.WaitMet {
		return fail(fmt.Errorf("%w: basic card (%s)", ErrPanelNotShown, wait))
	}
	return nil
}

// CloseModal dismisses whatever modal is open and waits for its backdrop to
// go away. It reports whether the backdrop is gone.
func CloseModal(ctx context.Context, page browser.Page, timing Timing) bool {
	ctx, span := tracer.Start(ctx, "modal:CloseModal")
	defer span.End()

	for round := 1; round <= closeRounds; round++ {
		for _, candidate := range dismissCandidates {
			if page.WaitFor(ctx, candidate, browser.Interactable, timing.DismissTimeout) != browser.WaitMet {
				continue
			}
			if page.ScriptClick(ctx, candidate) == nil {
				span.AddEvent("dismissed with " + candidate.String())
				break
			}
		}

		if page.WaitFor(ctx, selBackdrop, browser.Invisible, timing.BackdropTimeout) == browser.WaitMet {
			span.SetAttributes(attribute.Int("rounds", round))
			return true
		}
		if round < closeRounds && pause(ctx, timing.DismissRetryPause) != nil {
			break
		}
	}
	span.SetStatus(codes.Error, "modal still open")
	return false
}
