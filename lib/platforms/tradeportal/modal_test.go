package tradeportal

import (
	"context"
	"testing"
	"tradereg/lib/browser"
	"tradereg/lib/browser/browsertest"

	"github.com/stretchr/testify/require"
)

func TestOpenBasicCard(t *testing.T) {
	page := browsertest.NewPage()
	page.SetWait(selBasicTrigger, browser.WaitMet)
	page.SetWait(selBasicCard, browser.WaitMet)

	err := OpenBasicCard(context.Background(), page, fastTiming)
	require.NoError(t, err)
	require.Equal(t, 1, page.Count("script-click "+selBasicTrigger.String()))
}

func TestOpenBasicCardNotShown(t *testing.T) {
	page := browsertest.NewPage()
	page.SetWait(selBasicTrigger, browser.WaitMet)

	err := OpenBasicCard(context.Background(), page, fastTiming)
	require.ErrorIs(t, err, ErrPanelNotShown)

	page = browsertest.NewPage()
	err = OpenBasicCard(context.Background(), page, fastTiming)
	require.Error(t, err)
	require.Zero(t, page.Count("script-click "+selBasicTrigger.String()))
}

func TestCloseModal(t *testing.T) {
	page := browsertest.NewPage()
	// the labelled close button is missing, the generic one works
	page.SetWait(dismissCandidates[1], browser.WaitMet)
	page.QueueWait(selBackdrop, browser.WaitTimeout, browser.WaitMet)

	require.True(t, CloseModal(context.Background(), page, fastTiming))
	require.Equal(t, 2, page.Count("script-click "+dismissCandidates[1].String()))
	require.Zero(t, page.Count("script-click "+dismissCandidates[2].String()))
}

func TestCloseModalGivesUp(t *testing.T) {
	page := browsertest.NewPage()

	require.False(t, CloseModal(context.Background(), page, fastTiming))
	require.Equal(t, closeRounds, page.Count("wait "+selBackdrop.String()+" invisible"))
}
