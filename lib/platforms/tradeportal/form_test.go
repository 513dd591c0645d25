package tradeportal

import (
	"context"
	"errors"
	"testing"
	"time"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/browser"
	"tradereg/lib/browser/browsertest"
	"tradereg/lib/captcha"
	"tradereg/lib/ocr"

	"github.com/stretchr/testify/require"
)

const testSubject = "22099131"

var fastTiming = Timing{
	InputTimeout:         time.Millisecond,
	BannerTimeout:        time.Millisecond,
	ResultsTimeout:       time.Millisecond,
	CardTimeout:          time.Millisecond,
	DismissTimeout:       time.Millisecond,
	BackdropTimeout:      time.Millisecond,
	PanelStepTimeout:     time.Millisecond,
	PanelFallbackTimeout: time.Millisecond,
}

var testOptions = Options{
	QueryURL:     QueryURL,
	MaxAttempts:  3,
	PanelRetries: 2,
	Timing:       fastTiming,
}

func testSolver() captcha.Solver {
	return captcha.NewSolver(ocr.RecognizerFunc(func(ctx context.Context, image []byte) (string, error) {
		return "1234", nil
	}), 3, 4)
}

// queryPage is a page whose form is interactable and that shows results
// after every submission.
func queryPage() *browsertest.Page {
	page := browsertest.NewPage()
	page.SetWait(selIdentifierInput, browser.WaitMet)
	page.SetWait(selResults, browser.WaitMet)
	return page
}

func TestSubmitSuccess(t *testing.T) {
	page := queryPage()
	form := NewFormSession(page, testSolver(), testOptions, telemetry.NewMemoryAPI())

	result := form.Submit(context.Background(), testSubject)
	require.Equal(t, OUTCOME_SUCCESS, result.Outcome)
	require.Equal(t, 1, result.Attempts)
	require.NoError(t, result.Err())

	require.Equal(t, []string{QueryURL}, page.Navigated)
	require.Equal(t, []string{testSubject}, page.Filled[selIdentifierInput.String()])
	require.Equal(t, []string{"1234"}, page.Filled[selCaptchaInput.String()])
	require.Equal(t, 1, page.Count("click "+selSubmit.String()))
}

func TestSubmitRetryCeiling(t *testing.T) {
	page := browsertest.NewPage()
	page.SetWait(selIdentifierInput, browser.WaitMet)
	tel := telemetry.NewMemoryAPI()
	form := NewFormSession(page, testSolver(), testOptions, tel)

	result := form.Submit(context.Background(), testSubject)
	require.Equal(t, OUTCOME_RETRY_EXHAUSTED, result.Outcome)
	require.Equal(t, 3, result.Attempts)
	require.ErrorIs(t, result.Err(), ErrRetryExhausted)

	require.Equal(t, 1, page.Count("navigate"))
	require.Equal(t, 2, page.Count("reload"))
	require.Equal(t, 3, page.Count("click "+selSubmit.String()))
	require.Len(t, page.Filled[selIdentifierInput.String()], 3, "every attempt refills the id")
	require.Len(t, tel.Find(telemetry.REPORT_WARNING, report_form_submit), 1)
}

func TestSubmitCustomCeiling(t *testing.T) {
	page := browsertest.NewPage()
	page.SetWait(selIdentifierInput, browser.WaitMet)
	opts := testOptions
	opts.MaxAttempts = 5

	result := NewFormSession(page, testSolver(), opts, telemetry.NewMemoryAPI()).
		Submit(context.Background(), testSubject)
	require.Equal(t, OUTCOME_RETRY_EXHAUSTED, result.Outcome)
	require.Equal(t, 5, result.Attempts)
	require.Equal(t, 5, page.Count("screenshot "+selCaptchaImage.String()))
}

func TestSubmitNoData(t *testing.T) {
	page := queryPage()
	page.SetWait(selErrorBanner, browser.WaitMet)
	page.Texts[selErrorBanner.String()] = " 查無資料 "
	form := NewFormSession(page, testSolver(), testOptions, telemetry.NewMemoryAPI())

	result := form.Submit(context.Background(), testSubject)
	require.Equal(t, OUTCOME_NO_DATA, result.Outcome)
	require.Equal(t, 1, result.Attempts)
	require.ErrorIs(t, result.Err(), ErrNoData)
	require.Zero(t, page.Count("reload"), "no data is terminal")
}

func TestSubmitWrongCaptchaThenSuccess(t *testing.T) {
	page := queryPage()
	page.QueueWait(selErrorBanner, browser.WaitMet)
	page.Texts[selErrorBanner.String()] = "驗證碼錯誤"
	form := NewFormSession(page, testSolver(), testOptions, telemetry.NewMemoryAPI())

	result := form.Submit(context.Background(), testSubject)
	require.Equal(t, OUTCOME_SUCCESS, result.Outcome)
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, 1, page.Count("reload"))
	require.Equal(t, []string{testSubject, testSubject}, page.Filled[selIdentifierInput.String()])
}

func TestSubmitInputTimeoutRetries(t *testing.T) {
	page := queryPage()
	page.QueueWait(selIdentifierInput, browser.WaitTimeout)
	page.ReloadErr = errors.New("target closed")
	form := NewFormSession(page, testSolver(), testOptions, telemetry.NewMemoryAPI())

	result := form.Submit(context.Background(), testSubject)
	require.Equal(t, OUTCOME_SUCCESS, result.Outcome)
	require.Equal(t, 2, result.Attempts)
	// the failed reload falls back to navigating
	require.Equal(t, []string{QueryURL, QueryURL}, page.Navigated)
	require.Equal(t, 1, page.Count("screenshot "+selCaptchaImage.String()))
}

func TestSubmitCancelled(t *testing.T) {
	page := queryPage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewFormSession(page, testSolver(), testOptions, telemetry.NewMemoryAPI()).Submit(ctx, testSubject)
	require.Equal(t, OUTCOME_RETRY_EXHAUSTED, result.Outcome)
	require.Zero(t, result.Attempts)
	require.Empty(t, page.Navigated)
}
