// Package tradeportal drives the query form of the trade registry portal and
// reads the basic data and grade cards it shows.
package tradeportal

import (
	"context"
	"errors"
	"fmt"
	"time"
	"tradereg/lib/browser"
	"tradereg/lib/registry"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("platforms/tradeportal")

const QueryURL = "https://fbfh.trade.gov.tw/fb/web/queryBasicf.do"

var (
	ErrNoData         = errors.New("registry has no data for subject")
	ErrRetryExhausted = errors.New("query attempts exhausted")
	ErrPanelNotShown  = errors.New("panel did not become visible")
	ErrSessionLaunch  = errors.New("browser session could not be started")
)

// text the portal puts in its error banner when the number is unknown
const noDataMarker = "查無資料"

var (
	selIdentifierInput = browser.ID("q_BanNo")
	selCaptchaImage    = browser.ID("realPic")
	selCaptchaInput    = browser.ID("verifyCode")
	selSubmit          = browser.Name("querySubmit")
	selErrorBanner     = browser.CSS("div.alert-danger")
	selResults         = browser.ID("listContainer")
	selBasicTrigger    = browser.CSS(`a[href*="kdbase_showPopBasic"]`)
	selBasicCard       = browser.ID("popBasicCard")
	selGradeCard       = browser.ID("popGradeCard")
	selBackdrop        = browser.CSS(".modal-backdrop")
)

func gradeTrigger(id registry.SubjectID) browser.Selector {
	return browser.CSS(fmt.Sprintf(
		`#listContainer a.btn.btn-primary[href*="kdbase_showPopGrade('%s')"]`,
		id,
	))
}

func showGradeScript(id registry.SubjectID) string {
	return fmt.Sprintf("kdbase_showPopGrade('%s')", id)
}

// Timing holds every wait bound and fixed pause used against the portal.
type Timing struct {
	// Settle is the pause after every navigation or reload.
	Settle         time.Duration
	InputTimeout   time.Duration
	BannerTimeout  time.Duration
	ResultsTimeout time.Duration

	CardTimeout       time.Duration
	DismissTimeout    time.Duration
	DismissRetryPause time.Duration
	BackdropTimeout   time.Duration

	PanelStepTimeout     time.Duration
	PanelRetryPause      time.Duration
	PanelFallbackTimeout time.Duration
}

var DefaultTiming = Timing{
	Settle:         2 * time.Second,
	InputTimeout:   10 * time.Second,
	BannerTimeout:  5 * time.Second,
	ResultsTimeout: 10 * time.Second,

	CardTimeout:       10 * time.Second,
	DismissTimeout:    3 * time.Second,
	DismissRetryPause: time.Second,
	BackdropTimeout:   5 * time.Second,

	PanelStepTimeout:     15 * time.Second,
	PanelRetryPause:      3 * time.Second,
	PanelFallbackTimeout: 10 * time.Second,
}

type Options struct {
	QueryURL string `json:"query_url"`
	// MaxAttempts is the number of form submissions before giving up.
	MaxAttempts int `json:"max_attempts"`
	// PanelRetries is the number of extra rounds of the grade panel click
	// sequence before falling back to calling the page function.
	PanelRetries int    `json:"panel_retries"`
	Timing       Timing `json:"-"`
}

var DefaultOptions = Options{
	QueryURL:     QueryURL,
	MaxAttempts:  3,
	PanelRetries: 2,
	Timing:       DefaultTiming,
}

func (o Options) withDefaults() Options {
	if o.QueryURL == "" {
		o.QueryURL = DefaultOptions.QueryURL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultOptions.MaxAttempts
	}
	if o.PanelRetries < 0 {
		o.PanelRetries = 0
	}
	if o.Timing == (Timing{}) {
		o.Timing = DefaultTiming
	}
	return o
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
