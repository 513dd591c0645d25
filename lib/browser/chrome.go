package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/browser")

type ChromeConfig struct {
	// Headed shows the browser window, chrome runs headless otherwise.
	Headed bool `json:"headed"`
	// ExecPath is probed from ChromePaths when empty.
	ExecPath               string  `json:"exec_path"`
	WindowWidth            int     `json:"window_width"`
	WindowHeight           int     `json:"window_height"`
	PageLoadTimeoutSeconds float64 `json:"page_load_timeout_seconds"`
	// OperationTimeoutSeconds bounds single element actions (click, fill,
	// screenshot...), waits carry their own timeouts.
	OperationTimeoutSeconds float64 `json:"operation_timeout_seconds"`
	// Display is the X display a headed chrome is shown on, ex. ":99" for
	// an Xvfb server.
	Display string `json:"display"`
}

var DefaultChromeConfig = ChromeConfig{
	WindowWidth:             1920,
	WindowHeight:            1080,
	PageLoadTimeoutSeconds:  30,
	OperationTimeoutSeconds: 10,
}

var ChromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/opt/google/chrome/chrome",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
}

// FindChrome returns the first existing path in ChromePaths or "".
func FindChrome() string {
	for _, p := range ChromePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func seconds(v float64, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v * float64(time.Second))
}

// ChromeLauncher starts a fresh chrome process for every session, so no
// cookies, dialogs or modal state leak between sessions.
type ChromeLauncher struct {
	cfg ChromeConfig
}

func NewChromeLauncher(cfg ChromeConfig) ChromeLauncher {
	return ChromeLauncher{cfg: cfg}
}

func (l ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	ctx, span := tracer.Start(ctx, "chrome:Launch")
	defer span.End()

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !l.cfg.Headed {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
		if l.cfg.Display != "" {
			opts = append(opts, chromedp.Env("DISPLAY="+l.cfg.Display))
		}
	}
	width, height := l.cfg.WindowWidth, l.cfg.WindowHeight
	if width <= 0 || height <= 0 {
		width, height = DefaultChromeConfig.WindowWidth, DefaultChromeConfig.WindowHeight
	}
	opts = append(
		opts,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(width, height),
	)

	execPath := l.cfg.ExecPath
	if execPath == "" {
		execPath = FindChrome()
	}
	if execPath != "" {
		slog.DebugContext(ctx, "using chrome binary", "path", execPath)
		opts = append(opts, chromedp.ExecPath(execPath))
	}

	// the session outlives the launching context, it ends with Close
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	abort := func() {
		cancelTab()
		cancelAlloc()
	}

	startTimeout := seconds(l.cfg.PageLoadTimeoutSeconds, 30*time.Second)
	err := startWithin(ctx, startTimeout, abort, func() error {
		// chrome lives as long as the context of the first run
		return chromedp.Run(tabCtx)
	})
	if err != nil {
		abort()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start chrome")
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &chromePage{
		tab:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		loadTimeout: seconds(l.cfg.PageLoadTimeoutSeconds, 30*time.Second),
		opTimeout:   seconds(l.cfg.OperationTimeoutSeconds, 10*time.Second),
	}, nil
}

// startWithin runs start, calling abort if it outlasts timeout or ctx is
// cancelled first. A start that returns after abort has run fails even when
// start itself reports no error.
func startWithin(ctx context.Context, timeout time.Duration, abort func(), start func() error) error {
	timer := time.AfterFunc(timeout, abort)
	stopOnCancel := context.AfterFunc(ctx, abort)

	err := start()

	timedOut := !timer.Stop()
	cancelled := !stopOnCancel()
	switch {
	case timedOut:
		return errors.Join(context.DeadlineExceeded, err)
	case cancelled:
		return errors.Join(context.Cause(ctx), err)
	}
	return err
}

type chromePage struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	loadTimeout time.Duration
	opTimeout   time.Duration
}

// run executes actions on the tab, bounded by timeout and cancelled together
// with ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func queryOptions(sel Selector) (string, []chromedp.QueryOption) {
	switch sel.By {
	case ByID:
		return sel.Value, []chromedp.QueryOption{chromedp.ByID}
	case ByXPath:
		return sel.Value, []chromedp.QueryOption{chromedp.BySearch}
	case ByName:
		return fmt.Sprintf(`[name=%q]`, sel.Value), []chromedp.QueryOption{chromedp.ByQuery}
	default:
		return sel.Value, []chromedp.QueryOption{chromedp.ByQuery}
	}
}

func with(opts []chromedp.QueryOption, extra ...chromedp.QueryOption) []chromedp.QueryOption {
	out := make([]chromedp.QueryOption, 0, len(opts)+len(extra))
	out = append(out, opts...)
	return append(out, extra...)
}

func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

// jsElements is a javascript expression evaluating to the array of elements
// matching sel.
func jsElements(sel Selector) string {
	switch sel.By {
	case ByID:
		return fmt.Sprintf(`[document.getElementById(%s)].filter(Boolean)`, jsString(sel.Value))
	case ByName:
		return fmt.Sprintf(`Array.from(document.getElementsByName(%s))`, jsString(sel.Value))
	case ByXPath:
		return fmt.Sprintf(
			`(() => { const r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null); const out = []; for (let i = 0; i < r.snapshotLength; i++) { out.push(r.snapshotItem(i)); } return out; })()`,
			jsString(sel.Value),
		)
	default:
		return fmt.Sprintf(`Array.from(document.querySelectorAll(%s))`, jsString(sel.Value))
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	ctx, span := tracer.Start(ctx, "chrome:Navigate")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	err := p.run(ctx, p.loadTimeout, chromedp.Navigate(url))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to navigate")
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) Reload(ctx context.Context) error {
	err := p.run(ctx, p.loadTimeout, chromedp.Reload())
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

const invisibleTemplate = `(() => {
	for (const e of %s) {
		if (e.getClientRects().length > 0 && getComputedStyle(e).visibility !== "hidden") {
			return false;
		}
	}
	return true;
})()`

// waitResult maps the error of a bounded wait to its outcome. Running out of
// the wait's own time is a timeout, anything else, including the caller
// giving up, means the wait failed.
func waitResult(ctx context.Context, err error) WaitResult {
	switch {
	case err == nil:
		return WaitMet
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return WaitTimeout
	default:
		return WaitFailed
	}
}

func (p *chromePage) WaitFor(ctx context.Context, sel Selector, cond Condition, timeout time.Duration) WaitResult {
	ctx, span := tracer.Start(ctx, "chrome:WaitFor")
	defer span.End()
	span.SetAttributes(
		attribute.String("selector", sel.String()),
		attribute.String("condition", cond.String()),
	)

	query, opts := queryOptions(sel)
	var actions []chromedp.Action
	switch cond {
	case Present:
		actions = []chromedp.Action{chromedp.WaitReady(query, opts...)}
	case Visible:
		actions = []chromedp.Action{chromedp.WaitVisible(query, opts...)}
	case Interactable:
		actions = []chromedp.Action{
			chromedp.WaitVisible(query, opts...),
			chromedp.WaitEnabled(query, opts...),
		}
	case Invisible:
		var hidden bool
		actions = []chromedp.Action{chromedp.Poll(
			fmt.Sprintf(invisibleTemplate, jsElements(sel)),
			&hidden,
			chromedp.WithPollingInterval(200*time.Millisecond),
		)}
	}

	err := p.run(ctx, timeout, actions...)
	result := waitResult(ctx, err)
	if result == WaitFailed {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("result", result.String()))
	return result
}

func (p *chromePage) Exists(ctx context.Context, sel Selector) bool {
	var count int
	err := p.run(ctx, p.opTimeout, chromedp.Evaluate(fmt.Sprintf(`(%s).length`, jsElements(sel)), &count))
	return err == nil && count > 0
}

func (p *chromePage) Text(ctx context.Context, sel Selector) (string, error) {
	query, opts := queryOptions(sel)
	var text string
	err := p.run(ctx, p.opTimeout, chromedp.Text(query, &text, opts...))
	if err != nil {
		return "", fmt.Errorf("text of %s: %w", sel, err)
	}
	return text, nil
}

func (p *chromePage) Fill(ctx context.Context, sel Selector, value string) error {
	query, opts := queryOptions(sel)
	err := p.run(
		ctx, p.opTimeout,
		chromedp.Clear(query, opts...),
		chromedp.SendKeys(query, value, opts...),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", sel, err)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, sel Selector) error {
	query, opts := queryOptions(sel)
	err := p.run(ctx, p.opTimeout, chromedp.Click(query, with(opts, chromedp.NodeVisible)...))
	if err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

const scriptClickTemplate = `(() => {
	const e = (%s)[0];
	if (!e) {
		return false;
	}
	e.click();
	return true;
})()`

func (p *chromePage) ScriptClick(ctx context.Context, sel Selector) error {
	var clicked bool
	err := p.run(ctx, p.opTimeout, chromedp.Evaluate(fmt.Sprintf(scriptClickTemplate, jsElements(sel)), &clicked))
	if err != nil {
		return fmt.Errorf("script click %s: %w", sel, err)
	}
	if !clicked {
		return fmt.Errorf("script click %s: element not found", sel)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context, sel Selector) ([]byte, error) {
	query, opts := queryOptions(sel)
	var buf []byte
	err := p.run(ctx, p.opTimeout, chromedp.Screenshot(query, &buf, with(opts, chromedp.NodeVisible)...))
	if err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", sel, err)
	}
	return buf, nil
}

func (p *chromePage) Eval(ctx context.Context, script string) error {
	err := p.run(ctx, p.opTimeout, chromedp.Evaluate(script, nil))
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	return nil
}

func (p *chromePage) OuterHTML(ctx context.Context, sel Selector) (string, error) {
	query, opts := queryOptions(sel)
	var out string
	err := p.run(ctx, p.opTimeout, chromedp.OuterHTML(query, &out, opts...))
	if err != nil {
		return "", fmt.Errorf("outer html of %s: %w", sel, err)
	}
	return out, nil
}

func (p *chromePage) Source(ctx context.Context) (string, error) {
	var out string
	err := p.run(ctx, p.opTimeout, chromedp.OuterHTML("html", &out, chromedp.ByQuery))
	if err != nil {
		return "", fmt.Errorf("page source: %w", err)
	}
	return out, nil
}

func (p *chromePage) PrintPDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "chrome:PrintPDF")
	defer span.End()

	var out []byte
	err := p.run(ctx, p.loadTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(opts.PrintBackground).
			WithPaperWidth(opts.PaperWidthInches).
			WithPaperHeight(opts.PaperHeightInches).
			WithMarginTop(opts.MarginInches).
			WithMarginBottom(opts.MarginInches).
			WithMarginLeft(opts.MarginInches).
			WithMarginRight(opts.MarginInches).
			WithScale(opts.Scale).
			Do(ctx)
		if err != nil {
			return err
		}
		out = buf
		return nil
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to print pdf")
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return out, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.tab)
	p.cancelTab()
	p.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
