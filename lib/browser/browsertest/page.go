// Package browsertest has scripted browser pages for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"tradereg/lib/browser"
)

var ErrNotFound = errors.New("element not found")

// Page is a browser.Page whose answers are scripted per selector. Selectors
// are keyed by their String form, ex. "id=listContainer".
type Page struct {
	mutex sync.Mutex

	// Waits holds queued results per selector, consumed in order. Once a
	// queue is empty the value in Always applies, then DefaultWait.
	Waits       map[string][]browser.WaitResult
	Always      map[string]browser.WaitResult
	DefaultWait browser.WaitResult

	Texts     map[string]string
	HTML      map[string]string
	ClickErrs map[string]error

	SourceHTML  string
	SourceErr   error
	Shot        []byte
	PDF         []byte
	NavigateErr error
	ReloadErr   error

	// hooks run under no lock, they may call the Set methods
	OnNavigate func(url string)
	OnEval     func(script string) error
	OnClick    func(sel browser.Selector)

	Calls     []string
	Filled    map[string][]string
	Navigated []string
	Evaluated []string
	Closed    int
}

func NewPage() *Page {
	return &Page{
		Waits:       map[string][]browser.WaitResult{},
		Always:      map[string]browser.WaitResult{},
		DefaultWait: browser.WaitTimeout,
		Texts:       map[string]string{},
		HTML:        map[string]string{},
		ClickErrs:   map[string]error{},
		Filled:      map[string][]string{},
		Shot:        []byte("captcha"),
		PDF:         []byte("%PDF-1.4 fake"),
	}
}

// QueueWait appends results to the queue of sel.
func (p *Page) QueueWait(sel browser.Selector, results ...browser.WaitResult) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	key := sel.String()
	p.Waits[key] = append(p.Waits[key], results...)
}

// SetWait makes every wait on sel return result once its queue is empty.
func (p *Page) SetWait(sel browser.Selector, result browser.WaitResult) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.Always[sel.String()] = result
}

func (p *Page) record(call string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.Calls = append(p.Calls, call)
}

// Count returns how many recorded calls equal call.
func (p *Page) Count(call string) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	n := 0
	for _, c := range p.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record("navigate")
	p.mutex.Lock()
	p.Navigated = append(p.Navigated, url)
	err := p.NavigateErr
	hook := p.OnNavigate
	p.mutex.Unlock()
	if hook != nil {
		hook(url)
	}
	return err
}

func (p *Page) Reload(ctx context.Context) error {
	p.record("reload")
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.ReloadErr
}

func (p *Page) WaitFor(ctx context.Context, sel browser.Selector, cond browser.Condition, timeout time.Duration) browser.WaitResult {
	p.record(fmt.Sprintf("wait %s %s", sel, cond))
	if ctx.Err() != nil {
		return browser.WaitFailed
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	key := sel.String()
	if queue := p.Waits[key]; len(queue) > 0 {
		p.Waits[key] = queue[1:]
		return queue[0]
	}
	if result, ok := p.Always[key]; ok {
		return result
	}
	return p.DefaultWait
}

func (p *Page) Exists(ctx context.Context, sel browser.Selector) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	_, hasText := p.Texts[sel.String()]
	_, hasHTML := p.HTML[sel.String()]
	return hasText || hasHTML
}

func (p *Page) Text(ctx context.Context, sel browser.Selector) (string, error) {
	p.record("text " + sel.String())
	p.mutex.Lock()
	defer p.mutex.Unlock()
	text, ok := p.Texts[sel.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	return text, nil
}

func (p *Page) Fill(ctx context.Context, sel browser.Selector, value string) error {
	p.record("fill " + sel.String())
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.Filled[sel.String()] = append(p.Filled[sel.String()], value)
	return nil
}

func (p *Page) click(call string, sel browser.Selector) error {
	p.record(call + " " + sel.String())
	p.mutex.Lock()
	err := p.ClickErrs[call+" "+sel.String()]
	hook := p.OnClick
	p.mutex.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(sel)
	}
	return nil
}

// Click fails with ClickErrs["click <selector>"] when set.
func (p *Page) Click(ctx context.Context, sel browser.Selector) error {
	return p.click("click", sel)
}

// ScriptClick fails with ClickErrs["script-click <selector>"] when set.
func (p *Page) ScriptClick(ctx context.Context, sel browser.Selector) error {
	return p.click("script-click", sel)
}

func (p *Page) Screenshot(ctx context.Context, sel browser.Selector) ([]byte, error) {
	p.record("screenshot " + sel.String())
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.Shot, nil
}

func (p *Page) Eval(ctx context.Context, script string) error {
	p.record("eval")
	p.mutex.Lock()
	p.Evaluated = append(p.Evaluated, script)
	hook := p.OnEval
	p.mutex.Unlock()
	if hook != nil {
		return hook(script)
	}
	return nil
}

func (p *Page) OuterHTML(ctx context.Context, sel browser.Selector) (string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	html, ok := p.HTML[sel.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	return html, nil
}

func (p *Page) Source(ctx context.Context) (string, error) {
	p.record("source")
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.SourceHTML, p.SourceErr
}

func (p *Page) PrintPDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	p.record("print-pdf")
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.PDF, nil
}

func (p *Page) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.Closed++
	return nil
}

// Launcher hands out Pages in order and records how many were launched.
type Launcher struct {
	mutex    sync.Mutex
	Pages    []*Page
	Err      error
	Launched int
}

func (l *Launcher) Launch(ctx context.Context) (browser.Page, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Launched >= len(l.Pages) {
		return nil, fmt.Errorf("no page scripted for launch %d", l.Launched+1)
	}
	page := l.Pages[l.Launched]
	l.Launched++
	return page, nil
}
