package browser

import (
	"context"
	"fmt"
	"time"
)

type By int

const (
	ByID By = iota
	ByCSS
	ByXPath
	ByName
)

func (b By) String() string {
	switch b {
	case ByID:
		return "id"
	case ByCSS:
		return "css"
	case ByXPath:
		return "xpath"
	case ByName:
		return "name"
	}
	return fmt.Sprintf("by(%d)", int(b))
}

// Selector locates one element on a page.
type Selector struct {
	By    By
	Value string
}

func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.By, s.Value)
}

func ID(id string) Selector       { return Selector{By: ByID, Value: id} }
func CSS(query string) Selector   { return Selector{By: ByCSS, Value: query} }
func XPath(query string) Selector { return Selector{By: ByXPath, Value: query} }
func Name(name string) Selector   { return Selector{By: ByName, Value: name} }

type Condition int

const (
	// Present means the element is attached to the DOM.
	Present Condition = iota
	Visible
	// Invisible is met when no matching element is displayed, including when
	// none exists.
	Invisible
	// Interactable means visible and enabled.
	Interactable
)

func (c Condition) String() string {
	switch c {
	case Present:
		return "present"
	case Visible:
		return "visible"
	case Invisible:
		return "invisible"
	case Interactable:
		return "interactable"
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// WaitResult is the outcome of waiting for a page condition. Waiting never
// returns an error, the page being slow or the element missing is a state.
type WaitResult int

const (
	WaitMet WaitResult = iota
	WaitTimeout
	// WaitFailed means the session itself broke while waiting.
	WaitFailed
)

func (r WaitResult) String() string {
	switch r {
	case WaitMet:
		return "met"
	case WaitTimeout:
		return "timeout"
	case WaitFailed:
		return "failed"
	}
	return fmt.Sprintf("wait(%d)", int(r))
}

type PDFOptions struct {
	PaperWidthInches  float64
	PaperHeightInches float64
	MarginInches      float64
	Scale             float64
	PrintBackground   bool
}

// A4 with 0.4in margins, scaled down to fit wide tables.
var DefaultPDFOptions = PDFOptions{
	PaperWidthInches:  8.27,
	PaperHeightInches: 11.69,
	MarginInches:      0.4,
	Scale:             0.8,
	PrintBackground:   true,
}

// Page is one browser session bound to one tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	WaitFor(ctx context.Context, sel Selector, cond Condition, timeout time.Duration) WaitResult
	// Exists looks the element up without waiting.
	Exists(ctx context.Context, sel Selector) bool
	Text(ctx context.Context, sel Selector) (string, error)
	// Fill clears the field and types value into it.
	Fill(ctx context.Context, sel Selector, value string) error
	Click(ctx context.Context, sel Selector) error
	// ScriptClick dispatches the click from javascript, used when something
	// overlays the element.
	ScriptClick(ctx context.Context, sel Selector) error
	Screenshot(ctx context.Context, sel Selector) ([]byte, error)
	Eval(ctx context.Context, script string) error
	OuterHTML(ctx context.Context, sel Selector) (string, error)
	Source(ctx context.Context) (string, error)
	PrintPDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Close() error
}

// Launcher starts independent browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}
