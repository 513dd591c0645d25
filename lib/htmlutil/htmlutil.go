package htmlutil

import (
	"bytes"
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var tracer = otel.Tracer("tradereg.lib.htmlutil")

var blockElements = map[atom.Atom]bool{
	atom.P:     true,
	atom.Div:   true,
	atom.Li:    true,
	atom.Tr:    true,
	atom.Table: true,
	atom.H1:    true,
	atom.H2:    true,
	atom.H3:    true,
	atom.H4:    true,
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// VisibleText renders node roughly the way a browser lays it out as text:
// source whitespace collapses, <br> and block elements break lines, and every
// line is trimmed. Empty lines are dropped.
func VisibleText(node *html.Node) string {
	var buffer bytes.Buffer
	visibleTextRecursive(node, &buffer)

	lines := strings.Split(buffer.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(innerWhitespace.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func visibleTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		buffer.WriteString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == '\t' {
				return ' '
			}
			return r
		}, node.Data))
		return
	case html.ElementNode:
		switch node.DataAtom {
		case atom.Br:
			buffer.WriteByte('\n')
			return
		case atom.Script, atom.Style:
			return
		}
	}

	block := node.Type == html.ElementNode && blockElements[node.DataAtom]
	if block {
		buffer.WriteByte('\n')
	}
	child := node.FirstChild
	for child != nil {
		visibleTextRecursive(child, buffer)
		child = child.NextSibling
	}
	if block {
		buffer.WriteByte('\n')
	}
}

// SelectionText is VisibleText over every node of a selection.
func SelectionText(sel *goquery.Selection) string {
	parts := make([]string, 0, len(sel.Nodes))
	for _, n := range sel.Nodes {
		text := VisibleText(n)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// Anchor is a link as it reads on the page.
type Anchor struct {
	Name string
	Href string
}

// anchorName flattens link text to a single printable line.
func anchorName(text string) string {
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(text, " "))
}

// GetAnchors reads the name and href of every anchor in sel, skipping those
// without an href. Relative hrefs are resolved against base when base is not
// nil.
func GetAnchors(ctx context.Context, sel *goquery.Selection, base *url.URL) []Anchor {
	_, span := tracer.Start(ctx, "htmlutil:GetAnchors")
	defer span.End()

	anchors := []Anchor{}
	sel.Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		link, err := url.Parse(href)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "unparsable href")
			return
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		anchor := Anchor{Name: anchorName(a.Text()), Href: link.String()}
		anchors = append(anchors, anchor)
		span.AddEvent("anchor", trace.WithAttributes(
			attribute.String("name", anchor.Name),
			attribute.String("href", anchor.Href),
		))
	})
	span.SetAttributes(attribute.Int("anchors", len(anchors)))
	return anchors
}
