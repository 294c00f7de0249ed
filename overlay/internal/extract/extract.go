// Package extract reads the email currently displayed by the host page out
// of a DOM snapshot.
//
// The pipeline: raw HTML → parse → select regions → sanitize body → render
// body as markdown or plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ErrUnavailable means the primary content element is not rendered yet.
// It is not a user-facing failure: the next settle retries.
var ErrUnavailable = errors.New("extract: content not rendered")

// Item is one displayed email.
type Item struct {
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
	Body    string `json:"content"`
}

// Body rendering modes.
const (
	ModeMarkdown = "markdown"
	ModeText     = "text"
)

// Selectors locate the item inside the host document. Defaults match the
// Gmail conversation view.
type Selectors struct {
	Anchor  string `yaml:"anchor"`  // conversation region; absent = nothing to do
	Body    string `yaml:"body"`    // primary content element
	Subject string `yaml:"subject"`
	Sender  string `yaml:"sender"`
	Date    string `yaml:"date"`
}

// Defaults fills empty selectors.
func (s *Selectors) Defaults() {
	if s.Anchor == "" {
		s.Anchor = "div.gA.gt.acV"
	}
	if s.Body == "" {
		s.Body = "div.aHU.hx"
	}
	if s.Subject == "" {
		s.Subject = "h2.hP"
	}
	if s.Sender == "" {
		s.Sender = "span.gD"
	}
	if s.Date == "" {
		s.Date = "span.g3"
	}
}

// Options controls extraction.
type Options struct {
	Selectors Selectors
	// Mode is ModeMarkdown (default) or ModeText.
	Mode string
	// MaxBody truncates the rendered body, in bytes. 0 = unlimited.
	MaxBody int
}

func (o *Options) defaults() {
	o.Selectors.Defaults()
	if o.Mode == "" {
		o.Mode = ModeMarkdown
	}
}

// bodyPolicy strips scripts, styles and event handlers but keeps links so
// their targets reach the scoring model.
var bodyPolicy = bluemonday.UGCPolicy()

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// FromHTML extracts the displayed item from a document snapshot.
func FromHTML(doc []byte, opts Options) (Item, error) {
	opts.defaults()

	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return Item{}, fmt.Errorf("extract: parse HTML: %w", err)
	}

	body := d.Find(opts.Selectors.Body).First()
	if body.Length() == 0 {
		return Item{}, ErrUnavailable
	}

	content, err := renderBody(body, opts.Mode)
	if err != nil {
		return Item{}, err
	}
	if opts.MaxBody > 0 && len(content) > opts.MaxBody {
		content = truncateUTF8(content, opts.MaxBody)
	}

	return Item{
		Subject: squash(d.Find(opts.Selectors.Subject).First().Text()),
		Sender:  sender(d.Find(opts.Selectors.Sender).First()),
		Date:    squash(d.Find(opts.Selectors.Date).First().Text()),
		Body:    content,
	}, nil
}

// Present reports whether selector matches anything in doc.
func Present(doc []byte, selector string) bool {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return false
	}
	return d.Find(selector).Length() > 0
}

func renderBody(body *goquery.Selection, mode string) (string, error) {
	switch mode {
	case ModeText:
		return squash(textOf(body)), nil
	case ModeMarkdown:
		raw, err := goquery.OuterHtml(body)
		if err != nil {
			return "", fmt.Errorf("extract: serialise body: %w", err)
		}
		md, err := mdConverter.ConvertString(bodyPolicy.Sanitize(raw))
		if err != nil {
			return "", fmt.Errorf("extract: convert body: %w", err)
		}
		return strings.TrimSpace(md), nil
	default:
		return "", fmt.Errorf("extract: unknown mode %q", mode)
	}
}

// sender renders "Name <address>" when the host exposes the address as an
// attribute, else the visible name.
func sender(s *goquery.Selection) string {
	name := squash(s.Text())
	addr, ok := s.Attr("email")
	if !ok || addr == "" || addr == name {
		return name
	}
	if name == "" {
		return addr
	}
	return name + " <" + addr + ">"
}

// textOf concatenates text nodes, separating block elements by newlines so
// paragraphs do not run together.
func textOf(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		walkText(n, &b)
	}
	return b.String()
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
	if n.Type == html.ElementNode && isBlock(n.Data) {
		b.WriteByte('\n')
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "table":
		return true
	}
	return false
}

// squash collapses runs of spaces per line and drops blank lines.
func squash(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
