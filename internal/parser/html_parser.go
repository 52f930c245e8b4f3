// Package parser provides HTML parsing and content extraction capabilities.
// It turns article markup into a title, section headings, body text and the
// internal article links found on the page.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/masahif/wikitadoru/internal/urlutil"
)

// UntitledPage is used when the page has no primary heading
const UntitledPage = "Untitled"

var (
	// ErrEmptyDocument is returned when the body has no content
	ErrEmptyDocument = errors.New("empty document")
	// ErrNotMarkup is returned when the body does not look like HTML
	ErrNotMarkup = errors.New("content is not HTML markup")

	reWhitespace = regexp.MustCompile(`\s+`)
)

// Options controls which elements the extractor reads
type Options struct {
	TitleSelector      string // Primary heading holding the page title
	ReferencesSelector string // Anchor marking the start of the references section
	CitationSelector   string // Inline citation markers replaced by a space
	HeadingSelector    string // Section headings collected in document order
	ParagraphSelector  string // Body text paragraphs
	LinkPrefix         string // Internal article path prefix
	MaxLinks           int    // Cap on returned links (0=unlimited)
}

// DefaultOptions returns the MediaWiki conventions
func DefaultOptions() Options {
	return Options{
		TitleSelector:      "h1#firstHeading",
		ReferencesSelector: "#References",
		CitationSelector:   "sup",
		HeadingSelector:    "h2, h3",
		ParagraphSelector:  "p",
		LinkPrefix:         "/wiki/",
		MaxLinks:           15,
	}
}

// ExtractedContent is the structured content of one page
type ExtractedContent struct {
	Title    string
	Headings []string
	BodyText string
	Links    []string // Absolute, normalized, first-seen order
}

// HTMLExtractor extracts article content from HTML
type HTMLExtractor struct {
	opts Options
}

// NewHTMLExtractor creates an extractor, filling unset options with defaults
func NewHTMLExtractor(opts Options) *HTMLExtractor {
	defaults := DefaultOptions()
	if opts.TitleSelector == "" {
		opts.TitleSelector = defaults.TitleSelector
	}
	if opts.ReferencesSelector == "" {
		opts.ReferencesSelector = defaults.ReferencesSelector
	}
	if opts.CitationSelector == "" {
		opts.CitationSelector = defaults.CitationSelector
	}
	if opts.HeadingSelector == "" {
		opts.HeadingSelector = defaults.HeadingSelector
	}
	if opts.ParagraphSelector == "" {
		opts.ParagraphSelector = defaults.ParagraphSelector
	}
	if opts.LinkPrefix == "" {
		opts.LinkPrefix = defaults.LinkPrefix
	}
	return &HTMLExtractor{opts: opts}
}

// Extract parses markup and returns its structured content.
// The document is modified in this order: citation markers become spaces,
// then the references section and everything after it is dropped, and only
// then are title, headings, paragraphs and links read.
func (e *HTMLExtractor) Extract(body []byte, pageURL *url.URL) (*ExtractedContent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrEmptyDocument
	}
	if !bytes.ContainsRune(trimmed, '<') {
		return nil, ErrNotMarkup
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	e.stripCitations(doc)
	e.stripReferences(doc)

	return &ExtractedContent{
		Title:    e.title(doc),
		Headings: e.headings(doc),
		BodyText: e.bodyText(doc),
		Links:    e.links(doc, pageURL),
	}, nil
}

// stripCitations replaces each citation marker with a single space so the
// surrounding words do not run together
func (e *HTMLExtractor) stripCitations(doc *goquery.Document) {
	doc.Find(e.opts.CitationSelector).Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		if node.Parent == nil {
			return
		}
		node.Parent.InsertBefore(&html.Node{Type: html.TextNode, Data: " "}, node)
		node.Parent.RemoveChild(node)
	})
}

// stripReferences removes the references heading and all of its following siblings
func (e *HTMLExtractor) stripReferences(doc *goquery.Document) {
	anchor := doc.Find(e.opts.ReferencesSelector).First()
	if anchor.Length() == 0 {
		return
	}

	heading := anchor
	if !anchor.Is("h2") {
		heading = anchor.Closest("h2")
		if heading.Length() == 0 {
			return
		}
	}

	// Newer MediaWiki skins wrap headings in <div class="mw-heading">
	block := heading
	if parent := heading.Parent(); parent.Is("div.mw-heading") {
		block = parent
	}

	block.NextAll().Remove()
	block.Remove()
}

func (e *HTMLExtractor) title(doc *goquery.Document) string {
	title := strings.TrimSpace(doc.Find(e.opts.TitleSelector).First().Text())
	if title == "" {
		return UntitledPage
	}
	return collapse(title)
}

func (e *HTMLExtractor) headings(doc *goquery.Document) []string {
	headings := []string{}
	doc.Find(e.opts.HeadingSelector).Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			headings = append(headings, text)
		}
	})
	return headings
}

func (e *HTMLExtractor) bodyText(doc *goquery.Document) string {
	var paragraphs []string
	doc.Find(e.opts.ParagraphSelector).Each(func(_ int, s *goquery.Selection) {
		if text := spacedText(s); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return collapse(strings.Join(paragraphs, " "))
}

// spacedText joins the trimmed text nodes under s with single spaces, so
// words split by inline markup such as <br> stay apart
func spacedText(s *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

func (e *HTMLExtractor) links(doc *goquery.Document, pageURL *url.URL) []string {
	links := []string{}
	seen := make(map[string]bool)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if !IsArticleLink(href, e.opts.LinkPrefix) {
			return true
		}

		absURL, err := urlutil.Resolve(pageURL, href)
		if err != nil || seen[absURL] {
			return true
		}
		seen[absURL] = true
		links = append(links, absURL)

		return e.opts.MaxLinks <= 0 || len(links) < e.opts.MaxLinks
	})

	return links
}

// IsArticleLink reports whether a raw href points at an internal article:
// it must start with prefix and contain neither a namespace separator nor a fragment
func IsArticleLink(href, prefix string) bool {
	return strings.HasPrefix(href, prefix) && !strings.ContainsAny(href, ":#")
}

func collapse(s string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))
}
