// Package detect finds embeddable regions in captured HTML: players,
// iframes, figures — elements worth capturing as a standalone image
// when their content cannot be extracted as text.
//
// Geometry is optional: candidates carry a rect only when the page was
// annotated with measurement attributes (the DOM adapter writes them
// before handing over the HTML). A candidate without a rect is reported
// but cannot be targeted by an embed capture.
package detect

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/pagesnap/pagesnap/geom"
)

// Candidate kinds.
const (
	KindIframe = "iframe"
	KindVideo  = "video"
	KindEmbed  = "embed"
	KindObject = "object"
	KindFigure = "figure"
	KindPlayer = "player" // class-token match on an otherwise plain element
)

// Candidate is one embeddable region.
type Candidate struct {
	Kind      string
	SourceURL string     // src/data attribute, may be empty
	Title     string     // sanitized title/caption text
	Rect      *geom.Rect // layout geometry in CSS px, nil when unmeasured
}

// playerTokens are class-list tokens that mark an element as an
// embedded player even when its tag is a plain div.
var playerTokens = []string{
	"video-player", "player", "embed", "media-embed",
	"youtube", "vimeo", "twitter-tweet", "instagram-media",
}

// Measurement attributes written by the DOM adapter's annotation pass.
const (
	attrRectX = "data-capture-x"
	attrRectY = "data-capture-y"
	attrRectW = "data-capture-w"
	attrRectH = "data-capture-h"
)

var titlePolicy = bluemonday.StrictPolicy()

// Detect parses HTML and returns the embeddable candidates in document
// order.
func Detect(r io.Reader) ([]Candidate, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("detect: parse HTML: %w", err)
	}

	var out []Candidate
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if c, ok := candidate(n); ok {
				out = append(out, c)
				// Do not descend into a matched element: a figure
				// wrapping a video is one candidate, not two.
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out, nil
}

func candidate(n *html.Node) (Candidate, bool) {
	var kind string
	switch n.DataAtom {
	case atom.Iframe:
		kind = KindIframe
	case atom.Video:
		kind = KindVideo
	case atom.Embed:
		kind = KindEmbed
	case atom.Object:
		kind = KindObject
	case atom.Figure:
		kind = KindFigure
	default:
		if hasPlayerClass(n) {
			kind = KindPlayer
		} else {
			return Candidate{}, false
		}
	}

	c := Candidate{
		Kind:      kind,
		SourceURL: sourceURL(n),
		Title:     sanitizeTitle(titleText(n)),
		Rect:      rectFromAttrs(n),
	}
	return c, true
}

func hasPlayerClass(n *html.Node) bool {
	class := attrValue(n, "class")
	if class == "" {
		return false
	}
	for _, field := range strings.Fields(class) {
		token := strings.ToLower(field)
		for _, want := range playerTokens {
			if token == want {
				return true
			}
		}
	}
	return false
}

func sourceURL(n *html.Node) string {
	if src := attrValue(n, "src"); src != "" {
		return src
	}
	// <object> uses data=.
	return attrValue(n, "data")
}

// titleText prefers an explicit title attribute, then aria-label, then
// a <figcaption> child for figures.
func titleText(n *html.Node) string {
	if t := attrValue(n, "title"); t != "" {
		return t
	}
	if t := attrValue(n, "aria-label"); t != "" {
		return t
	}
	if n.DataAtom == atom.Figure {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Figcaption {
				return collectText(c)
			}
		}
	}
	return ""
}

// sanitizeTitle strips any markup from hostile title text.
func sanitizeTitle(s string) string {
	return strings.TrimSpace(titlePolicy.Sanitize(s))
}

func rectFromAttrs(n *html.Node) *geom.Rect {
	x, okX := intAttr(n, attrRectX)
	y, okY := intAttr(n, attrRectY)
	w, okW := intAttr(n, attrRectW)
	h, okH := intAttr(n, attrRectH)
	if !okX || !okY || !okW || !okH {
		return nil
	}
	r := geom.Rect{X: x, Y: y, W: w, H: h}
	if r.Empty() {
		return nil
	}
	return &r
}

func intAttr(n *html.Node, name string) (int, bool) {
	v := attrValue(n, name)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}
