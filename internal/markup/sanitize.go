// Package markup turns search-result markup into plain text.
//
// Stack Exchange excerpts wrap query matches in <span class="highlight">.
// Sanitize keeps those matches visible as **bold** and drops every other tag.
package markup

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// HighlightClass marks a relevance match in search excerpts.
	HighlightClass = "highlight"

	bold = "**"
)

// Sanitize renders fragment as plain text. Text is copied verbatim (entities
// are decoded by the parser and not re-escaped) and every element carrying the
// highlight class is wrapped in a pair of "**" markers. Malformed input never
// fails: whatever text is recoverable is returned.
func Sanitize(fragment string) string {
	if fragment == "" {
		return ""
	}

	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return sanitizeTokens(fragment)
	}

	var b strings.Builder
	b.Grow(len(fragment))
	for _, n := range nodes {
		walk(&b, n)
	}
	return b.String()
}

// walk emits opening markers in pre-order and closing markers in post-order,
// so nested highlights keep their own pairs.
func walk(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode, html.DocumentNode:
	default:
		// comments, doctypes, raw nodes
		return
	}

	hl := n.Type == html.ElementNode && HasClass(n, HighlightClass)
	if hl {
		b.WriteString(bold)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(b, c)
	}
	if hl {
		b.WriteString(bold)
	}
}

// HasClass reports whether n's class attribute contains class as a
// whitespace-separated token. Matching is case-sensitive.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != "class" {
			continue
		}
		if hasToken(a.Val, class) {
			return true
		}
	}
	return false
}

func hasToken(list, tok string) bool {
	for _, f := range strings.Fields(list) {
		if f == tok {
			return true
		}
	}
	return false
}

// sanitizeTokens is the fallback path when the tree parser gives up. It streams
// tokens and tracks open elements so highlight markers still pair up.
func sanitizeTokens(fragment string) string {
	var (
		b     strings.Builder
		stack []bool
	)
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// Close anything left open so markers stay balanced.
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] {
					b.WriteString(bold)
				}
			}
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken:
			tok := z.Token()
			hl := tokenHasClass(tok, HighlightClass)
			if hl {
				b.WriteString(bold)
			}
			stack = append(stack, hl)
		case html.SelfClosingTagToken:
			if tokenHasClass(z.Token(), HighlightClass) {
				b.WriteString(bold + bold)
			}
		case html.EndTagToken:
			if n := len(stack); n > 0 {
				if stack[n-1] {
					b.WriteString(bold)
				}
				stack = stack[:n-1]
			}
		}
	}
}

func tokenHasClass(tok html.Token, class string) bool {
	for _, a := range tok.Attr {
		if a.Key == "class" && hasToken(a.Val, class) {
			return true
		}
	}
	return false
}
