package medline

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// allowed elements are kept, stripped of attributes.
var allowed = map[atom.Atom]bool{
	atom.P: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// dropped elements are removed together with their content.
var dropped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Iframe: true, atom.Object: true,
	atom.Embed: true, atom.Noscript: true, atom.Template: true, atom.Frame: true,
	atom.Frameset: true, atom.Svg: true, atom.Math: true,
}

// Sanitize reduces summary markup to paragraphs, lists and headings.
// Every other element is unwrapped to its text.
func Sanitize(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return html.EscapeString(StripTags(markup))
	}
	var sb strings.Builder
	for _, n := range nodes {
		render(&sb, n)
	}
	return strings.TrimSpace(sb.String())
}

func render(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(html.EscapeString(n.Data))
		return
	case html.ElementNode:
		if dropped[n.DataAtom] {
			return
		}
		if allowed[n.DataAtom] {
			sb.WriteString("<" + n.DataAtom.String() + ">")
			renderChildren(sb, n)
			sb.WriteString("</" + n.DataAtom.String() + ">")
			return
		}
	case html.CommentNode, html.DoctypeNode:
		return
	}
	renderChildren(sb, n)
}

func renderChildren(sb *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(sb, c)
	}
}

// StripTags returns the text content of markup, whitespace collapsed.
func StripTags(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			if dropped[atom.Lookup(name)] {
				skip++
			}
			sb.WriteByte(' ')
		case html.EndTagToken:
			name, _ := z.TagName()
			if dropped[atom.Lookup(name)] && skip > 0 {
				skip--
			}
			sb.WriteByte(' ')
		}
	}
}
