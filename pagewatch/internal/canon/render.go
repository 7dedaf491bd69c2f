package canon

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements without an end tag.
var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Keygen: true, atom.Link: true, atom.Meta: true, atom.Param: true,
	atom.Source: true, atom.Track: true, atom.Wbr: true,
}

// Elements whose text children are emitted verbatim.
var rawTextElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Xmp: true, atom.Iframe: true,
	atom.Noembed: true, atom.Noframes: true, atom.Plaintext: true,
	atom.Noscript: true,
}

// Elements whose text keeps inner whitespace.
var preformatted = map[atom.Atom]bool{
	atom.Pre: true, atom.Textarea: true, atom.Listing: true,
}

func render(b *strings.Builder, n *html.Node, depth int) {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(b, c, depth)
		}

	case html.DoctypeNode:
		line(b, depth, "<!DOCTYPE "+n.Data+">")

	case html.CommentNode:
		line(b, depth, "<!--"+n.Data+"-->")

	case html.TextNode:
		if t := textOf(n); t != "" {
			line(b, depth, t)
		}

	case html.ElementNode:
		var tag strings.Builder
		tag.WriteByte('<')
		tag.WriteString(n.Data)
		for _, a := range n.Attr {
			tag.WriteByte(' ')
			if a.Namespace != "" {
				tag.WriteString(a.Namespace)
				tag.WriteByte(':')
			}
			tag.WriteString(a.Key)
			tag.WriteString(`="`)
			tag.WriteString(html.EscapeString(a.Val))
			tag.WriteByte('"')
		}
		tag.WriteByte('>')
		line(b, depth, tag.String())

		if n.Namespace == "" && voidElements[n.DataAtom] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			render(b, c, depth+1)
		}
		line(b, depth, "</"+n.Data+">")
	}
}

func textOf(n *html.Node) string {
	p := n.Parent
	if p != nil && p.Type == html.ElementNode && p.Namespace == "" {
		switch {
		case rawTextElements[p.DataAtom]:
			return strings.TrimSpace(n.Data)
		case preformatted[p.DataAtom]:
			return html.EscapeString(strings.TrimSpace(n.Data))
		}
	}
	return html.EscapeString(strings.Join(strings.Fields(n.Data), " "))
}

func line(b *strings.Builder, depth int, s string) {
	for i := 0; i < depth; i++ {
		b.WriteByte(' ')
	}
	b.WriteString(s)
	b.WriteByte('\n')
}
