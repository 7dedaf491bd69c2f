// Package canon renders fetched bytes into the canonical text that is
// fingerprinted and stored.
//
// Pages are parsed with the HTML5 parser and re-serialised one node per
// line, indented by one space per depth level, with text whitespace
// collapsed. Byte-level noise (line endings, indentation, attribute
// quoting, charset) therefore does not reach the fingerprint; structural
// and textual changes do. Scripts are opaque: their bytes are decoded to
// UTF-8 and passed through untouched.
package canon

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// Page is the canonical form of a root page.
type Page struct {
	Text string
	// Scripts lists the src attribute of every <script src> element in
	// document order, trimmed, duplicates included.
	Scripts []string
}

// ParsePage decodes raw using contentType (falling back to sniffing),
// parses it and renders the canonical text. The parser is best-effort and
// accepts any markup; errors only come from decoding.
func ParsePage(raw []byte, contentType string) (*Page, error) {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return nil, fmt.Errorf("canon: decode page: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("canon: parse page: %w", err)
	}
	var b strings.Builder
	render(&b, doc, 0)
	return &Page{
		Text:    strings.ToValidUTF8(b.String(), "\uFFFD"),
		Scripts: ScriptSources(doc),
	}, nil
}

// Script returns the canonical text of a script body. The bytes are only
// transcoded when contentType names an explicit charset other than UTF-8.
func Script(raw []byte, contentType string) (string, error) {
	if label := charsetParam(contentType); label != "" {
		enc, name := charset.Lookup(label)
		if enc != nil && name != "utf-8" {
			out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
			if err != nil {
				return "", fmt.Errorf("canon: decode script (%s): %w", name, err)
			}
			raw = out
		}
	}
	return strings.ToValidUTF8(string(raw), "\uFFFD"), nil
}

// ScriptSources walks doc and returns the src attribute of each script
// element in document order. Empty or whitespace-only values are skipped.
func ScriptSources(doc *html.Node) []string {
	var srcs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script && n.Namespace == "" {
			for _, a := range n.Attr {
				if a.Namespace == "" && a.Key == "src" {
					if v := strings.TrimSpace(a.Val); v != "" {
						srcs = append(srcs, v)
					}
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return srcs
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
