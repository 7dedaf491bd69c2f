// Package preview renders a stored page as sanitised Markdown so an
// operator can read what changed without opening raw markup.
package preview

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Renderer converts page markup to Markdown. Safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// New creates a Renderer. Markup is reduced to the UGC policy (no scripts,
// styles or event handlers) before conversion.
func New() *Renderer {
	return &Renderer{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown renders markup. pageURL resolves relative links.
func (r *Renderer) Markdown(markup, pageURL string) (string, error) {
	clean := r.policy.Sanitize(markup)
	md, err := r.conv.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("preview: convert: %w", err)
	}
	return strings.TrimSpace(md), nil
}
