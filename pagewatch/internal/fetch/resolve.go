package fetch

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// Resolve turns a script src found in the page at base into an absolute
// URL. A src containing "//" is taken as already absolute; a
// scheme-relative one ("//cdn/x.js") borrows the scheme of base. Anything
// else is appended to base with exactly one "/" between them. This is a
// plain join, not RFC 3986 reference resolution: "/x.js" under
// "https://a/b/" resolves to "https://a/b/x.js".
func Resolve(base, src string) (string, error) {
	if strings.Contains(src, "//") {
		if strings.HasPrefix(src, "//") {
			b, err := url.Parse(base)
			if err != nil {
				return "", fmt.Errorf("fetch: resolve %q: %w", src, err)
			}
			return b.Scheme + ":" + src, nil
		}
		return src, nil
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(src, "/"), nil
}

// DefaultScriptName is used when a src has no usable basename.
const DefaultScriptName = "script.js"

// ScriptName derives the logical name of a script from its src: the last
// path element with query and fragment removed, escaped into a safe file
// name.
func ScriptName(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	base := path.Base(src)
	if base == "." || base == "/" || base == "" || strings.HasSuffix(src, "/") {
		return DefaultScriptName
	}
	name, err := horosafe.EscapeSegment(base)
	if err != nil {
		return DefaultScriptName
	}
	return name
}
