package pagewatch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// maxKeyLen leaves room for the fingerprint file suffix within a 255-byte name.
const maxKeyLen = 200

// Target is a monitored root URL and the storage key derived from it.
type Target struct {
	URL string `json:"url"`
	// Key namespaces the target on disk: the host (with port) for a root
	// URL, host plus path otherwise, escaped into one path segment. Query
	// and fragment are not part of the key.
	Key string `json:"key"`
}

// NewTarget validates raw as an absolute http(s) URL and derives its key.
func NewTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if err := horosafe.ValidateScheme(raw); err != nil {
		return Target{}, fmt.Errorf("%w: %q: %w", ErrInvalidInput, raw, err)
	}
	key, err := DomainKey(raw)
	if err != nil {
		return Target{}, err
	}
	return Target{URL: raw, Key: key}, nil
}

// DomainKey returns the storage key of an absolute URL.
//
//	http://example.com            -> example.com
//	http://example.com:8080/      -> example.com%3A8080
//	https://example.com/docs/api/ -> example.com%2Fdocs%2Fapi
func DomainKey(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidInput, raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidInput, raw)
	}
	name := strings.ToLower(u.Host)
	if p := strings.Trim(u.EscapedPath(), "/"); p != "" {
		name += "/" + p
	}
	key, err := horosafe.EscapeSegment(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidInput, raw, err)
	}
	if len(key) > maxKeyLen {
		return "", fmt.Errorf("%w: storage key for %q exceeds %d bytes", ErrInvalidInput, raw, maxKeyLen)
	}
	return key, nil
}
