// Package horosafe provides the safety checks pagewatch applies at its
// boundaries: URL validation before a fetch (SSRF prevention), escaping of
// untrusted strings into single path segments, path traversal guards for
// the snapshot store, and bounded body reads.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxSegmentLen caps the length of an escaped path segment. Most
// filesystems reject names longer than 255 bytes.
const MaxSegmentLen = 255

// ErrPathTraversal is returned when a path escapes its base directory.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrSSRF is returned when a URL targets a private/loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrUnsafeSegment is returned when a string cannot be used as a path segment.
var ErrUnsafeSegment = errors.New("horosafe: unsafe path segment")

// ErrTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrTooLarge = errors.New("horosafe: response too large")

// ValidateScheme checks that rawURL is absolute, uses http/https and names
// a host. No DNS lookups are performed.
func ValidateScheme(rawURL string) error {
	_, err := parseHTTP(rawURL)
	return err
}

// ValidateURL is ValidateScheme plus a private address check: the host must
// not be, or resolve to, a loopback, link-local or RFC 1918 address.
func ValidateURL(rawURL string) error {
	u, err := parseHTTP(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable hosts fail later at dial time with a clearer error.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

func parseHTTP(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("horosafe: URL has no host")
	}
	return u, nil
}

// EscapeSegment turns s into a string usable as one path segment on any
// common filesystem. Bytes outside [A-Za-z0-9._~-] are percent-escaped so
// the mapping stays injective. The result is validated with ValidateSegment.
func EscapeSegment(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSegmentByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	out := b.String()
	if err := ValidateSegment(out); err != nil {
		return "", err
	}
	return out, nil
}

// ValidateSegment rejects empty names, "." and "..", names longer than
// MaxSegmentLen and names containing a separator or a NUL byte.
func ValidateSegment(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrUnsafeSegment)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrUnsafeSegment, s)
	case len(s) > MaxSegmentLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrUnsafeSegment, MaxSegmentLen)
	case strings.ContainsAny(s, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a separator", ErrUnsafeSegment, s)
	}
	return nil
}

// SafePath joins base and name and verifies the result stays directly
// under base. name must be a single validated segment.
func SafePath(base, name string) (string, error) {
	if err := ValidateSegment(name); err != nil {
		return "", err
	}
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, name)
	if filepath.Dir(joined) != cleanBase {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrTooLarge if the
// limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isSegmentByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.' || c == '~'
}

var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
	"169.254.0.0/16",
	"::1/128",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("horosafe: bad CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
