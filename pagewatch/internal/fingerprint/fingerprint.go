// Package fingerprint computes the content digest of a resource set.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/hazyhaar/pagewatch/pagewatch/internal/resource"
)

// Size is the length of a hex-encoded fingerprint.
const Size = sha256.Size * 2

// Compute returns the lowercase hex SHA-256 of the canonical texts of set,
// concatenated in set order with no separator. Moving text across a
// resource boundary therefore does not change the digest; reordering
// resources does.
func Compute(set *resource.Set) string {
	h := sha256.New()
	for _, r := range set.Resources() {
		writeString(h, r.Text)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Texts is Compute over raw texts, in order.
func Texts(texts ...string) string {
	h := sha256.New()
	for _, t := range texts {
		writeString(h, t)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeString(h hash.Hash, s string) {
	// hash.Hash writes never fail.
	_, _ = io.WriteString(h, s)
}

// Valid reports whether s looks like a fingerprint produced by Compute.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
