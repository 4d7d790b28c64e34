// Package fingerprint derives canonical deduplication keys from item content.
//
// Two items with equal semantic content must yield equal fingerprints, so the
// raw fields are normalized before hashing: case folded, trimmed, and interior
// whitespace runs collapsed. Incidental formatting differences never split a
// concept.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"prism/internal/types"
)

// Compute derives the canonical fingerprint for an item from its normalized
// title, summary, and body. The result is a hex-encoded SHA-256 digest and is
// stable across runs and processes.
func Compute(item *types.Item) types.Fingerprint {
	parts := []string{
		normalize(item.Title),
		normalize(item.Summary),
		normalize(item.Body),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return types.Fingerprint(hex.EncodeToString(sum[:]))
}

// normalize lowercases s, trims surrounding whitespace, and collapses every
// interior whitespace run to a single space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
