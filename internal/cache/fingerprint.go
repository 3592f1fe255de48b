package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint hashes normalized request parameters. Each part is trimmed
// and its inner whitespace collapsed, so requests differing only in
// spacing share an entry. Case is preserved: boolean operators are
// case-sensitive upstream.
func Fingerprint(parts ...string) string {
	norm := make([]string, len(parts))
	for i, p := range parts {
		norm[i] = strings.Join(strings.Fields(p), " ")
	}
	h := sha256.Sum256([]byte(strings.Join(norm, "\x00")))
	return fmt.Sprintf("%x", h[:16])
}
