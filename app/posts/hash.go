package posts

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ContentHash identifies content regardless of case, spacing and Unicode form.
func ContentHash(content string) string {
	normalized := norm.NFKC.String(content)
	normalized = strings.ToLower(strings.Join(strings.Fields(normalized), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}
