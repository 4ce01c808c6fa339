package util

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// SafeName maps an arbitrary identifier (usually an object key) to a string
// usable as a single path segment. The hash suffix keeps distinct identifiers
// distinct after character replacement.
func SafeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	sum := sha256.Sum256([]byte(id))
	return name + "-" + hex.EncodeToString(sum[:4])
}
