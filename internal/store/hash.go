package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashID is the stable key third-party metadata rows are stored under.
func HashID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:16])
}

// IsNested reports whether id equals prefix or lies below it. Only path-based
// selector ids nest by prefix; opaque provider ids nest under the link root alone.
func IsNested(id, prefix string) bool {
	if id == prefix {
		return true
	}
	if len(id) <= len(prefix) || !strings.HasPrefix(id, prefix) {
		return false
	}
	switch id[len(prefix)] {
	case '|':
		return true
	case '-':
		// "drive-12" is a link root
		return strings.Count(prefix, "-") == 1
	default:
		return false
	}
}
