package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// KeyValidator maps object keys to paths below a root directory.
type KeyValidator struct {
	rootAbs string
}

func NewKeyValidator(root string) (*KeyValidator, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	return &KeyValidator{rootAbs: rootAbs}, nil
}

func (v *KeyValidator) RootAbs() string {
	return v.rootAbs
}

// Resolve rejects empty keys, control characters and any ".." segment.
func (v *KeyValidator) Resolve(key string) (string, error) {
	normalized := strings.Trim(strings.ReplaceAll(strings.TrimSpace(key), `\`, "/"), "/")
	if normalized == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	if hasControlCharacters(normalized) {
		return "", fmt.Errorf("%w: %q contains control characters", ErrInvalidKey, key)
	}

	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q escapes the storage root", ErrInvalidKey, key)
		}
	}

	resolved, err := filepath.Abs(filepath.Join(v.rootAbs, filepath.FromSlash(normalized)))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	if !isWithinRoot(v.rootAbs, resolved) || resolved == v.rootAbs {
		return "", fmt.Errorf("%w: %q resolves outside the storage root", ErrInvalidKey, key)
	}

	return resolved, nil
}

func hasControlCharacters(value string) bool {
	for _, char := range value {
		if unicode.IsControl(char) {
			return true
		}
	}
	return false
}

func isWithinRoot(rootAbs string, candidateAbs string) bool {
	if candidateAbs == rootAbs {
		return true
	}
	return strings.HasPrefix(candidateAbs, rootAbs+string(filepath.Separator))
}
