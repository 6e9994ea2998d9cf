package util

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"go-docspace/internal/model"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

var windowsReservedNames = map[string]struct{}{
	"CON":  {},
	"PRN":  {},
	"AUX":  {},
	"NUL":  {},
	"COM1": {},
	"COM2": {},
	"COM3": {},
	"COM4": {},
	"COM5": {},
	"COM6": {},
	"COM7": {},
	"COM8": {},
	"COM9": {},
	"LPT1": {},
	"LPT2": {},
	"LPT3": {},
	"LPT4": {},
	"LPT5": {},
	"LPT6": {},
	"LPT7": {},
	"LPT8": {},
	"LPT9": {},
}

// SanitizeFilename turns an entry title into a name that is safe on every
// desktop filesystem.
func SanitizeFilename(name string, allowHidden bool) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: filename cannot be empty", model.ErrInvalidInput)
	}

	builder := strings.Builder{}
	builder.Grow(len(trimmed))

	for _, char := range trimmed {
		if char == 0 || unicode.IsControl(char) || isInvisibleUnicode(char) {
			continue
		}

		builder.WriteRune(char)
	}

	replaced := invalidFilenameChars.ReplaceAllString(builder.String(), "_")
	cleaned := strings.TrimSpace(replaced)

	if cleaned == "" {
		return "", fmt.Errorf("%w: filename %q is invalid after sanitization", model.ErrInvalidInput, trimmed)
	}

	// Truncate by runes (not bytes) to avoid splitting multi-byte characters.
	runes := []rune(cleaned)
	if len(runes) > 255 {
		runes = runes[:255]
	}
	cleaned = string(runes)

	if strings.HasPrefix(cleaned, ".") && !allowHidden {
		return "", fmt.Errorf("%w: hidden filename %q", model.ErrInvalidInput, cleaned)
	}

	if cleaned == "." || cleaned == ".." {
		return "", fmt.Errorf("%w: filename cannot be current or parent directory", model.ErrInvalidInput)
	}

	stem := cleaned
	if idx := strings.Index(cleaned, "."); idx >= 0 {
		stem = cleaned[:idx]
	}

	if _, exists := windowsReservedNames[strings.ToUpper(stem)]; exists {
		return "", fmt.Errorf("%w: reserved filename %q", model.ErrInvalidInput, cleaned)
	}

	return cleaned, nil
}

// ArchiveName is SanitizeFilename for archive entries: titles that cannot be
// cleaned are replaced rather than rejected.
func ArchiveName(title string) string {
	name, err := SanitizeFilename(title, true)
	if err == nil {
		return name
	}
	visible := strings.Map(func(r rune) rune {
		if r == 0 || unicode.IsControl(r) || isInvisibleUnicode(r) {
			return -1
		}
		return r
	}, title)
	stripped := invalidFilenameChars.ReplaceAllString(strings.TrimSpace(visible), "_")
	if stripped == "" || stripped == "." || stripped == ".." {
		return "_"
	}
	return "_" + stripped
}

// isInvisibleUnicode returns true for zero-width, formatting, and other
// invisible Unicode characters that should be stripped from filenames.
func isInvisibleUnicode(r rune) bool {
	switch r {
	case
		'\u200B', // Zero-Width Space
		'\u200C', // Zero-Width Non-Joiner
		'\u200D', // Zero-Width Joiner
		'\u200E', // Left-to-Right Mark
		'\u200F', // Right-to-Left Mark
		'\u2060', // Word Joiner
		'\u2061', // Function Application
		'\u2062', // Invisible Times
		'\u2063', // Invisible Separator
		'\u2064', // Invisible Plus
		'\uFEFF', // Zero-Width No-Break Space / BOM
		'\uFFF9', // Interlinear Annotation Anchor
		'\uFFFA', // Interlinear Annotation Separator
		'\uFFFB': // Interlinear Annotation Terminator
		return true
	}

	// Unicode categories for format and non-characters
	if unicode.Is(unicode.Cf, r) { // Format characters (Cf category)
		return true
	}

	return false
}
