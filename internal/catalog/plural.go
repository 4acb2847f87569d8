package catalog

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// PluralSeparator joins plural forms into one stored string
const PluralSeparator = "\x1e\x1e"

// IsPlural reports whether s holds more than one plural form
func IsPlural(s string) bool {
	return strings.Contains(s, PluralSeparator)
}

// SplitPlural splits a joined string into its plural forms
func SplitPlural(s string) []string {
	return strings.Split(s, PluralSeparator)
}

// JoinPlural joins plural forms into one string
func JoinPlural(forms []string) string {
	return strings.Join(forms, PluralSeparator)
}

// Checksum identifies a unit by its source and context. Two entries with the
// same checksum are the same message in different translations.
func Checksum(source, context string) string {
	sum := sha1.Sum([]byte(source + context))
	return hex.EncodeToString(sum[:])
}
