package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CleanLine uppercases a single OCR line and keeps only A-Z, 0-9, space and ",./-".
func CleanLine(input string) string {
	s := strings.ToUpper(input)
	out := strings.Builder{}
	out.Grow(len(s))
	for _, r := range s {
		if isAllowed(r) {
			out.WriteRune(r)
		}
	}
	return strings.TrimSpace(out.String())
}

func isAllowed(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == ' ' || r == ',' || r == '.' || r == '/' || r == '-':
		return true
	default:
		return false
	}
}

// TitleCase capitalizes the first letter of every run of letters and lowercases
// the rest. Any non-letter, including '.', starts a new word: "MR.SMITH" becomes
// "Mr.Smith" and "2ND" becomes "2Nd".
func TitleCase(input string) string {
	// Casers keep state between calls, so one per call.
	caser := cases.Title(language.Und)
	out := strings.Builder{}
	out.Grow(len(input))
	start := -1
	for i, r := range input {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out.WriteString(caser.String(input[start:i]))
			start = -1
		}
		out.WriteRune(r)
	}
	if start >= 0 {
		out.WriteString(caser.String(input[start:]))
	}
	return out.String()
}

// SplitList parses a comma separated setting, dropping blanks and uppercasing words.
func SplitList(input string) []string {
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func StringPtr(v string) *string { return &v }

func IntPtr(v int) *int { return &v }

func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
