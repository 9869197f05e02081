package pipeline

import (
	"strings"

	"ticketscan/internal/util"
)

// NormalizeText splits OCR output into cleaned, non-empty lines in original order.
func NormalizeText(raw string) []string {
	parts := strings.Split(raw, "\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		line := util.CleanLine(p)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
