package pipeline

import "strings"

type DetectResult struct {
	IsTicket bool
	Score    float64
	Reason   string
}

var detectKeywords = []string{"ticket", "work order", "route", "service", "maint", "vacuum", "opening", "tuesday"}

// DetectTicket scores an email on keywords, customer-shaped lines and
// scannable attachments. Emails under 0.45 are skipped.
func DetectTicket(subject, text string, attachmentNames []string) DetectResult {
	subject = strings.ToLower(subject)
	lower := strings.ToLower(text)

	score := 0.0
	for _, kw := range detectKeywords {
		if strings.Contains(subject, kw) {
			score += 0.2
		}
		if strings.Contains(lower, kw) {
			score += 0.1
		}
	}

	customers := countCustomerLines(text)
	if customers >= 2 {
		score += 0.4
	} else if customers == 1 {
		score += 0.2
	}

	for _, name := range attachmentNames {
		if isScannableName(name) {
			score += 0.25
			break
		}
	}

	if score > 1 {
		score = 1
	}

	isTicket := score >= 0.45
	reason := "rules_negative"
	if isTicket {
		reason = "rules_positive"
	}

	return DetectResult{IsTicket: isTicket, Score: score, Reason: reason}
}

func countCustomerLines(text string) int {
	count := 0
	for _, line := range NormalizeText(text) {
		if customerPattern.MatchString(line) {
			count++
		}
	}
	return count
}

func isScannableName(name string) bool {
	ln := strings.ToLower(strings.TrimSpace(name))
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".webp", ".pdf", ".txt"} {
		if strings.HasSuffix(ln, ext) {
			return true
		}
	}
	return false
}
