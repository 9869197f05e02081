package pipeline

import (
	"log/slog"
	"strings"

	"ticketscan/internal"
	"ticketscan/internal/logging"
)

const (
	windowSize = 4
	// A window only starts while at least this many lines remain from the cursor.
	minWindowLines = 3
	advanceOnEntry = 3
	advanceOnMiss  = 1
)

// Scanner slides a fixed window over normalized lines and assembles entries.
// It holds no per-call state and is safe for concurrent use.
type Scanner struct {
	classifier *Classifier
	logger     *slog.Logger
}

func NewScanner(classifier *Classifier, logger *slog.Logger) *Scanner {
	if classifier == nil {
		classifier = NewClassifier(DefaultVocabulary())
	}
	return &Scanner{classifier: classifier, logger: logging.OrDefault(logger)}
}

// Scan returns the entries found in lines, in the order their windows were visited.
// A window yields an entry only when it has both a customer and a product line;
// the cursor then moves 3 lines, otherwise 1.
func (s *Scanner) Scan(lines []string) []internal.Entry {
	entries := []internal.Entry{}
	i := 0
	for i <= len(lines)-minWindowLines {
		end := min(i+windowSize, len(lines))

		var fs fieldSet
		for _, line := range lines[i:end] {
			s.classifier.absorb(&fs, line)
		}

		if fs.customer != "" && fs.product != "" {
			entries = append(entries, internal.Entry{
				Customer:  fs.customer,
				Address:   fs.address,
				Product:   fs.product,
				Quantity:  1,
				Completed: internal.CompletedNo,
			})
			i += advanceOnEntry
			continue
		}
		i += advanceOnMiss
	}
	return entries
}

// Extract normalizes raw OCR text and scans it.
func (s *Scanner) Extract(raw string) internal.ScanResult {
	lines := NormalizeText(raw)
	entries := s.Scan(lines)
	s.logger.Debug("ticket text scanned",
		"raw_text", raw,
		"normalized_text", strings.Join(lines, "\n"),
		"lines", len(lines),
		"entries", len(entries),
	)
	return internal.ScanResult{RawText: raw, Lines: lines, Entries: entries}
}

// ExtractEntries runs the default vocabulary over raw OCR text.
func ExtractEntries(raw string) internal.ScanResult {
	return NewScanner(nil, nil).Extract(raw)
}
