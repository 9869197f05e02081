package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ticketscan/internal"
	"ticketscan/internal/config"
	"ticketscan/internal/logging"
	"ticketscan/internal/ocr"
	"ticketscan/internal/storage"
)

type ProcessingService struct {
	db         *storage.DB
	cfg        config.Config
	recognizer Recognizer
	scanner    *Scanner
	logger     *slog.Logger
}

func NewProcessingService(db *storage.DB, cfg config.Config, rec Recognizer, logger *slog.Logger) *ProcessingService {
	logger = logging.OrDefault(logger)
	return &ProcessingService{
		db:         db,
		cfg:        cfg,
		recognizer: rec,
		scanner:    ScannerFromConfig(cfg, logger),
		logger:     logger,
	}
}

// ScannerFromConfig builds a scanner with STREET_SUFFIXES / TASK_KEYWORDS applied.
func ScannerFromConfig(cfg config.Config, logger *slog.Logger) *Scanner {
	vocab := DefaultVocabulary().WithOverrides(cfg.StreetSuffixes, cfg.TaskKeywords)
	return NewScanner(NewClassifier(vocab), logger)
}

func (s *ProcessingService) Scanner() *Scanner { return s.scanner }

type ProcessResult struct {
	EmailID int
	Skipped bool
	Tickets int
	Entries int
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

// ProcessPending processes fetched emails oldest first and returns the number
// of emails and entries handled before the first failure.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (int, int, error) {
	pending, err := s.db.ListEmailsByStatus("fetched", provider, limit)
	if err != nil {
		return 0, 0, err
	}
	processedEmails := 0
	processedEntries := 0
	for _, email := range pending {
		if err := ctx.Err(); err != nil {
			return processedEmails, processedEntries, err
		}
		res, err := s.ProcessEmail(ctx, email)
		if err != nil {
			return processedEmails, processedEntries, err
		}
		processedEmails++
		processedEntries += res.Entries
	}
	return processedEmails, processedEntries, nil
}

func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (ProcessResult, error) {
	start := time.Now()
	traceID := uuid.NewString()
	log := s.logger.With("trace_id", traceID, "email_id", email.ID)

	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		return ProcessResult{}, err
	}

	env, err := ExtractTicketDocuments(raw)
	if err != nil {
		return ProcessResult{}, err
	}

	detect := DetectTicket(firstNonEmpty(env.Subject, email.Subject), env.Text, env.AttachmentNames)
	if err := s.db.ClearEmailProcessing(email.ID); err != nil {
		return ProcessResult{}, err
	}

	emailID := email.ID
	if !detect.IsTicket {
		log.Info("email skipped", "score", detect.Score, "reason", detect.Reason)
		if err := s.db.UpdateEmailStatus(email.ID, "skipped"); err != nil {
			return ProcessResult{}, fmt.Errorf("mark email %d skipped: %w", email.ID, err)
		}
		_ = s.db.InsertRun(traceID, &emailID, map[string]float64{"totalMs": msSince(start)}, map[string]int{"documents": len(env.Documents), "tickets": 0, "entries": 0})
		return ProcessResult{EmailID: email.ID, Skipped: true}, nil
	}

	ocrStart := time.Now()
	texts, err := s.resolveAll(ctx, log, env.Documents)
	if err != nil {
		return ProcessResult{}, err
	}
	ocrMs := msSince(ocrStart)

	res := ProcessResult{EmailID: email.ID}
	for i, doc := range env.Documents {
		if strings.TrimSpace(texts[i]) == "" {
			continue
		}
		result := s.scanner.Extract(texts[i])
		if _, err := s.RecordScan(&emailID, doc, result); err != nil {
			return ProcessResult{}, err
		}
		res.Tickets++
		res.Entries += len(result.Entries)
	}

	if err := s.db.UpdateEmailStatus(email.ID, "processed"); err != nil {
		return ProcessResult{}, err
	}
	_ = s.db.InsertRun(traceID, &emailID,
		map[string]float64{"ocrMs": ocrMs, "totalMs": msSince(start)},
		map[string]int{"documents": len(env.Documents), "tickets": res.Tickets, "entries": res.Entries},
	)
	log.Info("email processed", "documents", len(env.Documents), "tickets", res.Tickets, "entries", res.Entries)

	return res, nil
}

// resolveAll runs OCR for the documents of one email, OCR_CONCURRENCY at a time.
// Attachments that are not decodable images are skipped.
func (s *ProcessingService) resolveAll(ctx context.Context, log *slog.Logger, docs []internal.TicketDocument) ([]string, error) {
	texts := make([]string, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.OCRConcurrency))
	for i, doc := range docs {
		g.Go(func() error {
			text, err := ResolveText(gctx, s.recognizer, doc)
			if errors.Is(err, ocr.ErrInvalidImage) {
				log.Warn("attachment skipped", "name", doc.Name, "error", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", doc.Name, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

// RecordScan stores a scanned document as a ticket with its entries.
func (s *ProcessingService) RecordScan(emailID *int, doc internal.TicketDocument, result internal.ScanResult) (int, error) {
	ticketID, err := s.db.InsertTicket(internal.TicketRow{
		EmailID:        emailID,
		Source:         string(doc.Source),
		Name:           doc.Name,
		Hash:           documentHash(doc, result.RawText),
		RawText:        result.RawText,
		NormalizedText: strings.Join(result.Lines, "\n"),
	})
	if err != nil {
		return 0, err
	}
	if err := s.db.InsertEntries(ticketID, result.Entries); err != nil {
		return 0, err
	}
	return ticketID, nil
}

func documentHash(doc internal.TicketDocument, text string) string {
	payload := doc.Content
	if len(payload) == 0 {
		payload = []byte(text)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Milliseconds())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
