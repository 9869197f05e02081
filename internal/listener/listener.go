package listener

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"ticketscan/internal/config"
	"ticketscan/internal/connectors"
	"ticketscan/internal/logging"
	"ticketscan/internal/pipeline"
	"ticketscan/internal/storage"
)

// ConnectorFactory builds the mail connector for one cycle.
type ConnectorFactory func(ctx context.Context, provider string) (connectors.MailConnector, error)

type Service struct {
	db        *storage.DB
	cfg       config.Config
	processor *pipeline.ProcessingService
	newConn   ConnectorFactory
	logger    *slog.Logger
}

func NewService(db *storage.DB, cfg config.Config, rec pipeline.Recognizer, logger *slog.Logger) *Service {
	logger = logging.OrDefault(logger).With("component", "listener")
	s := &Service{
		db:        db,
		cfg:       cfg,
		processor: pipeline.NewProcessingService(db, cfg, rec, logger),
		logger:    logger,
	}
	s.newConn = func(ctx context.Context, provider string) (connectors.MailConnector, error) {
		return connectors.NewConnector(ctx, provider, cfg, logger)
	}
	return s
}

func (s *Service) WithConnectorFactory(f ConnectorFactory) *Service {
	s.newConn = f
	return s
}

// Run polls the mailbox every MAIL_LISTENER_INTERVAL_SEC until ctx is done.
// A failed cycle is logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(max(1, s.cfg.MailListenerIntervalSec)) * time.Second
	last, err := s.LastCycleAt()
	if err != nil {
		return err
	}
	s.logger.Info("listener started", "provider", s.provider(), "label", s.cfg.MailListenerLabel, "interval", interval, "last_cycle_at", last)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("listener cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("listener stopped")
			return nil
		case <-ticker.C:
		}
	}
}

type CycleResult struct {
	Fetched   int
	Stored    int
	Processed int
	Entries   int
	Exported  int
}

func (s *Service) RunCycle(ctx context.Context) error {
	_, err := s.runCycle(ctx)
	return err
}

func (s *Service) runCycle(ctx context.Context) (CycleResult, error) {
	provider := s.provider()
	conn, err := s.newConn(ctx, provider)
	if err != nil {
		return CycleResult{}, err
	}

	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, conn, s.logger)
	fetchResult, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return CycleResult{}, fmt.Errorf("fetch: %w", err)
	}

	processed, entries, err := s.processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return CycleResult{}, fmt.Errorf("process: %w", err)
	}

	res := CycleResult{Fetched: fetchResult.Fetched, Stored: fetchResult.Stored, Processed: processed, Entries: entries}
	if s.cfg.MailListenerAutoExport {
		exported, err := s.exportProcessed(provider)
		if err != nil {
			return res, fmt.Errorf("export: %w", err)
		}
		res.Exported = exported
	}

	if err := s.db.SetMetadata(lastCycleKey(provider), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return res, fmt.Errorf("record cycle: %w", err)
	}

	s.logger.Info("listener cycle done",
		"provider", provider,
		"fetched", res.Fetched,
		"stored", res.Stored,
		"processed", res.Processed,
		"entries", res.Entries,
		"exported", res.Exported,
	)
	return res, nil
}

func (s *Service) exportProcessed(provider string) (int, error) {
	emails, err := s.db.ListEmailsByStatus("processed", provider, 200)
	if err != nil {
		return 0, err
	}

	exported := 0
	for _, email := range emails {
		rows, err := s.db.GetExportRowsByEmail(email.ID)
		if err != nil {
			return exported, err
		}
		if len(rows) == 0 {
			// Nothing to write; move it out of the queue.
			if err := s.db.UpdateEmailStatus(email.ID, "empty"); err != nil {
				return exported, err
			}
			s.logger.Debug("email has no entries", "email_id", email.ID)
			continue
		}
		filename := fmt.Sprintf("%d_%s.xlsx", email.ID, sanitizeMessageID(email.MessageID))
		outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
		if err := pipeline.ExportRowsToXLSX(rows, outputPath); err != nil {
			return exported, err
		}
		if err := s.db.UpdateEmailStatus(email.ID, "exported"); err != nil {
			return exported, err
		}
		exported++
		s.logger.Debug("email exported", "email_id", email.ID, "path", outputPath, "entries", len(rows))
	}
	return exported, nil
}

// LastCycleAt returns the RFC 3339 time of the last successful cycle for the
// configured provider, or "" if none has completed yet.
func (s *Service) LastCycleAt() (string, error) {
	v, err := s.db.GetMetadata(lastCycleKey(s.provider()))
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func lastCycleKey(provider string) string {
	return "listener." + provider + ".lastCycleAt"
}

func (s *Service) provider() string {
	return strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "_", ">", "_", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "@", "_")
	out := repl.Replace(input)
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
