package connectors

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ticketscan/internal/config"
	gmailconnector "ticketscan/internal/connectors/gmail"
	imapconnector "ticketscan/internal/connectors/imap"
	"ticketscan/internal/logging"
	"ticketscan/internal/storage"
)

type FetchService struct {
	db        *storage.DB
	connector MailConnector
	store     *MailStoreService
	logger    *slog.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector, logger *slog.Logger) *FetchService {
	return &FetchService{
		db:        db,
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		logger:    logging.OrDefault(logger),
	}
}

// FetchAndStore pulls up to max messages from label. Messages already stored
// with the same content are counted as fetched but not stored.
func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	stored := 0
	for _, msg := range messages {
		row, isNew, err := s.store.Store(msg)
		if err != nil {
			return FetchResult{}, fmt.Errorf("store %s/%s: %w", msg.Provider, msg.MessageID, err)
		}
		if isNew {
			stored++
			s.logger.Debug("email stored", "email_id", row.ID, "provider", row.Provider, "message_id", row.MessageID, "subject", row.Subject)
		}
	}

	return FetchResult{Fetched: len(messages), Stored: stored}, nil
}

// NewConnector builds the connector for a provider name (gmail or imap).
func NewConnector(ctx context.Context, provider string, cfg config.Config, logger *slog.Logger) (MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(ctx, cfg, logger)
	case "imap":
		return imapconnector.NewConnector(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", provider)
	}
}
