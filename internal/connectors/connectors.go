package connectors

import (
	"context"

	"ticketscan/internal"
)

// MailConnector pulls candidate ticket emails from a mailbox.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}
