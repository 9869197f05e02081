package connectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ticketscan/internal"
	"ticketscan/internal/config"
	"ticketscan/internal/storage"
)

type fakeConnector struct {
	messages []internal.FetchedMailMessage
}

func (f *fakeConnector) FetchInbox(_ context.Context, _ string, max int) ([]internal.FetchedMailMessage, error) {
	if max < len(f.messages) {
		return f.messages[:max], nil
	}
	return f.messages, nil
}

func TestFetchAndStore(t *testing.T) {
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	conn := &fakeConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<1@x>", Subject: "Route tickets", ReceivedAt: "2026-03-01T00:00:00Z", Raw: []byte("Subject: a\r\n\r\nA")},
		{Provider: "imap", MessageID: "<2@x>", Subject: "More tickets", ReceivedAt: "2026-03-02T00:00:00Z", Raw: []byte("Subject: b\r\n\r\nB")},
	}}
	rawDir := filepath.Join(tmp, "raw")
	svc := NewFetchService(db, rawDir, conn, nil)

	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.Stored != 2 {
		t.Fatalf("res=%+v", res)
	}

	row, err := db.MustEmailByProviderMessageID("imap", "<1@x>")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(row.RawRef) != filepath.Join(rawDir, "imap") {
		t.Fatalf("rawRef=%s", row.RawRef)
	}
	if blob, err := os.ReadFile(row.RawRef); err != nil || string(blob) != "Subject: a\r\n\r\nA" {
		t.Fatalf("raw=%q err=%v", blob, err)
	}

	// Unchanged messages are not stored twice.
	res, err = svc.FetchAndStore(context.Background(), "INBOX", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.Stored != 0 {
		t.Fatalf("second res=%+v", res)
	}

	// A changed body requeues a processed email.
	if err := db.UpdateEmailStatus(row.ID, "processed"); err != nil {
		t.Fatal(err)
	}
	conn.messages[0].Raw = []byte("Subject: a\r\n\r\nA2")
	res, err = svc.FetchAndStore(context.Background(), "INBOX", 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored != 1 {
		t.Fatalf("third res=%+v", res)
	}
	again, _ := db.GetEmailByID(row.ID)
	if again.Status != "fetched" || again.Hash == row.Hash {
		t.Fatalf("row=%+v", again)
	}
}

func TestNewConnectorUnknownProvider(t *testing.T) {
	if _, err := NewConnector(context.Background(), "pop3", config.Config{}, nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewConnector(context.Background(), "gmail", config.Config{}, nil); err == nil {
		t.Fatal("expected missing credentials error")
	}
}
