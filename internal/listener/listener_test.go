package listener

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"grantledger/internal"
	"grantledger/internal/catalog"
	"grantledger/internal/config"
	"grantledger/internal/pipeline"
	"grantledger/internal/storage"
)

type fakeConnector struct {
	messages []internal.FetchedMailMessage
	err      error
	calls    int
}

func (f *fakeConnector) FetchInbox(_ context.Context, _ string, _ int) ([]internal.FetchedMailMessage, error) {
	f.calls++
	return f.messages, f.err
}

const invoice = `From: orders@vendor.com
Subject: Order confirmation
Content-Type: text/plain; charset=utf-8

Vendor: NEB
T4 DNA Ligase - $120.00
BSA 10mg - $35.50
`

func newTestService(t *testing.T, conn *fakeConnector) (*Service, *storage.DB) {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	rules, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{
		InboxDir:                 filepath.Join(tmp, "inbox"),
		OutputDir:                tmp,
		MailListenerProvider:     "imap",
		MailListenerLabel:        "INBOX",
		MailListenerFetchMax:     10,
		MailListenerProcessBatch: 10,
		MailListenerInterval:     10 * time.Millisecond,
	}
	return NewService(db, cfg, pipeline.NewClassifier(rules)).WithConnector(conn), db
}

func TestRunCycle(t *testing.T) {
	conn := &fakeConnector{messages: []internal.FetchedMailMessage{{
		Provider:   "imap",
		MessageID:  "<o-1@vendor.com>",
		Subject:    "Order confirmation",
		From:       "orders@vendor.com",
		ReceivedAt: "2026-02-08T09:30:00Z",
		Raw:        []byte(invoice),
	}}}
	svc, db := newTestService(t, conn)

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	msg, err := db.GetMessageByProviderMessageID("imap", "<o-1@vendor.com>")
	if err != nil || msg == nil {
		t.Fatalf("msg=%v err=%v", msg, err)
	}
	if msg.Status != pipeline.StatusProcessed {
		t.Fatalf("status=%s", msg.Status)
	}
	runs, err := db.ListImportRuns(5)
	if err != nil || len(runs) != 1 || runs[0].Rows != 2 || runs[0].TotalCost != 155.5 {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
	last, err := db.GetMetadata(LastCycleKey)
	if err != nil || last == nil {
		t.Fatalf("last=%v err=%v", last, err)
	}

	// A refetch of the same message must not process it twice.
	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if runs, _ := db.ListImportRuns(5); len(runs) != 1 {
		t.Fatalf("runs=%d", len(runs))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	conn := &fakeConnector{err: errors.New("mailbox down")}
	svc, _ := newTestService(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if conn.calls < 2 {
		t.Fatalf("calls=%d", conn.calls)
	}
}
