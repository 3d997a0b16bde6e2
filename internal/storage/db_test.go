package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"grantledger/internal"
	"grantledger/internal/ledger"
	"grantledger/internal/util"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLedgerOverSQLite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := ledger.NewService(db, nil)

	if _, err := svc.CreateGrant(ctx, "G-1", "NIH R01", 100, []string{"Antibodies"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateGrant(ctx, "G-2", "nih r01", 10, nil); !errors.Is(err, ledger.ErrDuplicateGrant) {
		t.Fatalf("duplicate name: got %v", err)
	}

	_, _ = svc.Allocate(ctx, "NIH R01", 30)
	g, err := svc.Allocate(ctx, "NIH R01", 20)
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 50 || g.NetAmount != 50 {
		t.Fatalf("after allocations: %+v", g)
	}

	stored, err := db.GrantByName(ctx, "NIH R01")
	if err != nil {
		t.Fatal(err)
	}
	if stored.AllocatedCost != 50 || stored.NetAmount != 50 || len(stored.AllowedItems) != 1 {
		t.Fatalf("stored: %+v", stored)
	}

	g, err = svc.ResetAllocation(ctx, "NIH R01")
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 0 || g.NetAmount != 100 {
		t.Fatalf("after reset: %+v", g)
	}

	history, err := svc.History(ctx, "NIH R01")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 || history[0].Kind != internal.EntryAllocate || history[2].Kind != internal.EntryReset {
		t.Fatalf("history: %+v", history)
	}

	if _, err := svc.Allocate(ctx, "Unknown", 5); !errors.Is(err, ledger.ErrGrantNotFound) {
		t.Fatalf("unknown grant: got %v", err)
	}

	ok, err := svc.DeleteGrant(ctx, "G-1")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	entries, err := db.Entries(ctx, "G-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("journal should go with the grant: %+v", entries)
	}
	ok, err = svc.DeleteGrant(ctx, "G-1")
	if err != nil || ok {
		t.Fatalf("second delete: ok=%v err=%v", ok, err)
	}
}

func TestNullAllocationReadsAsZero(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.conn.Exec(`INSERT INTO grants (id, name, totalBalance) VALUES ('L-1', 'Legacy', 80)`); err != nil {
		t.Fatal(err)
	}

	g, err := db.GrantByName(ctx, "legacy")
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 0 || g.NetAmount != 80 {
		t.Fatalf("got %+v", g)
	}

	svc := ledger.NewService(db, nil)
	g, err = svc.Allocate(ctx, "Legacy", 5)
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 5 || g.NetAmount != 75 {
		t.Fatalf("got %+v", g)
	}
}

func TestCorruptAllowedItemsIsAnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.conn.Exec(`INSERT INTO grants (id, name, totalBalance, allowedItems) VALUES ('C-1', 'Corrupt', 50, '{not json')`); err != nil {
		t.Fatal(err)
	}

	if _, err := db.GrantByName(ctx, "Corrupt"); err == nil || !strings.Contains(err.Error(), "C-1") {
		t.Fatalf("GrantByName: got %v", err)
	}
	if _, err := db.ListGrants(ctx); err == nil {
		t.Fatal("ListGrants: expected error")
	}
	svc := ledger.NewService(db, nil)
	if _, err := svc.Allocate(ctx, "Corrupt", 5); err == nil {
		t.Fatal("Allocate: expected error")
	}
}

func TestFailedMutationLeavesRowUntouched(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := ledger.NewService(db, nil)
	if _, err := svc.CreateGrant(ctx, "G-1", "NSF", 40, nil); err != nil {
		t.Fatal(err)
	}
	_, _ = svc.Allocate(ctx, "NSF", 10)

	if _, err := svc.Release(ctx, "NSF", 25); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("got %v", err)
	}
	g, _ := db.GrantByName(ctx, "NSF")
	if g.AllocatedCost != 10 || g.NetAmount != 30 {
		t.Fatalf("got %+v", g)
	}
	entries, _ := db.Entries(ctx, "G-1")
	if len(entries) != 1 {
		t.Fatalf("entries: %+v", entries)
	}
}

func TestConcurrentAllocationsOverSQLite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	svc := ledger.NewService(db, nil)
	if _, err := svc.CreateGrant(ctx, "G-1", "NIH R01", 100, nil); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Allocate(ctx, "NIH R01", 2.5); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	g, err := db.GrantByName(ctx, "NIH R01")
	if err != nil {
		t.Fatal(err)
	}
	if g.AllocatedCost != 50 || g.NetAmount != 50 {
		t.Fatalf("lost updates: %+v", g)
	}
}

func TestInboxAndImportRuns(t *testing.T) {
	db := openTestDB(t)

	msg, err := db.UpsertMessage("imap", "<order-1@example.com>", "Invoice", "sales@vendor.com", "2026-02-08T00:00:00Z", "hash", "/tmp/a.eml", "fetched")
	if err != nil {
		t.Fatal(err)
	}
	again, err := db.UpsertMessage("imap", "<order-1@example.com>", "Invoice #2", "sales@vendor.com", "2026-02-08T00:00:00Z", "hash", "/tmp/a.eml", "fetched")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != msg.ID || again.Subject != "Invoice #2" {
		t.Fatalf("upsert should update in place: %+v", again)
	}

	pending, err := db.ListMessagesByStatus("fetched", 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending=%v err=%v", pending, err)
	}
	if err := db.UpdateMessageStatus(msg.ID, "processed"); err != nil {
		t.Fatal(err)
	}
	if pending, _ := db.ListMessagesByStatus("fetched", 10); len(pending) != 0 {
		t.Fatalf("status not updated")
	}

	if _, err := db.InsertImportRun(internal.ImportRun{TraceID: "t1", MessageID: util.IntPtr(msg.ID), Source: "mail", Tables: 2, Rows: 5, CoercedCells: 1, TotalCost: 12.5, ReportPath: util.StringPtr("/tmp/r.xlsx")}); err != nil {
		t.Fatal(err)
	}
	runs, err := db.ListImportRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].MessageID == nil || *runs[0].MessageID != msg.ID || runs[0].TotalCost != 12.5 {
		t.Fatalf("runs: %+v", runs)
	}

	if err := db.SetMetadata("gmail_history", "42"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetMetadata("gmail_history")
	if err != nil || v == nil || *v != "42" {
		t.Fatalf("metadata=%v err=%v", v, err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.CreateGrant(context.Background(), internal.Grant{ID: "G-1", Name: "NSF", TotalBalance: 1, NetAmount: 1}); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	grants, err := db.ListGrants(context.Background())
	if err != nil || len(grants) != 1 {
		t.Fatalf("grants=%v err=%v", grants, err)
	}
}
