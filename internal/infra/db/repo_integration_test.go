//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"certnode/internal/domain"
	"certnode/internal/graph"
)

func TestReceiptRepository_JournalAndReplay(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	ctx := context.Background()
	repo := NewReceiptRepository(db)

	store := graph.NewStore(graph.WithJournal(repo))
	root := signedReceipt(t)
	if _, err := store.Insert(ctx, root, nil); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	child := signedReceipt(t)
	if _, err := store.Insert(ctx, child, []graph.LinkRequest{{ParentID: root.ID, RelationType: domain.RelationCauses}}); err != nil {
		t.Fatalf("insert child: %v", err)
	}
	if err := repo.AppendReceipt(ctx, root, nil); !errors.Is(err, domain.ErrDuplicateReceipt) {
		t.Fatalf("expected duplicate receipt, got %v", err)
	}

	replayed := graph.NewStore()
	if err := replayed.Load(ctx, repo); err != nil {
		t.Fatalf("load: %v", err)
	}
	if replayed.Len() != 2 {
		t.Fatalf("expected 2 receipts, got %d", replayed.Len())
	}
	if parents := replayed.Snapshot().ParentIDs(child.ID); len(parents) != 1 || parents[0] != root.ID {
		t.Fatalf("expected child linked to root, got %v", parents)
	}

	env, err := repo.GetEnvelope(ctx, root.ID)
	if err != nil {
		t.Fatalf("get envelope: %v", err)
	}
	if env.ReceiptID != root.ID {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if _, err := repo.GetEnvelope(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	lockTestDB(t, db)
	store := &Store{DB: db}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func lockTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_lock(987654321)"); err != nil {
		t.Fatalf("lock test db: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(987654321)")
		_ = conn.Close()
	})
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`TRUNCATE receipts, receipt_relationships RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
