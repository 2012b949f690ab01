package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	_, err = db.Exec(`
		CREATE TABLE audit_logs (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT,
			subject     TEXT,
			source      TEXT NOT NULL,
			details     TEXT,
			created_at  TEXT NOT NULL
		);`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func TestRepository_CreateAndList(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	entry := &Entry{
		Action:     ActionCommand,
		EntityType: EntityDevice,
		EntityID:   "dev-1",
		Subject:    "tester",
		Source:     "api",
		Details:    map[string]any{"attribute": "power", "value": true},
	}
	if err := repo.Create(ctx, entry); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if entry.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}
	if entry.CreatedAt.IsZero() {
		t.Fatal("Create() did not set CreatedAt")
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 1 || len(result.Entries) != 1 {
		t.Fatalf("List() total = %d, entries = %d", result.Total, len(result.Entries))
	}

	got := result.Entries[0]
	if got.Action != ActionCommand || got.EntityID != "dev-1" || got.Subject != "tester" {
		t.Errorf("entry = %+v", got)
	}
	if got.Details["attribute"] != "power" || got.Details["value"] != true {
		t.Errorf("details = %v", got.Details)
	}
}

func TestRepository_ListFilters(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	seed := []*Entry{
		{Action: ActionCommand, EntityType: EntityDevice, EntityID: "dev-1", Source: "api"},
		{Action: ActionCreate, EntityType: EntityDevice, EntityID: "dev-2", Source: "api"},
		{Action: ActionCreate, EntityType: EntityAutomation, EntityID: "auto-1", Source: "api"},
	}
	for _, e := range seed {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Action: ActionCreate})
	if err != nil {
		t.Fatalf("List(action) error = %v", err)
	}
	if result.Total != 2 {
		t.Errorf("action filter total = %d, want 2", result.Total)
	}

	result, err = repo.List(ctx, Filter{EntityType: EntityAutomation})
	if err != nil {
		t.Fatalf("List(entity_type) error = %v", err)
	}
	if result.Total != 1 || result.Entries[0].EntityID != "auto-1" {
		t.Errorf("entity_type filter = %+v", result)
	}

	result, err = repo.List(ctx, Filter{EntityID: "dev-1"})
	if err != nil {
		t.Fatalf("List(entity_id) error = %v", err)
	}
	if result.Total != 1 || result.Entries[0].Action != ActionCommand {
		t.Errorf("entity_id filter = %+v", result)
	}
}

func TestRepository_ListNewestFirst(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := &Entry{
			Action:     ActionUpdate,
			EntityType: EntityDevice,
			EntityID:   "dev-1",
			Source:     "api",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, entry); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(result.Entries))
	}
	if !result.Entries[0].CreatedAt.After(result.Entries[1].CreatedAt) {
		t.Errorf("entries not newest-first: %v then %v",
			result.Entries[0].CreatedAt, result.Entries[1].CreatedAt)
	}
	if result.Total != 3 {
		t.Errorf("total = %d, want 3", result.Total)
	}
}

func TestRepository_LimitClamping(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	result, err := repo.List(ctx, Filter{Limit: 10000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Limit != maxListLimit {
		t.Errorf("limit = %d, want %d", result.Limit, maxListLimit)
	}
	if result.Offset != 0 {
		t.Errorf("offset = %d, want 0", result.Offset)
	}
}
