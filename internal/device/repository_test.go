package device

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// openTestDB opens a throwaway SQLite database with the devices schema.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	_, err = db.Exec(`
		CREATE TABLE devices (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			room       TEXT NOT NULL DEFAULT '',
			tag        TEXT NOT NULL DEFAULT '',
			attributes TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_devices_tag ON devices(tag) WHERE tag != '';`)
	if err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	return db
}

func newTestLight(tag string) *Device {
	return &Device{
		Name: "Lounge Light",
		Kind: KindLight,
		Room: "lounge",
		Tag:  tag,
		Attributes: &LightAttributes{
			On:         true,
			Brightness: 50,
		},
	}
}

func TestRepository_CreateAndGetByID(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	d := newTestLight("home.light01")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Lounge Light" || got.Kind != KindLight {
		t.Errorf("GetByID() = %+v", got)
	}

	attrs, ok := got.Attributes.(*LightAttributes)
	if !ok {
		t.Fatalf("Attributes type = %T, want *LightAttributes", got.Attributes)
	}
	if !attrs.On || attrs.Brightness != 50 {
		t.Errorf("attributes = %+v", attrs)
	}
}

func TestRepository_GetByTagPrefix(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	d := newTestLight("home.light01")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByTagPrefix(ctx, "home.light01")
	if err != nil {
		t.Fatalf("GetByTagPrefix() error = %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("GetByTagPrefix() ID = %q, want %q", got.ID, d.ID)
	}

	_, err = repo.GetByTagPrefix(ctx, "home.nothing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByTagPrefix(miss) error = %v, want ErrNotFound", err)
	}
}

func TestRepository_CreateDuplicate(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	d := newTestLight("home.light01")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := newTestLight("home.light02")
	dup.ID = d.ID
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrExists) {
		t.Errorf("Create(dup) error = %v, want ErrExists", err)
	}
}

func TestRepository_CreateInvalidKind(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))

	err := repo.Create(context.Background(), &Device{Name: "x", Kind: "toaster"})
	if !errors.Is(err, ErrInvalidKind) {
		t.Errorf("Create() error = %v, want ErrInvalidKind", err)
	}
}

func TestRepository_UpdateAndDelete(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	d := newTestLight("home.light01")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	d.Name = "Hall Light"
	d.Attributes.(*LightAttributes).Brightness = 80
	if err := repo.Update(ctx, d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Hall Light" || got.Attributes.(*LightAttributes).Brightness != 80 {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := repo.Delete(ctx, d.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(deleted) error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRepository_List(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	for _, tag := range []string{"home.light01", "home.light02", "home.fan01"} {
		d := newTestLight(tag)
		d.Name = tag
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", tag, err)
		}
	}

	devices, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("List() returned %d devices, want 3", len(devices))
	}
}

func TestRepository_UpdateAttribute(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	d := newTestLight("home.light01")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.UpdateAttribute(ctx, "home.light01", "Brightness", 80); err != nil {
		t.Fatalf("UpdateAttribute() error = %v", err)
	}

	got, err := repo.GetByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	attrs := got.Attributes.(*LightAttributes)
	if attrs.Brightness != 80 {
		t.Errorf("Brightness = %d, want 80", attrs.Brightness)
	}
	if !attrs.On {
		t.Error("On flag was clobbered by the attribute update")
	}

	// Unknown prefix
	err = repo.UpdateAttribute(ctx, "home.nothing", "Brightness", 10)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateAttribute(miss) error = %v, want ErrNotFound", err)
	}

	// Suffix not valid for the kind
	err = repo.UpdateAttribute(ctx, "home.light01", "set_temp", 21.5)
	if !errors.Is(err, ErrUnknownAttribute) {
		t.Errorf("UpdateAttribute(bad suffix) error = %v, want ErrUnknownAttribute", err)
	}
}
