package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByTagPrefix retrieves the device bound to a broker tag prefix.
	// Returns ErrNotFound if no device carries the prefix.
	GetByTagPrefix(ctx context.Context, prefix string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateAttribute applies one coerced tag value to the device bound
	// to the tag prefix, atomically with respect to concurrent reads of
	// the same device. Optimised for the inbound tag-update path.
	UpdateAttribute(ctx context.Context, prefix, suffix string, value any) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = "id, name, kind, room, tag, attributes, created_at, updated_at"

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetByTagPrefix retrieves the device bound to a broker tag prefix.
func (r *SQLiteRepository) GetByTagPrefix(ctx context.Context, prefix string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE tag = ?", prefix)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by tag: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+deviceColumns+" FROM devices ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}

// Create inserts a new device. An empty ID is assigned a fresh UUID;
// zero attributes get the kind's zero variant.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, d.Kind)
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Attributes == nil {
		attrs, err := NewAttributes(d.Kind)
		if err != nil {
			return err
		}
		d.Attributes = attrs
	}

	attrsJSON, err := json.Marshal(d.Attributes)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, kind, room, tag, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Kind), d.Room, d.Tag, string(attrsJSON),
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	attrsJSON, err := json.Marshal(d.Attributes)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	d.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, kind = ?, room = ?, tag = ?, attributes = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, string(d.Kind), d.Room, d.Tag, string(attrsJSON),
		d.UpdatedAt.Format(time.RFC3339), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireRow(res)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(res)
}

// UpdateAttribute applies one coerced tag value inside a transaction:
// read the attribute document, mutate the addressed field, write it
// back. SQLite's single-writer connection serializes these with any
// concurrent Update of the same device.
func (r *SQLiteRepository) UpdateAttribute(ctx context.Context, prefix, suffix string, value any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op if committed

	var (
		id       string
		kindRaw  string
		attrsRaw string
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, kind, attributes FROM devices WHERE tag = ?", prefix,
	).Scan(&id, &kindRaw, &attrsRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("querying device by tag: %w", err)
	}

	attrs, err := unmarshalAttributes(Kind(kindRaw), []byte(attrsRaw))
	if err != nil {
		return err
	}
	if err := attrs.ApplyTagValue(suffix, value); err != nil {
		return err
	}

	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE devices SET attributes = ?, updated_at = ? WHERE id = ?",
		string(attrsJSON), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("writing attributes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing attribute update: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanDevice.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice reads one device row, decoding the attribute variant from
// the kind discriminator.
func scanDevice(s scanner) (*Device, error) {
	var (
		d         Device
		kindRaw   string
		attrsRaw  string
		createdAt string
		updatedAt string
	)
	if err := s.Scan(&d.ID, &d.Name, &kindRaw, &d.Room, &d.Tag, &attrsRaw, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.Kind = Kind(kindRaw)
	attrs, err := unmarshalAttributes(d.Kind, []byte(attrsRaw))
	if err != nil {
		return nil, err
	}
	d.Attributes = attrs

	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &d, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
