package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for automation persistence.
type Repository interface {
	// GetByID retrieves an automation by ID.
	// Returns ErrNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Automation, error)

	// List retrieves all automations.
	List(ctx context.Context) ([]Automation, error)

	// ListActive retrieves all active automations. Called every
	// scheduler tick; kept as a single indexed query.
	ListActive(ctx context.Context) ([]Automation, error)

	// Create inserts a new automation.
	Create(ctx context.Context, a *Automation) error

	// Update modifies an existing automation.
	// Returns ErrNotFound if it does not exist.
	Update(ctx context.Context, a *Automation) error

	// Delete removes an automation by ID.
	// Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateSolarTriggers rewrites the trigger time of every active
	// automation anchored to the given solar event, in one statement.
	UpdateSolarTriggers(ctx context.Context, event SolarEvent, triggerTime string) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const automationColumns = "id, title, device_id, trigger_time, repeat_days, solar_event, action, active, created_at, updated_at"

// GetByID retrieves an automation by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Automation, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+automationColumns+" FROM automations WHERE id = ?", id)

	a, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying automation: %w", err)
	}
	return a, nil
}

// List retrieves all automations.
func (r *SQLiteRepository) List(ctx context.Context) ([]Automation, error) {
	return r.query(ctx, "SELECT "+automationColumns+" FROM automations ORDER BY trigger_time")
}

// ListActive retrieves all active automations.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Automation, error) {
	return r.query(ctx, "SELECT "+automationColumns+" FROM automations WHERE active = 1 ORDER BY trigger_time")
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]Automation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing automations: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var automations []Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning automation row: %w", err)
		}
		automations = append(automations, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automation rows: %w", err)
	}
	return automations, nil
}

// Create inserts a new automation. An empty ID is assigned a fresh UUID.
func (r *SQLiteRepository) Create(ctx context.Context, a *Automation) error {
	if err := a.validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	actionJSON, err := json.Marshal(a.Action)
	if err != nil {
		return fmt.Errorf("marshalling action: %w", err)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automations (id, title, device_id, trigger_time, repeat_days, solar_event, action, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Title, a.DeviceID, a.TriggerTime, encodeRepeatDays(a.RepeatDays),
		string(a.SolarEvent), string(actionJSON), boolToInt(a.Active),
		a.CreatedAt.Format(time.RFC3339), a.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting automation: %w", err)
	}
	return nil
}

// Update modifies an existing automation.
func (r *SQLiteRepository) Update(ctx context.Context, a *Automation) error {
	if err := a.validate(); err != nil {
		return err
	}

	actionJSON, err := json.Marshal(a.Action)
	if err != nil {
		return fmt.Errorf("marshalling action: %w", err)
	}

	a.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE automations
		SET title = ?, device_id = ?, trigger_time = ?, repeat_days = ?, solar_event = ?, action = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		a.Title, a.DeviceID, a.TriggerTime, encodeRepeatDays(a.RepeatDays),
		string(a.SolarEvent), string(actionJSON), boolToInt(a.Active),
		a.UpdatedAt.Format(time.RFC3339), a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}
	return requireRow(res)
}

// Delete removes an automation by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM automations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}
	return requireRow(res)
}

// UpdateSolarTriggers rewrites the trigger time of every active
// automation anchored to the given solar event.
func (r *SQLiteRepository) UpdateSolarTriggers(ctx context.Context, event SolarEvent, triggerTime string) (int64, error) {
	if event != SolarSunrise && event != SolarSunset {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSolarEvent, event)
	}
	if err := ValidateTriggerTime(triggerTime); err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE automations
		SET trigger_time = ?, updated_at = ?
		WHERE solar_event = ? AND active = 1`,
		triggerTime, time.Now().UTC().Format(time.RFC3339), string(event),
	)
	if err != nil {
		return 0, fmt.Errorf("updating solar triggers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

// validate checks the fields shared by Create and Update.
func (a *Automation) validate() error {
	if err := ValidateTriggerTime(a.TriggerTime); err != nil {
		return err
	}
	if !a.SolarEvent.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSolarEvent, a.SolarEvent)
	}
	for _, d := range a.RepeatDays {
		if d < 1 || d > 7 {
			return fmt.Errorf("%w: %d", ErrInvalidRepeatDays, d)
		}
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAutomation(s scanner) (*Automation, error) {
	var (
		a          Automation
		repeatRaw  string
		solarRaw   string
		actionRaw  string
		activeRaw  int
		createdRaw string
		updatedRaw string
	)
	if err := s.Scan(&a.ID, &a.Title, &a.DeviceID, &a.TriggerTime, &repeatRaw,
		&solarRaw, &actionRaw, &activeRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	days, err := decodeRepeatDays(repeatRaw)
	if err != nil {
		return nil, err
	}
	a.RepeatDays = days
	a.SolarEvent = SolarEvent(solarRaw)
	a.Active = activeRaw != 0

	if actionRaw != "" {
		if err := json.Unmarshal([]byte(actionRaw), &a.Action); err != nil {
			return nil, fmt.Errorf("decoding action payload: %w", err)
		}
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdRaw); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339, updatedRaw); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
