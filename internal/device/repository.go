package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines device persistence.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List returns all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create returns ErrDeviceExists for a duplicate id and
	// ErrDuplicateAddress for a duplicate (driver, address).
	Create(ctx context.Context, device *Device) error

	// Update returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT id, driver, address, name, class, icon, settings, capabilities,
		created_at, updated_at
	FROM devices`

// storedDevice holds the JSON columns of a device row.
type storedDevice struct {
	Capabilities []string                    `json:"capabilities"`
	Options      map[string]CapabilityOption `json:"options,omitempty"`
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+" WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+" ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	settingsJSON, capsJSON, err := marshalColumns(d)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, driver, address, name, class, icon, settings, capabilities,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Driver, d.Address, d.Name, d.Class, d.Icon,
		settingsJSON, capsJSON,
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return classifyInsertError(err)
	}
	return nil
}

// Update modifies an existing device. Driver and id are immutable.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	settingsJSON, capsJSON, err := marshalColumns(d)
	if err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			address = ?, name = ?, class = ?, icon = ?, settings = ?,
			capabilities = ?, updated_at = ?
		WHERE id = ?`,
		d.Address, d.Name, d.Class, d.Icon, settingsJSON, capsJSON,
		d.UpdatedAt.Format(time.RFC3339), d.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateAddress
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func marshalColumns(d *Device) (settingsJSON, capsJSON string, err error) {
	settings := d.Settings
	if settings == nil {
		settings = Settings{}
	}
	s, err := json.Marshal(settings)
	if err != nil {
		return "", "", fmt.Errorf("marshalling settings: %w", err)
	}

	caps := d.Capabilities
	if caps == nil {
		caps = []string{}
	}
	c, err := json.Marshal(storedDevice{Capabilities: caps, Options: d.CapabilityOptions})
	if err != nil {
		return "", "", fmt.Errorf("marshalling capabilities: %w", err)
	}
	return string(s), string(c), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                    Device
		settingsJSON         string
		capsJSON             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.Driver, &d.Address, &d.Name, &d.Class, &d.Icon,
		&settingsJSON, &capsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(settingsJSON), &d.Settings); err != nil {
		return nil, fmt.Errorf("unmarshalling settings of %s: %w", d.ID, err)
	}

	var stored storedDevice
	if err := json.Unmarshal([]byte(capsJSON), &stored); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities of %s: %w", d.ID, err)
	}
	d.Capabilities = stored.Capabilities
	d.CapabilityOptions = stored.Options

	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Written by Create
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Written by Create/Update
	return &d, nil
}

// classifyInsertError maps SQLite unique violations to domain errors.
// go-sqlite3 reports "UNIQUE constraint failed: devices.id" or
// "UNIQUE constraint failed: devices.driver, devices.address".
func classifyInsertError(err error) error {
	if !isUniqueConstraintError(err) {
		return fmt.Errorf("inserting device: %w", err)
	}
	if strings.Contains(err.Error(), "devices.address") {
		return ErrDuplicateAddress
	}
	return ErrDeviceExists
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
