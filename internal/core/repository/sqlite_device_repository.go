package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"gpsrelay/internal/core/model"
)

const deviceSchema = `
CREATE TABLE IF NOT EXISTS devices (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	uniqueid    TEXT NOT NULL UNIQUE,
	status      TEXT NOT NULL DEFAULT 'inactive',
	protocol    TEXT NOT NULL DEFAULT '',
	positionid  TEXT NOT NULL DEFAULT '',
	lastupdate  TIMESTAMP,
	createdat   TIMESTAMP,
	longitude   REAL,
	latitude    REAL,
	standardLat TEXT,
	standardLon TEXT,
	apiResult   INTEGER,
	apiTime     TIMESTAMP,
	battery     INTEGER
)`

const deviceColumns = `id, name, uniqueid, status, protocol, positionid, lastupdate, createdat,
	longitude, latitude, standardLat, standardLon, apiResult, apiTime, battery`

// SQLDeviceRepository stores devices in SQLite. Every statement is
// parameterized; no value is ever spliced into SQL text.
type SQLDeviceRepository struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and bootstraps the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLDeviceRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	repo := NewSQLDeviceRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func NewSQLDeviceRepository(db *sql.DB) *SQLDeviceRepository {
	return &SQLDeviceRepository{db: db}
}

func (r *SQLDeviceRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, deviceSchema); err != nil {
		return fmt.Errorf("create devices table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, positionSchema); err != nil {
		return fmt.Errorf("create positions table: %w", err)
	}
	return nil
}

func (r *SQLDeviceRepository) Close() error {
	return r.db.Close()
}

func (r *SQLDeviceRepository) Create(ctx context.Context, device *model.Device) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, uniqueid, status, protocol, positionid, lastupdate, createdat)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.Name, device.UniqueID, device.Status, device.Protocol,
		device.PositionID, device.LastUpdate.UTC(), device.CreatedAt.UTC())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.UniqueID)
	}
	return err
}

func (r *SQLDeviceRepository) FindByID(ctx context.Context, id string) (*model.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

func (r *SQLDeviceRepository) FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE uniqueid = ?`, uniqueID)
	return scanDevice(row)
}

func (r *SQLDeviceRepository) UpdateLatestPosition(ctx context.Context, position *model.Position) error {
	return r.exec(ctx,
		`UPDATE devices SET positionid = ?, lastupdate = ?, status = ? WHERE id = ?`,
		position.ID, position.FixTime.UTC(), model.StatusActive, position.DeviceID)
}

func (r *SQLDeviceRepository) UpdateReportStatus(ctx context.Context, uniqueID string, status model.ReportStatus) error {
	var battery sql.NullInt64
	if status.Battery != nil {
		battery = sql.NullInt64{Int64: int64(*status.Battery), Valid: true}
	}
	return r.exec(ctx,
		`UPDATE devices SET longitude = ?, latitude = ?, standardLat = ?, standardLon = ?,
		 apiResult = ?, apiTime = ?, battery = ? WHERE uniqueid = ?`,
		status.Longitude, status.Latitude, status.StandardLat, status.StandardLon,
		status.APIResult, status.APITime.UTC(), battery, uniqueID)
}

func (r *SQLDeviceRepository) ClearActive(ctx context.Context, deviceID string) error {
	return r.exec(ctx,
		`UPDATE devices SET status = ?, lastupdate = ? WHERE id = ?`,
		model.StatusInactive, time.Now().UTC(), deviceID)
}

func (r *SQLDeviceRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func scanDevice(row *sql.Row) (*model.Device, error) {
	var (
		device                   model.Device
		lastUpdate, createdAt    sql.NullTime
		longitude, latitude      sql.NullFloat64
		standardLat, standardLon sql.NullString
		apiResult, battery       sql.NullInt64
		apiTime                  sql.NullTime
	)
	err := row.Scan(&device.ID, &device.Name, &device.UniqueID, &device.Status, &device.Protocol,
		&device.PositionID, &lastUpdate, &createdAt,
		&longitude, &latitude, &standardLat, &standardLon, &apiResult, &apiTime, &battery)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}

	device.LastUpdate = lastUpdate.Time
	device.CreatedAt = createdAt.Time
	if apiResult.Valid {
		report := &model.ReportStatus{
			Longitude:   longitude.Float64,
			Latitude:    latitude.Float64,
			StandardLat: standardLat.String,
			StandardLon: standardLon.String,
			APIResult:   int(apiResult.Int64),
			APITime:     apiTime.Time,
		}
		if battery.Valid {
			b := int(battery.Int64)
			report.Battery = &b
		}
		device.Report = report
	}
	return &device, nil
}
