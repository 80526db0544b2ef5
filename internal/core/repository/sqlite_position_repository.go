package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"gpsrelay/internal/core/model"
)

const positionSchema = `
CREATE TABLE IF NOT EXISTS positions (
	id         TEXT PRIMARY KEY,
	deviceid   TEXT NOT NULL,
	protocol   TEXT NOT NULL DEFAULT '',
	fixtime    TIMESTAMP NOT NULL,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	altitude   REAL NOT NULL DEFAULT 0,
	speed      REAL NOT NULL DEFAULT 0,
	course     REAL NOT NULL DEFAULT 0,
	accuracy   REAL NOT NULL DEFAULT 0,
	valid      BOOLEAN NOT NULL DEFAULT 1,
	outdated   BOOLEAN NOT NULL DEFAULT 0,
	attributes TEXT
);
CREATE INDEX IF NOT EXISTS positions_device_fixtime ON positions (deviceid, fixtime)`

const positionColumns = `id, deviceid, protocol, fixtime, latitude, longitude, altitude,
	speed, course, accuracy, valid, outdated, attributes`

// SQLPositionRepository shares the device database.
type SQLPositionRepository struct {
	db *sql.DB
}

// Positions returns the position history stored alongside the devices.
func (r *SQLDeviceRepository) Positions() *SQLPositionRepository {
	return &SQLPositionRepository{db: r.db}
}

func (r *SQLPositionRepository) Create(ctx context.Context, position *model.Position) error {
	var attributes sql.NullString
	if len(position.Attributes) > 0 {
		data, err := json.Marshal(position.Attributes)
		if err != nil {
			return fmt.Errorf("encode position attributes: %w", err)
		}
		attributes = sql.NullString{String: string(data), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO positions (`+positionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		position.ID, position.DeviceID, position.Protocol, position.FixTime.UTC(),
		position.Latitude, position.Longitude, position.Altitude,
		position.Speed, position.Course, position.Accuracy,
		position.Valid, position.Outdated, attributes)
	return err
}

func (r *SQLPositionRepository) FindByDeviceID(ctx context.Context, deviceID string) ([]*model.Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE deviceid = ? ORDER BY fixtime`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*model.Position
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, rows.Err()
}

func (r *SQLPositionRepository) FindLatestByDeviceID(ctx context.Context, deviceID string) (*model.Position, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE deviceid = ? ORDER BY fixtime DESC LIMIT 1`, deviceID)
	position, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return position, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*model.Position, error) {
	var (
		position   model.Position
		attributes sql.NullString
	)
	err := s.Scan(&position.ID, &position.DeviceID, &position.Protocol, &position.FixTime,
		&position.Latitude, &position.Longitude, &position.Altitude,
		&position.Speed, &position.Course, &position.Accuracy,
		&position.Valid, &position.Outdated, &attributes)
	if err != nil {
		return nil, err
	}

	position.Attributes = make(map[string]interface{})
	if attributes.Valid {
		if err := json.Unmarshal([]byte(attributes.String), &position.Attributes); err != nil {
			return nil, fmt.Errorf("decode position attributes: %w", err)
		}
	}
	return &position, nil
}
