package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dryer-alarm/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresDryersRepo 干燥机仓库（PostgreSQL）
type PostgresDryersRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresDryersRepository 创建干燥机仓库
func NewPostgresDryersRepository(db *sql.DB, logger *zap.Logger) *PostgresDryersRepo {
	return &PostgresDryersRepo{db: db, logger: logger}
}

const dryerColumns = `id, dryer_id, status, battery_level, last_communication, region_id, active_alerts_count, updated_at`

func scanDryer(s interface{ Scan(...any) error }) (*models.Dryer, error) {
	var d models.Dryer
	var battery sql.NullInt64
	var lastComm sql.NullTime
	var regionID sql.NullString
	if err := s.Scan(
		&d.ID,
		&d.DryerCode,
		&d.Status,
		&battery,
		&lastComm,
		&regionID,
		&d.ActiveAlertsCount,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if battery.Valid {
		b := int(battery.Int64)
		d.BatteryLevel = &b
	}
	if lastComm.Valid {
		t := lastComm.Time
		d.LastCommunication = &t
	}
	if regionID.Valid {
		d.RegionID = &regionID.String
	}
	return &d, nil
}

// ListEligibleDryers 查询参与评估的干燥机
func (r *PostgresDryersRepo) ListEligibleDryers(ctx context.Context) ([]*models.Dryer, error) {
	query := `SELECT ` + dryerColumns + `
		FROM dryers
		WHERE status <> 'decommissioned'
		ORDER BY dryer_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, models.NewDataStoreError("list dryers", err)
	}
	defer rows.Close()

	dryers := []*models.Dryer{}
	for rows.Next() {
		d, err := scanDryer(rows)
		if err != nil {
			return nil, models.NewDataStoreError("scan dryer", err)
		}
		dryers = append(dryers, d)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewDataStoreError("list dryers", err)
	}
	return dryers, nil
}

// GetDryer 获取单个干燥机
func (r *PostgresDryersRepo) GetDryer(ctx context.Context, id string) (*models.Dryer, error) {
	if id == "" {
		return nil, models.NewValidationError("id", "is required")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+dryerColumns+` FROM dryers WHERE id = $1`, id)
	d, err := scanDryer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFoundError("dryer", id)
		}
		return nil, models.NewDataStoreError("get dryer", err)
	}
	return d, nil
}

// PostgresReadingsRepo 传感器读数仓库（PostgreSQL，只读）
type PostgresReadingsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresReadingsRepository 创建读数仓库
func NewPostgresReadingsRepository(db *sql.DB, logger *zap.Logger) *PostgresReadingsRepo {
	return &PostgresReadingsRepo{db: db, logger: logger}
}

// LatestReadings 每台干燥机最新一条读数
func (r *PostgresReadingsRepo) LatestReadings(ctx context.Context, dryerIDs []string) (map[string]*models.SensorReading, error) {
	out := make(map[string]*models.SensorReading, len(dryerIDs))
	if len(dryerIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT DISTINCT ON (dryer_id)
			dryer_id,
			timestamp,
			chamber_temp,
			ambient_temp,
			internal_humidity,
			external_humidity,
			heater_status,
			fan_status
		FROM sensor_readings
		WHERE dryer_id = ANY($1)
		ORDER BY dryer_id, timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(dryerIDs))
	if err != nil {
		return nil, models.NewDataStoreError("latest readings", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rd models.SensorReading
		var chamber, ambient, inHum, extHum sql.NullFloat64
		var heater, fan sql.NullBool
		if err := rows.Scan(
			&rd.DryerID,
			&rd.Timestamp,
			&chamber,
			&ambient,
			&inHum,
			&extHum,
			&heater,
			&fan,
		); err != nil {
			return nil, models.NewDataStoreError("scan reading", err)
		}
		rd.ChamberTemp = nullFloat(chamber)
		rd.AmbientTemp = nullFloat(ambient)
		rd.InternalHumidity = nullFloat(inHum)
		rd.ExternalHumidity = nullFloat(extHum)
		rd.HeaterOn = nullBool(heater)
		rd.FanOn = nullBool(fan)
		out[rd.DryerID] = &rd
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewDataStoreError("latest readings", err)
	}

	r.logger.Debug("Loaded latest sensor readings",
		zap.Int("dryers", len(dryerIDs)),
		zap.Int("readings", len(out)),
	)
	return out, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
