// Package postgres implements store.Port on top of GORM and
// gorm.io/driver/postgres, grounded on the teacher's internal/db connection
// setup and internal/models GORM usage.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fleetgate/internal/store"
	"fleetgate/internal/wire"
)

// Store is a store.Port backed by a Postgres database via GORM.
type Store struct {
	db                 *gorm.DB
	requireProvisioned bool
}

// Config holds the knobs needed to open a connection.
type Config struct {
	DSN                string
	RequireProvisioned bool
	LogLevel           logger.LogLevel
}

// Open connects to Postgres and runs AutoMigrate for the gateway's tables.
func Open(cfg Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if err := db.AutoMigrate(&store.Device{}, &store.Location{}, &store.Trip{}, &store.TripSettings{}, &store.User{}); err != nil {
		return nil, fmt.Errorf("postgres: automigrate: %w", err)
	}

	return &Store{db: db, requireProvisioned: cfg.RequireProvisioned}, nil
}

// Ping checks connectivity, for the HTTP health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) UpsertOnLogin(ctx context.Context, identity wire.DeviceIdentity) (store.Device, error) {
	db := s.db.WithContext(ctx)
	var dev store.Device
	err := db.Where("identity = ?", identity.String()).First(&dev).Error
	now := time.Now()

	if errors.Is(err, gorm.ErrRecordNotFound) {
		if s.requireProvisioned {
			return store.Device{}, store.ErrDeviceNotProvisioned
		}
		dev = store.Device{
			Identity:    identity.String(),
			Status:      store.DeviceOnline,
			LastConnect: &now,
		}
		if err := db.Create(&dev).Error; err != nil {
			return store.Device{}, fmt.Errorf("postgres: create device: %w", err)
		}
		return dev, nil
	}
	if err != nil {
		return store.Device{}, fmt.Errorf("postgres: lookup device: %w", err)
	}

	dev.Status = store.DeviceOnline
	dev.LastConnect = &now
	if err := db.Save(&dev).Error; err != nil {
		return store.Device{}, fmt.Errorf("postgres: update device: %w", err)
	}
	return dev, nil
}

func (s *Store) TouchHeartbeat(ctx context.Context, identity wire.DeviceIdentity, batteryPct, gsm int, status store.DeviceStatusLabel) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&store.Device{}).
		Where("identity = ?", identity.String()).
		Updates(map[string]interface{}{
			"battery_pct": batteryPct,
			"gsm":         gsm,
			"status":      status,
			"last_update": now,
		})
	if res.Error != nil {
		return fmt.Errorf("postgres: touch heartbeat: %w", res.Error)
	}
	return nil
}

func (s *Store) TouchLocation(ctx context.Context, identity wire.DeviceIdentity, lat, lon float64, ts time.Time) error {
	res := s.db.WithContext(ctx).Model(&store.Device{}).
		Where("identity = ?", identity.String()).
		Updates(map[string]interface{}{
			"last_lat":    lat,
			"last_lon":    lon,
			"last_update": ts,
			"status":      store.DeviceOnline,
		})
	if res.Error != nil {
		return fmt.Errorf("postgres: touch location: %w", res.Error)
	}
	return nil
}

func (s *Store) InsertLocation(ctx context.Context, deviceRowID uint, pos wire.Position, isAlarm bool, alarmKind int) (store.Location, error) {
	row := store.Location{
		DeviceID:        deviceRowID,
		Lat:             pos.Lat,
		Lon:             pos.Lon,
		SpeedKmh:        pos.SpeedKmh,
		CourseDeg:       pos.CourseDeg,
		Satellites:      pos.Satellites,
		GPSValid:        pos.GPSValid,
		IsAlarm:         isAlarm,
		AlarmKind:       alarmKind,
		TimestampDevice: pos.Time,
		ReceivedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return store.Location{}, fmt.Errorf("postgres: insert location: %w", err)
	}
	return row, nil
}

func (s *Store) ListOpenTripsByDevice(ctx context.Context, deviceRowID uint) ([]store.Trip, error) {
	var trips []store.Trip
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND end_time IS NULL", deviceRowID).
		Find(&trips).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trips: %w", err)
	}
	return trips, nil
}

func (s *Store) FinalizeTrip(ctx context.Context, tripID uint, endTime time.Time, distanceKm float64, endLocationID *uint, displayName string) error {
	updates := map[string]interface{}{
		"end_time":    endTime,
		"distance_km": distanceKm,
	}
	if endLocationID != nil {
		updates["end_location_id"] = *endLocationID
	}
	if displayName != "" {
		updates["display_name"] = displayName
	}
	res := s.db.WithContext(ctx).Model(&store.Trip{}).Where("id = ?", tripID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("postgres: finalize trip: %w", res.Error)
	}
	return nil
}

func (s *Store) LastGPSValidLocation(ctx context.Context, deviceRowID uint) (*store.Location, error) {
	var loc store.Location
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND gps_valid = ?", deviceRowID, true).
		Order("timestamp_device DESC").
		First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: last gps valid location: %w", err)
	}
	return &loc, nil
}

func (s *Store) LocationRange(ctx context.Context, deviceRowID uint, start, end time.Time, gpsValidOnly bool) ([]store.Location, error) {
	q := s.db.WithContext(ctx).
		Where("device_id = ? AND timestamp_device BETWEEN ? AND ?", deviceRowID, start, end).
		Order("timestamp_device ASC")
	if gpsValidOnly {
		q = q.Where("gps_valid = ?", true)
	}
	var rows []store.Location
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres: location range: %w", err)
	}
	return rows, nil
}

func (s *Store) DeviceByIdentity(ctx context.Context, identity wire.DeviceIdentity) (store.Device, error) {
	var dev store.Device
	err := s.db.WithContext(ctx).Where("identity = ?", identity.String()).First(&dev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Device{}, store.ErrNotFound
	}
	if err != nil {
		return store.Device{}, fmt.Errorf("postgres: device by identity: %w", err)
	}
	return dev, nil
}

func (s *Store) ListDevices(ctx context.Context) ([]store.Device, error) {
	var devices []store.Device
	if err := s.db.WithContext(ctx).Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("postgres: list devices: %w", err)
	}
	return devices, nil
}

var _ store.Port = (*Store)(nil)
