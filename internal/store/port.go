package store

import (
	"context"
	"time"

	"fleetgate/internal/wire"
)

// Port is the narrow persistence contract the core depends on (§4.6). These
// are the only exits from the core to storage; each call is treated as
// independent, synchronous from the core's point of view.
type Port interface {
	// UpsertOnLogin inserts a device row if absent, or updates
	// last_connect/status=online if present. When requireProvisioned is
	// configured and the device is unknown, implementations return
	// ErrDeviceNotProvisioned instead of creating one.
	UpsertOnLogin(ctx context.Context, identity wire.DeviceIdentity) (Device, error)

	TouchHeartbeat(ctx context.Context, identity wire.DeviceIdentity, batteryPct, gsm int, status DeviceStatusLabel) error

	TouchLocation(ctx context.Context, identity wire.DeviceIdentity, lat, lon float64, ts time.Time) error

	InsertLocation(ctx context.Context, deviceRowID uint, pos wire.Position, isAlarm bool, alarmKind int) (Location, error)

	ListOpenTripsByDevice(ctx context.Context, deviceRowID uint) ([]Trip, error)

	FinalizeTrip(ctx context.Context, tripID uint, endTime time.Time, distanceKm float64, endLocationID *uint, displayName string) error

	LastGPSValidLocation(ctx context.Context, deviceRowID uint) (*Location, error)

	LocationRange(ctx context.Context, deviceRowID uint, start, end time.Time, gpsValidOnly bool) ([]Location, error)

	// DeviceByIdentity looks up a device row without mutating it, for
	// diagnostics and HTTP queries.
	DeviceByIdentity(ctx context.Context, identity wire.DeviceIdentity) (Device, error)

	// ListDevices returns every known device, for the diagnostics listing.
	ListDevices(ctx context.Context) ([]Device, error)
}
