package watchdog

import (
	"context"
	"testing"
	"time"

	"fleetgate/internal/store"
	"fleetgate/internal/wire"
)

type fakeStore struct {
	devices   []store.Device
	openTrips map[uint][]store.Trip
	lastValid map[uint]*store.Location
	ranges    map[uint][]store.Location
	finalized []finalizedCall
}

type finalizedCall struct {
	tripID        uint
	endTime       time.Time
	distanceKm    float64
	endLocationID *uint
	displayName   string
}

func (s *fakeStore) UpsertOnLogin(ctx context.Context, identity wire.DeviceIdentity) (store.Device, error) {
	return store.Device{}, nil
}
func (s *fakeStore) TouchHeartbeat(ctx context.Context, identity wire.DeviceIdentity, batteryPct, gsm int, status store.DeviceStatusLabel) error {
	return nil
}
func (s *fakeStore) TouchLocation(ctx context.Context, identity wire.DeviceIdentity, lat, lon float64, ts time.Time) error {
	return nil
}
func (s *fakeStore) InsertLocation(ctx context.Context, deviceRowID uint, pos wire.Position, isAlarm bool, alarmKind int) (store.Location, error) {
	return store.Location{}, nil
}
func (s *fakeStore) ListOpenTripsByDevice(ctx context.Context, deviceRowID uint) ([]store.Trip, error) {
	return s.openTrips[deviceRowID], nil
}
func (s *fakeStore) FinalizeTrip(ctx context.Context, tripID uint, endTime time.Time, distanceKm float64, endLocationID *uint, displayName string) error {
	s.finalized = append(s.finalized, finalizedCall{tripID, endTime, distanceKm, endLocationID, displayName})
	return nil
}
func (s *fakeStore) LastGPSValidLocation(ctx context.Context, deviceRowID uint) (*store.Location, error) {
	return s.lastValid[deviceRowID], nil
}
func (s *fakeStore) LocationRange(ctx context.Context, deviceRowID uint, start, end time.Time, gpsValidOnly bool) ([]store.Location, error) {
	return s.ranges[deviceRowID], nil
}
func (s *fakeStore) DeviceByIdentity(ctx context.Context, identity wire.DeviceIdentity) (store.Device, error) {
	return store.Device{}, store.ErrNotFound
}
func (s *fakeStore) ListDevices(ctx context.Context) ([]store.Device, error) {
	return s.devices, nil
}

func TestWatchdogFinalizesStaleOpenTrip(t *testing.T) {
	t0 := time.Now().Add(-2 * time.Hour)
	t1 := time.Now().Add(-10 * time.Minute)
	lastUpdate := time.Now().Add(-10 * time.Minute)

	dev := store.Device{ID: 1, Identity: "0123456789012345", LastUpdate: &lastUpdate}
	endLoc := store.Location{ID: 99, Lat: 1.0, Lon: 1.0, TimestampDevice: t1, GPSValid: true}

	fs := &fakeStore{
		devices:   []store.Device{dev},
		openTrips: map[uint][]store.Trip{1: {{ID: 7, DeviceID: 1, StartTime: t0}}},
		lastValid: map[uint]*store.Location{1: &endLoc},
		ranges: map[uint][]store.Location{1: {
			{Lat: 0, Lon: 0, TimestampDevice: t0, GPSValid: true},
			endLoc,
		}},
	}

	w := New(fs, nil, time.Hour, 300*time.Second)
	w.sweep(context.Background())

	if len(fs.finalized) != 1 {
		t.Fatalf("got %d finalize calls, want 1", len(fs.finalized))
	}
	call := fs.finalized[0]
	if call.tripID != 7 {
		t.Fatalf("tripID = %d, want 7", call.tripID)
	}
	if !call.endTime.Equal(t1) {
		t.Fatalf("endTime = %v, want %v", call.endTime, t1)
	}
	if call.endLocationID == nil || *call.endLocationID != 99 {
		t.Fatalf("endLocationID = %v, want 99", call.endLocationID)
	}
	if call.distanceKm <= 0 {
		t.Fatalf("distanceKm = %v, want > 0", call.distanceKm)
	}
}

func TestWatchdogSkipsFreshDevices(t *testing.T) {
	lastUpdate := time.Now()
	dev := store.Device{ID: 1, Identity: "x", LastUpdate: &lastUpdate}
	fs := &fakeStore{
		devices:   []store.Device{dev},
		openTrips: map[uint][]store.Trip{1: {{ID: 7, DeviceID: 1}}},
	}

	w := New(fs, nil, time.Hour, 300*time.Second)
	w.sweep(context.Background())

	if len(fs.finalized) != 0 {
		t.Fatalf("expected no finalize calls for a fresh device, got %d", len(fs.finalized))
	}
}

func TestWatchdogSkipsDevicesWithoutOpenTrips(t *testing.T) {
	lastUpdate := time.Now().Add(-time.Hour)
	dev := store.Device{ID: 1, Identity: "x", LastUpdate: &lastUpdate}
	fs := &fakeStore{devices: []store.Device{dev}}

	w := New(fs, nil, time.Hour, 300*time.Second)
	w.sweep(context.Background())

	if len(fs.finalized) != 0 {
		t.Fatalf("expected no finalize calls, got %d", len(fs.finalized))
	}
}
