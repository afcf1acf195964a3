package session

import (
	"context"
	"sync"
	"time"

	"fleetgate/internal/store"
	"fleetgate/internal/wire"
)

// fakeStore is a minimal in-memory store.Port for session tests.
type fakeStore struct {
	mu       sync.Mutex
	devices  map[string]store.Device
	nextID   uint
	locs     []store.Location
	failNext bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{devices: make(map[string]store.Device)}
}

func (s *fakeStore) UpsertOnLogin(ctx context.Context, identity wire.DeviceIdentity) (store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return store.Device{}, errTest
	}
	key := identity.String()
	dev, ok := s.devices[key]
	if !ok {
		s.nextID++
		dev = store.Device{ID: s.nextID, Identity: key}
		s.devices[key] = dev
	}
	return dev, nil
}

func (s *fakeStore) TouchHeartbeat(ctx context.Context, identity wire.DeviceIdentity, batteryPct, gsm int, status store.DeviceStatusLabel) error {
	return nil
}

func (s *fakeStore) TouchLocation(ctx context.Context, identity wire.DeviceIdentity, lat, lon float64, ts time.Time) error {
	return nil
}

func (s *fakeStore) InsertLocation(ctx context.Context, deviceRowID uint, pos wire.Position, isAlarm bool, alarmKind int) (store.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := store.Location{DeviceID: deviceRowID, Lat: pos.Lat, Lon: pos.Lon, GPSValid: pos.GPSValid}
	s.locs = append(s.locs, row)
	return row, nil
}

func (s *fakeStore) ListOpenTripsByDevice(ctx context.Context, deviceRowID uint) ([]store.Trip, error) {
	return nil, nil
}

func (s *fakeStore) FinalizeTrip(ctx context.Context, tripID uint, endTime time.Time, distanceKm float64, endLocationID *uint, displayName string) error {
	return nil
}

func (s *fakeStore) LastGPSValidLocation(ctx context.Context, deviceRowID uint) (*store.Location, error) {
	return nil, nil
}

func (s *fakeStore) LocationRange(ctx context.Context, deviceRowID uint, start, end time.Time, gpsValidOnly bool) ([]store.Location, error) {
	return nil, nil
}

func (s *fakeStore) DeviceByIdentity(ctx context.Context, identity wire.DeviceIdentity) (store.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devices[identity.String()]
	if !ok {
		return store.Device{}, store.ErrNotFound
	}
	return dev, nil
}

func (s *fakeStore) ListDevices(ctx context.Context) ([]store.Device, error) {
	return nil, nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	positions int
	alarms    int
}

func (b *fakeBroadcaster) PublishPosition(identity wire.DeviceIdentity, pos wire.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions++
}

func (b *fakeBroadcaster) PublishAlarm(identity wire.DeviceIdentity, pos wire.Position, status wire.DeviceStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alarms++
}

var errTest = testStoreError("fake store failure")

type testStoreError string

func (e testStoreError) Error() string { return string(e) }
