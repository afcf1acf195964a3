// Package store defines the persistence port the gateway core depends on
// (§4.6) and the GORM models backing it. The core only ever calls through
// the Port interface; internal/store/postgres supplies the concrete
// implementation.
package store

import "time"

// DeviceStatusLabel is the last-write-wins connectivity state stored
// alongside a device row.
type DeviceStatusLabel string

const (
	DeviceOnline  DeviceStatusLabel = "online"
	DeviceOffline DeviceStatusLabel = "offline"
)

// Device is the devices table (§6).
type Device struct {
	ID          uint   `gorm:"primarykey"`
	Identity    string `gorm:"size:16;uniqueIndex;not null"`
	Name        string `gorm:"size:100"`
	Status      DeviceStatusLabel `gorm:"size:16;not null;default:offline"`
	LastConnect *time.Time
	LastUpdate  *time.Time
	LastLat     *float64
	LastLon     *float64
	BatteryPct  *int
	GSM         *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Device) TableName() string { return "devices" }

// Location is the locations table, append-only.
type Location struct {
	ID              uint `gorm:"primarykey"`
	DeviceID        uint `gorm:"index:idx_locations_device_ts,priority:1;not null"`
	Lat             float64
	Lon             float64
	SpeedKmh        uint8
	CourseDeg       uint16
	Satellites      uint8
	GPSValid        bool
	IsAlarm         bool
	AlarmKind       int
	TimestampDevice time.Time `gorm:"index:idx_locations_device_ts,priority:2,sort:desc;not null"`
	ReceivedAt      time.Time `gorm:"not null"`
}

func (Location) TableName() string { return "locations" }

// Trip is the trips table. A trip is open while EndTime is nil; a device
// has at most one open trip at a time.
type Trip struct {
	ID              uint `gorm:"primarykey"`
	DeviceID        uint `gorm:"index;not null"`
	UserID          *uint
	Name            string
	DisplayName     string
	StartTime       time.Time `gorm:"not null"`
	EndTime         *time.Time
	DistanceKm      float64
	StartLocationID *uint
	EndLocationID   *uint
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Trip) TableName() string { return "trips" }

// IsOpen reports whether the trip has not yet been finalized.
func (t Trip) IsOpen() bool { return t.EndTime == nil }

// TripSettings is the trip_settings table, one row per user, tuning
// DetectTripSegments.
type TripSettings struct {
	UserID           uint `gorm:"primarykey"`
	StopSplitMinutes int  `gorm:"not null;default:15"`
	MinTripMinutes   int  `gorm:"not null;default:3"`
	StopSpeedKmh     float64 `gorm:"not null;default:3"`
}

func (TripSettings) TableName() string { return "trip_settings" }

// User is the users table. It models an external operator/owner identity;
// HTTP-caller authentication itself stays external to the core (§1).
type User struct {
	ID             uint   `gorm:"primarykey"`
	IdentityExternal string `gorm:"size:255;uniqueIndex;not null"`
	Email          string `gorm:"size:255"`
	Name           string `gorm:"size:100"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (User) TableName() string { return "users" }
