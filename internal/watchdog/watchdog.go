// Package watchdog implements the trip watchdog (component H): a periodic
// sweep that finalizes open trips for devices that have gone quiet.
package watchdog

import (
	"context"
	"time"

	"fleetgate/internal/geocode"
	"fleetgate/internal/store"
	"fleetgate/pkg/colors"
)

// Watchdog periodically finalizes open trips whose device has not been
// heard from in StaleAfter.
type Watchdog struct {
	store      store.Port
	geocoder   *geocode.Client // optional; nil disables reverse geocoding
	interval   time.Duration
	staleAfter time.Duration
}

// New returns a Watchdog. geocoder may be nil.
func New(st store.Port, geocoder *geocode.Client, interval, staleAfter time.Duration) *Watchdog {
	return &Watchdog{store: st, geocoder: geocoder, interval: interval, staleAfter: staleAfter}
}

// Run blocks, sweeping every interval until ctx is cancelled. Errors
// encountered during a sweep are logged and never propagate (§4.8).
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	devices, err := w.store.ListDevices(ctx)
	if err != nil {
		colors.PrintError("watchdog: list devices: %v", err)
		return
	}

	for _, dev := range devices {
		w.sweepDevice(ctx, dev)
	}
}

func (w *Watchdog) sweepDevice(ctx context.Context, dev store.Device) {
	staleSince := dev.LastConnect
	if dev.LastUpdate != nil {
		staleSince = dev.LastUpdate
	}
	if staleSince == nil || time.Since(*staleSince) < w.staleAfter {
		return
	}

	trips, err := w.store.ListOpenTripsByDevice(ctx, dev.ID)
	if err != nil {
		colors.PrintError("watchdog: list open trips for device %d: %v", dev.ID, err)
		return
	}
	if len(trips) == 0 {
		return
	}

	endTime := time.Now()
	var endLocationID *uint
	var endLat, endLon float64
	haveEnd := false

	last, err := w.store.LastGPSValidLocation(ctx, dev.ID)
	if err != nil {
		colors.PrintError("watchdog: last gps-valid location for device %d: %v", dev.ID, err)
	} else if last != nil {
		endTime = last.TimestampDevice
		id := last.ID
		endLocationID = &id
		endLat, endLon = last.Lat, last.Lon
		haveEnd = true
	}

	for _, trip := range trips {
		w.finalizeTrip(ctx, dev, trip, endTime, endLocationID, endLat, endLon, haveEnd)
	}
}

func (w *Watchdog) finalizeTrip(ctx context.Context, dev store.Device, trip store.Trip, endTime time.Time, endLocationID *uint, endLat, endLon float64, haveEnd bool) {
	distanceKm := 0.0
	if haveEnd {
		points, err := w.store.LocationRange(ctx, dev.ID, trip.StartTime, endTime, true)
		if err != nil {
			colors.PrintError("watchdog: location range for trip %d: %v", trip.ID, err)
		} else {
			distanceKm = store.RouteDistanceKm(points)
		}
	}

	displayName := ""
	if haveEnd && w.geocoder != nil {
		displayName = w.geocoder.DisplayName(ctx, endLat, endLon)
	}

	if err := w.store.FinalizeTrip(ctx, trip.ID, endTime, distanceKm, endLocationID, displayName); err != nil {
		colors.PrintError("watchdog: finalize trip %d: %v", trip.ID, err)
		return
	}
	colors.PrintInfo("watchdog finalized trip %d for device %s (distance=%.2fkm)", trip.ID, dev.Identity, distanceKm)
}
