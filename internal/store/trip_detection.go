package store

import "time"

// SuggestedTrip is a candidate trip boundary produced by DetectTripSegments,
// for read-side reporting rather than the live watchdog path (§9
// SUPPLEMENTED FEATURES item 2).
type SuggestedTrip struct {
	StartTime     time.Time
	EndTime       time.Time
	StartLocation Location
	EndLocation   Location
	DistanceKm    float64
}

// DetectTripSegments splits a chronologically ordered, GPS-valid location
// history into trip candidates, the way the original's trip_detection
// service does: a new trip starts wherever two consecutive samples are at
// least stop_split_minutes apart and both report a speed at or below
// stop_speed_kmh (a long gap while moving does not split); trips shorter
// than min_trip_minutes are dropped.
func DetectTripSegments(points []Location, settings TripSettings) []SuggestedTrip {
	if len(points) < 2 {
		return nil
	}

	splitGap := time.Duration(settings.StopSplitMinutes) * time.Minute
	minDuration := time.Duration(settings.MinTripMinutes) * time.Minute

	var trips []SuggestedTrip
	segStart := 0

	flush := func(endIdx int) {
		if endIdx <= segStart {
			return
		}
		start := points[segStart]
		end := points[endIdx]
		if end.TimestampDevice.Sub(start.TimestampDevice) < minDuration {
			return
		}
		trips = append(trips, SuggestedTrip{
			StartTime:     start.TimestampDevice,
			EndTime:       end.TimestampDevice,
			StartLocation: start,
			EndLocation:   end,
			DistanceKm:    RouteDistanceKm(points[segStart : endIdx+1]),
		})
	}

	for i := 1; i < len(points); i++ {
		gap := points[i].TimestampDevice.Sub(points[i-1].TimestampDevice)
		stopped := float64(points[i-1].SpeedKmh) <= settings.StopSpeedKmh && float64(points[i].SpeedKmh) <= settings.StopSpeedKmh
		if gap >= splitGap && stopped {
			flush(i - 1)
			segStart = i
		}
	}
	flush(len(points) - 1)

	return trips
}
