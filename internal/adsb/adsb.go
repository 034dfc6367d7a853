// Package adsb defines the aircraft snapshot contract for source receivers
// and an HTTP client for the dump1090-style aircraft.json feeds most
// receivers expose.
package adsb

import "context"

// Report is one aircraft entry from a source snapshot. Pointer fields are
// nil when the receiver did not report them.
type Report struct {
	Hex    string   `json:"hex"`
	Flight string   `json:"flight"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`

	// AltGeomFt is the geometric (GNSS) altitude in feet.
	AltGeomFt *float64 `json:"alt_geom"`

	GroundSpeedKt   *float64 `json:"gs"`
	TrackDeg        *float64 `json:"track"`
	VerticalRateFpm *float64 `json:"geom_rate"`

	// SeenPosSec is the age of the position fix relative to the snapshot
	// time, in seconds.
	SeenPosSec float64 `json:"seen_pos"`
}

// Snapshot is one fetch from a source: the receiver's own clock plus every
// aircraft it currently tracks.
type Snapshot struct {
	SourceTimeSec float64  `json:"now"`
	Aircraft      []Report `json:"aircraft"`
}

// Source fetches aircraft snapshots from one receiver feed.
//
// Probe is a liveness check used for session admission; it must not panic
// and must return within the client timeout. Fetch returns nil on any
// transport or decode failure; the scheduler treats a nil snapshot as a
// skipped tick, never as a fatal condition.
type Source interface {
	Probe(ctx context.Context, descriptor string) bool
	Fetch(ctx context.Context, descriptor string) *Snapshot
}
