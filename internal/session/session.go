// Package session owns the multi-tenant session and track state for the
// bistatic delay-Doppler pipeline: admission, per-tick snapshot processing,
// and time-based eviction of idle sessions and stale tracks.
package session

import (
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/bistatic.report/internal/doppler"
	"github.com/banshee-data/bistatic.report/internal/geom"
)

// RecentOutputLength is the per-track output trail kept for chart rendering.
const RecentOutputLength = 10

// DopplerMethod identifies which estimator produced the merged Doppler value.
type DopplerMethod string

const (
	DopplerVelocity DopplerMethod = "velocity"
	DopplerPosition DopplerMethod = "position"
)

// Params describes one (receiver, transmitter, frequency, source)
// configuration. Every distinct Params gets its own session.
type Params struct {
	Receiver    geom.LLA
	Transmitter geom.LLA
	FreqMHz     float64
	Source      string
}

// OutputRecord is the per-track wire shape served to clients. Doppler fields
// are pointers so an absent estimate is omitted rather than zeroed.
type OutputRecord struct {
	TimestampSec  float64       `json:"timestamp"`
	Flight        string        `json:"flight"`
	DelayKm       float64       `json:"delay_km"`
	DopplerHz     *float64      `json:"doppler_hz,omitempty"`
	DopplerMethod DopplerMethod `json:"doppler_method,omitempty"`
	DopplerVel    *float64      `json:"doppler_vel,omitempty"`
	DopplerPos    *float64      `json:"doppler_pos,omitempty"`
}

// TrackState is the per-aircraft processing state inside one session.
type TrackState struct {
	History doppler.DelayHistory

	// Last recorded position, used to suppress reprocessing of unchanged
	// reports.
	LastLatDeg   float64
	LastLonDeg   float64
	LastAltFt    float64
	LastDetSec   float64
	RecentOutput []OutputRecord
}

// Session is one live configuration with its own target state. The receiver
// and transmitter ECEF vectors and the baseline distance are computed once
// at admission.
//
// Invariant: Outputs and Tracks always hold the same key set. Every mutation
// inserts into or deletes from both maps together.
type Session struct {
	ID          uuid.UUID
	Fingerprint string
	Params      Params

	RxECEF    geom.Vec3
	TxECEF    geom.Vec3
	BaselineM float64

	Outputs map[string]OutputRecord
	Tracks  map[string]*TrackState

	LastAccess        time.Time
	LastSourceTimeSec float64
	LastProcessed     time.Time
}

func newSession(fp string, p Params) *Session {
	rx := geom.ToECEF(p.Receiver)
	tx := geom.ToECEF(p.Transmitter)
	return &Session{
		ID:          uuid.New(),
		Fingerprint: fp,
		Params:      p,
		RxECEF:      rx,
		TxECEF:      tx,
		BaselineM:   rx.DistanceTo(tx),
		Outputs:     make(map[string]OutputRecord),
		Tracks:      make(map[string]*TrackState),
	}
}

// Fingerprint normalizes a request's query parameters into a stable session
// key: keys sorted, repeated values sorted, joined as k=v pairs.
func Fingerprint(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vs := append([]string(nil), values[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			if i > 0 || b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// roundDelayKm rounds to five decimal places. Integral values pass through
// unchanged so they serialize without a fractional part.
func roundDelayKm(km float64) float64 {
	if km == math.Trunc(km) {
		return km
	}
	return math.Round(km*1e5) / 1e5
}
