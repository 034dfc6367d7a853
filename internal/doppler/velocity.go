// Package doppler implements the two bistatic Doppler estimators: an
// instantaneous estimate derived from the reported aircraft velocity vector,
// and a causal smoothed-derivative estimate over the bistatic delay history.
package doppler

import (
	"math"

	"github.com/banshee-data/bistatic.report/internal/geom"
)

// Unit conversions used by the velocity decomposition.
const (
	knotsToMps    = 0.514444
	ftPerMinToMps = 0.3048 / 60.0
)

// Plausibility gates for reported kinematics. A report failing any gate
// produces no velocity estimate; the caller falls back to the position
// estimator.
const (
	maxGroundSpeedKt   = 1000.0
	maxVerticalRateFpm = 20000.0
	minAltitudeFt      = -1000.0
	maxAltitudeFt      = 100000.0
	minNodeDistanceM   = 100.0
)

// Kinematics is the subset of an aircraft report consumed by the velocity
// estimator. Optional fields are nil when the report omitted them.
type Kinematics struct {
	LatDeg          float64
	LonDeg          float64
	AltFt           *float64
	GroundSpeedKt   *float64
	TrackDeg        *float64
	VerticalRateFpm *float64
}

// VelocityDoppler computes the instantaneous bistatic Doppler in Hz from a
// reported velocity vector. The boolean is false when any plausibility gate
// fails; gates are evaluated before any geometry is computed.
//
// Sign convention: a velocity component pointing toward a node closes range on
// that leg, so the leg range rate is the negative of the dot product with the
// unit line-of-sight vector. Doppler is the negative bistatic range rate over
// the carrier wavelength.
func VelocityDoppler(k Kinematics, target, rx, tx geom.Vec3, dRxM, dTxM, fcMHz float64) (float64, bool) {
	if k.GroundSpeedKt == nil || math.IsNaN(*k.GroundSpeedKt) ||
		*k.GroundSpeedKt < 0 || *k.GroundSpeedKt > maxGroundSpeedKt {
		return 0, false
	}
	if k.TrackDeg == nil || math.IsNaN(*k.TrackDeg) ||
		*k.TrackDeg < 0 || *k.TrackDeg >= 360 {
		return 0, false
	}
	if dRxM < minNodeDistanceM || dTxM < minNodeDistanceM {
		return 0, false
	}
	if k.LatDeg < -90 || k.LatDeg > 90 || k.LonDeg < -180 || k.LonDeg > 180 {
		return 0, false
	}
	if k.AltFt != nil && (*k.AltFt < minAltitudeFt || *k.AltFt > maxAltitudeFt) {
		return 0, false
	}
	if k.VerticalRateFpm != nil && math.Abs(*k.VerticalRateFpm) > maxVerticalRateFpm {
		return 0, false
	}

	gs := *k.GroundSpeedKt * knotsToMps
	trackRad := *k.TrackDeg * math.Pi / 180

	// East-North-Up velocity at the aircraft. Track is measured clockwise
	// from true north.
	vE := gs * math.Sin(trackRad)
	vN := gs * math.Cos(trackRad)
	vU := 0.0
	if k.VerticalRateFpm != nil {
		vU = *k.VerticalRateFpm * ftPerMinToMps
	}

	// Rotate ENU into ECEF at the aircraft's own latitude/longitude.
	lat := k.LatDeg * math.Pi / 180
	lon := k.LonDeg * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	vel := geom.Vec3{
		X: -sinLon*vE - sinLat*cosLon*vN + cosLat*cosLon*vU,
		Y: cosLon*vE - sinLat*sinLon*vN + cosLat*sinLon*vU,
		Z: cosLat*vN + sinLat*vU,
	}

	uRx := rx.Sub(target).Unit()
	uTx := tx.Sub(target).Unit()

	rateRx := -vel.Dot(uRx)
	rateTx := -vel.Dot(uTx)
	bistaticRate := rateRx + rateTx

	return -bistaticRate / geom.Wavelength(fcMHz), true
}
