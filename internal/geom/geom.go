// Package geom provides the ellipsoidal coordinate conversions and vector
// primitives shared by the delay and Doppler computations. All distances are
// metres; all angles are degrees unless noted.
package geom

import "math"

// WGS84 ellipsoid parameters.
const (
	SemiMajorAxisM = 6378137.0
	Flattening     = 1.0 / 298.257223563

	// SpeedOfLightMps is the propagation speed used for wavelength conversion.
	SpeedOfLightMps = 299792458.0
)

// Vec3 is an ECEF position or direction in metres.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Scale returns v multiplied by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Unit returns the unit vector pointing in the direction of v.
// The zero vector is returned unchanged.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// LLA is a geodetic point on the WGS84 ellipsoid. Altitude is metres above
// the ellipsoid.
type LLA struct {
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// ToECEF converts a geodetic point to Earth-Centred Earth-Fixed coordinates.
func ToECEF(p LLA) Vec3 {
	lat := p.LatDeg * math.Pi / 180
	lon := p.LonDeg * math.Pi / 180

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Prime vertical radius of curvature.
	e2 := Flattening * (2 - Flattening)
	n := SemiMajorAxisM / math.Sqrt(1-e2*sinLat*sinLat)

	return Vec3{
		X: (n + p.AltM) * cosLat * math.Cos(lon),
		Y: (n + p.AltM) * cosLat * math.Sin(lon),
		Z: (n*(1-e2) + p.AltM) * sinLat,
	}
}

// Wavelength returns the carrier wavelength in metres for a frequency in MHz.
func Wavelength(fcMHz float64) float64 {
	return SpeedOfLightMps / (fcMHz * 1e6)
}
