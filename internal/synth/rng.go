// Package synth generates synthetic delay-Doppler detections (calibrated
// noise, missed detections, and false alarms) over a set of true track
// positions, for exercising downstream trackers.
package synth

import (
	"math"
	"math/rand"
)

// RNG is a seeded random source. Every generation request gets its own
// instance so identical seeds always reproduce identical output; sharing a
// process-wide generator would break that.
type RNG struct {
	src *rand.Rand
}

// NewRNG creates a generator from an explicit seed.
func NewRNG(seed int64) *RNG {
	return &RNG{src: rand.New(rand.NewSource(seed))}
}

// Uniform draws from [min, max).
func (r *RNG) Uniform(min, max float64) float64 {
	return min + r.src.Float64()*(max-min)
}

// Gaussian draws from N(mean, std²) via the Box-Muller transform.
func (r *RNG) Gaussian(mean, std float64) float64 {
	u1 := r.src.Float64()
	for u1 == 0 {
		u1 = r.src.Float64()
	}
	u2 := r.src.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + std*z
}

// Poisson draws a count with the given rate using Knuth's
// repeated-multiplication method. Suitable for the small lambdas used for
// false-alarm counts.
func (r *RNG) Poisson(lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	limit := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= r.src.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}

// Bernoulli reports a single trial with success probability p.
func (r *RNG) Bernoulli(p float64) bool {
	return r.src.Float64() < p
}
