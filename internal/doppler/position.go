package doppler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/bistatic.report/internal/geom"
)

// HistoryCapacity is the number of (delay, timestamp) samples retained per
// track. Older samples are evicted FIFO.
const HistoryCapacity = 10

// derivativeWindow bounds the trailing window used for the smoothed
// derivative at each index.
const derivativeWindow = 10

// ErrNonMonotonicTimestamp is returned when a sample does not advance the
// track's clock. Differentiating over a non-increasing time base would
// produce a meaningless rate, so the sample is rejected outright.
var ErrNonMonotonicTimestamp = errors.New("doppler: non-monotonic history timestamp")

type delaySample struct {
	DelayM float64
	TSSec  float64
}

// DelayHistory is a bounded FIFO of bistatic delay samples for one track,
// oldest first.
type DelayHistory struct {
	samples []delaySample
}

// Append records a new sample, evicting the oldest once at capacity.
// Timestamps must be strictly increasing.
func (h *DelayHistory) Append(delayM, tsSec float64) error {
	if n := len(h.samples); n > 0 && tsSec <= h.samples[n-1].TSSec {
		return fmt.Errorf("%w: %.3f does not advance %.3f",
			ErrNonMonotonicTimestamp, tsSec, h.samples[n-1].TSSec)
	}
	h.samples = append(h.samples, delaySample{DelayM: delayM, TSSec: tsSec})
	if len(h.samples) > HistoryCapacity {
		h.samples = h.samples[1:]
	}
	return nil
}

// Len returns the number of retained samples.
func (h *DelayHistory) Len() int {
	return len(h.samples)
}

// SmoothedRates computes the causal smoothed delay derivative (m/s) at every
// index of the history. The value at index i is the median of the forward
// finite differences over the trailing window ending at i; the head of each
// window contributes a zero difference. Even-length windows take the mean of
// the two middle order statistics.
//
// The result lags the true derivative. A non-causal smoother would do
// better but needs future samples this pipeline does not have.
func (h *DelayHistory) SmoothedRates() []float64 {
	n := len(h.samples)
	if n == 0 {
		return nil
	}

	// Global forward differences; diffs[0] is unused because every window
	// substitutes zero for its first element.
	diffs := make([]float64, n)
	for i := 1; i < n; i++ {
		dt := h.samples[i].TSSec - h.samples[i-1].TSSec
		diffs[i] = (h.samples[i].DelayM - h.samples[i-1].DelayM) / dt
	}

	rates := make([]float64, n)
	window := make([]float64, 0, derivativeWindow)
	for i := 0; i < n; i++ {
		start := i - derivativeWindow + 1
		if start < 0 {
			start = 0
		}
		window = window[:0]
		window = append(window, 0)
		for j := start + 1; j <= i; j++ {
			window = append(window, diffs[j])
		}
		sort.Float64s(window)
		rates[i] = sortedMedian(window)
	}
	return rates
}

// sortedMedian returns the middle element of a sorted slice, or the mean of
// the two middle elements when the length is even.
func sortedMedian(xs []float64) float64 {
	n := len(xs)
	if n%2 == 1 {
		return xs[n/2]
	}
	return (xs[n/2-1] + xs[n/2]) / 2
}

// RateEstimate returns the smoothed delay derivative (m/s) at the most
// recent sample. The boolean is false while fewer than two samples exist.
func (h *DelayHistory) RateEstimate() (float64, bool) {
	if len(h.samples) < 2 {
		return 0, false
	}
	rates := h.SmoothedRates()
	return rates[len(rates)-1], true
}

// PositionDoppler converts a smoothed delay rate into a Doppler shift in Hz
// for the given carrier.
func PositionDoppler(rateMps, fcMHz float64) float64 {
	return -rateMps / geom.Wavelength(fcMHz)
}
