package synth

import (
	"fmt"
	"sort"
)

// clutterSNRFraction caps false-alarm SNR relative to the configured
// maximum; clutter never looks as strong as the best real detections.
const clutterSNRFraction = 0.7

// TruthTrack is one true (delay, doppler) coordinate to synthesize
// detections around. Meta is attached verbatim to emitted detections.
type TruthTrack struct {
	ID        string
	DelayKm   float64
	DopplerHz float64
	Meta      any
}

// DetectionFrame is one emission interval. The four arrays are index
// aligned; Meta is nil at clutter indices.
type DetectionFrame struct {
	TimestampMs int64     `json:"timestamp_ms"`
	DelayKm     []float64 `json:"delay_km"`
	DopplerHz   []float64 `json:"doppler_hz"`
	SNRdB       []float64 `json:"snr_db"`
	Meta        []any     `json:"adsb"`
}

// Generate produces the full frame sequence for a run. Tracks are processed
// in ID order so a given seed yields the same sequence regardless of the
// caller's map iteration order.
func Generate(cfg Config, tracks []TruthTrack, startMs int64) ([]DetectionFrame, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("synth config: %w", err)
	}

	ordered := append([]TruthTrack(nil), tracks...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	rng := NewRNG(cfg.Seed)
	clutterCeil := cfg.SNRMaxDB * clutterSNRFraction

	n := cfg.FrameCount()
	frames := make([]DetectionFrame, 0, n)
	for k := 0; k < n; k++ {
		f := DetectionFrame{
			TimestampMs: startMs + int64(float64(k)*cfg.FrameIntervalSec*1000),
			DelayKm:     []float64{},
			DopplerHz:   []float64{},
			SNRdB:       []float64{},
			Meta:        []any{},
		}

		for _, tr := range ordered {
			if !rng.Bernoulli(cfg.DetectionProb) {
				continue
			}
			f.DelayKm = append(f.DelayKm, tr.DelayKm+rng.Gaussian(0, cfg.NoiseDelayKm))
			f.DopplerHz = append(f.DopplerHz, tr.DopplerHz+rng.Gaussian(0, cfg.NoiseDopplerHz))
			f.SNRdB = append(f.SNRdB, rng.Uniform(cfg.SNRMinDB, cfg.SNRMaxDB))
			f.Meta = append(f.Meta, tr.Meta)
		}

		for j := rng.Poisson(cfg.FalseAlarmRate); j > 0; j-- {
			f.DelayKm = append(f.DelayKm, rng.Uniform(cfg.DelayMinKm, cfg.DelayMaxKm))
			f.DopplerHz = append(f.DopplerHz, rng.Uniform(cfg.DopplerMinHz, cfg.DopplerMaxHz))
			snr := rng.Uniform(cfg.SNRMinDB, cfg.SNRMaxDB)
			if snr > clutterCeil {
				snr = clutterCeil
			}
			f.SNRdB = append(f.SNRdB, snr)
			f.Meta = append(f.Meta, nil)
		}

		frames = append(frames, f)
	}
	return frames, nil
}
