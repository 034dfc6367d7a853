package synth

import (
	"errors"
	"fmt"
	"math"
)

// Hard caps on a single generation run.
const (
	MaxDurationSec = 600.0
	MaxFrames      = 5000
)

// Config parameterizes one synthetic generation run. Delay units are km,
// Doppler Hz, SNR dB, durations seconds.
type Config struct {
	NoiseDelayKm   float64 `json:"noise_delay"`
	NoiseDopplerHz float64 `json:"noise_doppler"`
	SNRMinDB       float64 `json:"snr_min"`
	SNRMaxDB       float64 `json:"snr_max"`
	DetectionProb  float64 `json:"detection_prob"`
	FalseAlarmRate float64 `json:"false_alarm_rate"`

	FrameIntervalSec float64 `json:"frame_interval"`
	DurationSec      float64 `json:"duration"`

	// Extents for uniformly distributed false alarms.
	DelayMinKm   float64 `json:"delay_min"`
	DelayMaxKm   float64 `json:"delay_max"`
	DopplerMinHz float64 `json:"doppler_min"`
	DopplerMaxHz float64 `json:"doppler_max"`

	Seed int64 `json:"seed"`
}

// FrameCount derives the number of frames for the run.
func (c Config) FrameCount() int {
	if c.FrameIntervalSec <= 0 {
		return 0
	}
	return int(math.Floor(c.DurationSec / c.FrameIntervalSec))
}

// Validate checks every rule and reports all violations at once, so a
// caller can fix a bad request in one round trip.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.NoiseDelayKm < 0 {
		add("noise_delay must be non-negative, got %g", c.NoiseDelayKm)
	}
	if c.NoiseDopplerHz < 0 {
		add("noise_doppler must be non-negative, got %g", c.NoiseDopplerHz)
	}
	if c.SNRMinDB >= c.SNRMaxDB {
		add("snr_min (%g) must be below snr_max (%g)", c.SNRMinDB, c.SNRMaxDB)
	}
	if c.DetectionProb < 0 || c.DetectionProb > 1 {
		add("detection_prob must be in [0,1], got %g", c.DetectionProb)
	}
	if c.FalseAlarmRate < 0 {
		add("false_alarm_rate must be non-negative, got %g", c.FalseAlarmRate)
	}
	if c.FrameIntervalSec <= 0 {
		add("frame_interval must be positive, got %g", c.FrameIntervalSec)
	}
	if c.DurationSec <= 0 {
		add("duration must be positive, got %g", c.DurationSec)
	} else if c.DurationSec > MaxDurationSec {
		add("duration %g exceeds maximum %g", c.DurationSec, MaxDurationSec)
	}
	if c.DelayMinKm >= c.DelayMaxKm {
		add("delay_min (%g) must be below delay_max (%g)", c.DelayMinKm, c.DelayMaxKm)
	}
	if c.DopplerMinHz >= c.DopplerMaxHz {
		add("doppler_min (%g) must be below doppler_max (%g)", c.DopplerMinHz, c.DopplerMaxHz)
	}
	if c.FrameIntervalSec > 0 && c.DurationSec > 0 {
		if n := c.FrameCount(); n > MaxFrames {
			add("derived frame count %d exceeds maximum %d", n, MaxFrames)
		}
	}

	return errors.Join(errs...)
}
