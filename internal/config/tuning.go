// Package config loads runtime tuning for the session store and scheduler.
// All fields are optional in the JSON file; Resolve fills defaults so the
// rest of the system only ever sees concrete values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TuningConfig is the optional on-disk tuning schema. Pointer fields
// distinguish "absent" from zero so a partial file only overrides what it
// names.
type TuningConfig struct {
	PollInterval       *string `json:"poll_interval,omitempty"`        // duration string like "1s"
	FetchTimeout       *string `json:"fetch_timeout,omitempty"`        // duration string like "5s"
	SessionIdleTimeout *string `json:"session_idle_timeout,omitempty"` // duration string like "30s"
	TrackStaleTimeout  *string `json:"track_stale_timeout,omitempty"`  // duration string like "5s"
	SourceDebounce     *string `json:"source_debounce,omitempty"`      // duration string like "10s"
	MaxSessions        *int    `json:"max_sessions,omitempty"`
}

// Tuning is the resolved runtime configuration.
type Tuning struct {
	PollInterval       time.Duration
	FetchTimeout       time.Duration
	SessionIdleTimeout time.Duration
	TrackStaleTimeout  time.Duration
	SourceDebounce     time.Duration
	MaxSessions        int
}

// DefaultTuning returns the built-in defaults.
func DefaultTuning() Tuning {
	return Tuning{
		PollInterval:       time.Second,
		FetchTimeout:       5 * time.Second,
		SessionIdleTimeout: 30 * time.Second,
		TrackStaleTimeout:  5 * time.Second,
		SourceDebounce:     10 * time.Second,
		MaxSessions:        16,
	}
}

// LoadTuningConfig reads a tuning file. A missing file returns an empty
// config rather than an error so deployments without one get defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	if path == "" {
		return &TuningConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &TuningConfig{}, nil
		}
		return nil, fmt.Errorf("read tuning config: %w", err)
	}
	var tc TuningConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("parse tuning config: %w", err)
	}
	return &tc, nil
}

// Resolve applies the file overrides on top of the defaults.
func (tc *TuningConfig) Resolve() (Tuning, error) {
	t := DefaultTuning()

	apply := func(field *string, dst *time.Duration, name string) error {
		if field == nil {
			return nil
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
		*dst = d
		return nil
	}

	if err := apply(tc.PollInterval, &t.PollInterval, "poll_interval"); err != nil {
		return Tuning{}, err
	}
	if err := apply(tc.FetchTimeout, &t.FetchTimeout, "fetch_timeout"); err != nil {
		return Tuning{}, err
	}
	if err := apply(tc.SessionIdleTimeout, &t.SessionIdleTimeout, "session_idle_timeout"); err != nil {
		return Tuning{}, err
	}
	if err := apply(tc.TrackStaleTimeout, &t.TrackStaleTimeout, "track_stale_timeout"); err != nil {
		return Tuning{}, err
	}
	if err := apply(tc.SourceDebounce, &t.SourceDebounce, "source_debounce"); err != nil {
		return Tuning{}, err
	}
	if tc.MaxSessions != nil {
		if *tc.MaxSessions <= 0 {
			return Tuning{}, fmt.Errorf("max_sessions must be positive, got %d", *tc.MaxSessions)
		}
		t.MaxSessions = *tc.MaxSessions
	}
	return t, nil
}
