package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/bistatic.report/internal/session"
	"github.com/banshee-data/bistatic.report/internal/synth"
)

// parseSessionParams extracts the (receiver, transmitter, frequency, source)
// configuration from query parameters.
func parseSessionParams(q url.Values) (session.Params, error) {
	var p session.Params

	f := func(key string, dst *float64) error {
		raw := q.Get(key)
		if raw == "" {
			return fmt.Errorf("missing parameter %q", key)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid parameter %q: %w", key, err)
		}
		*dst = v
		return nil
	}

	for _, field := range []struct {
		key string
		dst *float64
	}{
		{"rxlat", &p.Receiver.LatDeg},
		{"rxlon", &p.Receiver.LonDeg},
		{"rxalt", &p.Receiver.AltM},
		{"txlat", &p.Transmitter.LatDeg},
		{"txlon", &p.Transmitter.LonDeg},
		{"txalt", &p.Transmitter.AltM},
		{"fc", &p.FreqMHz},
	} {
		if err := f(field.key, field.dst); err != nil {
			return session.Params{}, err
		}
	}
	if p.FreqMHz <= 0 {
		return session.Params{}, fmt.Errorf("fc must be a positive frequency in MHz")
	}

	p.Source = q.Get("source")
	if p.Source == "" {
		return session.Params{}, fmt.Errorf("missing parameter %q", "source")
	}
	return p, nil
}

func (s *Server) observe(w http.ResponseWriter, r *http.Request, q url.Values) (map[string]session.OutputRecord, bool) {
	p, err := parseSessionParams(q)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	out, err := s.store.Observe(r.Context(), session.Fingerprint(q), p)
	switch {
	case errors.Is(err, session.ErrCapacityExceeded):
		s.writeJSONError(w, http.StatusTooManyRequests, err.Error())
		return nil, false
	case errors.Is(err, session.ErrSourceUnavailable):
		s.writeJSONError(w, http.StatusBadGateway, err.Error())
		return nil, false
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return out, true
}

// handleDelay creates or reads a session and returns its output map keyed by
// hex code. The first request for a new configuration returns an empty map;
// tracks appear as the scheduler picks up snapshots.
func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	out, ok := s.observe(w, r, r.URL.Query())
	if !ok {
		return
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write output")
	}
}

// synthConfigFromQuery builds a generation config from query parameters,
// applying defaults for everything the request leaves unset.
func synthConfigFromQuery(q url.Values) (synth.Config, error) {
	cfg := synth.Config{
		NoiseDelayKm:     0.05,
		NoiseDopplerHz:   5,
		SNRMinDB:         3,
		SNRMaxDB:         30,
		DetectionProb:    0.9,
		FalseAlarmRate:   1,
		FrameIntervalSec: 1,
		DurationSec:      10,
		DelayMinKm:       0,
		DelayMaxKm:       400,
		DopplerMinHz:     -500,
		DopplerMaxHz:     500,
		Seed:             1,
	}

	setF := func(key string, dst *float64) error {
		raw := q.Get(key)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid parameter %q: %w", key, err)
		}
		*dst = v
		return nil
	}

	for _, field := range []struct {
		key string
		dst *float64
	}{
		{"noise_delay", &cfg.NoiseDelayKm},
		{"noise_doppler", &cfg.NoiseDopplerHz},
		{"snr_min", &cfg.SNRMinDB},
		{"snr_max", &cfg.SNRMaxDB},
		{"detection_prob", &cfg.DetectionProb},
		{"false_alarm_rate", &cfg.FalseAlarmRate},
		{"frame_interval", &cfg.FrameIntervalSec},
		{"duration", &cfg.DurationSec},
		{"delay_min", &cfg.DelayMinKm},
		{"delay_max", &cfg.DelayMaxKm},
		{"doppler_min", &cfg.DopplerMinHz},
		{"doppler_max", &cfg.DopplerMaxHz},
	} {
		if err := setF(field.key, field.dst); err != nil {
			return synth.Config{}, err
		}
	}

	if raw := q.Get("seed"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return synth.Config{}, fmt.Errorf("invalid parameter %q: %w", "seed", err)
		}
		cfg.Seed = v
	}
	return cfg, nil
}

// synthQueryKeys are stripped before fingerprinting so a synthetic run binds
// to the same session as a plain delay read of the same configuration.
var synthQueryKeys = []string{
	"noise_delay", "noise_doppler", "snr_min", "snr_max",
	"detection_prob", "false_alarm_rate", "frame_interval", "duration",
	"delay_min", "delay_max", "doppler_min", "doppler_max", "seed",
}

// handleSynthetic reads a session's current output map as ground truth and
// emits a synthetic detection sequence over it.
func (s *Server) handleSynthetic(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	cfg, err := synthConfigFromQuery(q)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"errors": strings.Split(err.Error(), "\n"),
		})
		return
	}

	sessionQuery := url.Values{}
	for k, vs := range q {
		sessionQuery[k] = vs
	}
	for _, k := range synthQueryKeys {
		sessionQuery.Del(k)
	}

	out, ok := s.observe(w, r, sessionQuery)
	if !ok {
		return
	}

	tracks := make([]synth.TruthTrack, 0, len(out))
	for hex, rec := range out {
		var dop float64
		if rec.DopplerHz != nil {
			dop = *rec.DopplerHz
		}
		tracks = append(tracks, synth.TruthTrack{
			ID:        hex,
			DelayKm:   rec.DelayKm,
			DopplerHz: dop,
			Meta: map[string]any{
				"hex":    hex,
				"flight": rec.Flight,
			},
		})
	}

	frames, err := synth.Generate(cfg, tracks, time.Now().UnixMilli())
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := json.NewEncoder(w).Encode(frames); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write frames")
	}
}
