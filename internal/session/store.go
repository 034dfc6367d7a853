package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/bistatic.report/internal/adsb"
	"github.com/banshee-data/bistatic.report/internal/config"
	"github.com/banshee-data/bistatic.report/internal/doppler"
	"github.com/banshee-data/bistatic.report/internal/geom"
)

const ftToM = 0.3048

var (
	// ErrCapacityExceeded is returned when admitting a new session would
	// exceed the live-session ceiling.
	ErrCapacityExceeded = errors.New("session: live session ceiling reached")

	// ErrSourceUnavailable is returned when the source liveness probe
	// fails at admission. No session is created.
	ErrSourceUnavailable = errors.New("session: source probe failed")
)

// Store owns every live session. All session and track state is guarded by
// a single mutex; source fetches happen outside it, so the request path and
// the tick loop interleave only at fetch boundaries and every
// read-modify-write of shared state is atomic.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	source adsb.Source
	tuning config.Tuning

	// now is the wall clock, injectable for tests.
	now func() time.Time
}

// NewStore creates an empty store bound to one source fetcher.
func NewStore(source adsb.Source, tuning config.Tuning) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		source:   source,
		tuning:   tuning,
		now:      time.Now,
	}
}

// Observe is the client request path: it returns the current output map for
// the session identified by fp, creating the session on first sight.
// Every read, cache hit included, refreshes the session's idle clock: a
// client that keeps polling keeps its session alive indefinitely.
func (s *Store) Observe(ctx context.Context, fp string, p Params) (map[string]OutputRecord, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[fp]; ok {
		sess.LastAccess = s.now()
		out := copyOutputs(sess.Outputs)
		s.mu.Unlock()
		return out, nil
	}
	if len(s.sessions) >= s.tuning.MaxSessions {
		s.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	s.mu.Unlock()

	// Probe outside the lock; it can block up to the fetch timeout.
	probeCtx, cancel := context.WithTimeout(ctx, s.tuning.FetchTimeout)
	defer cancel()
	if !s.source.Probe(probeCtx, p.Source) {
		return nil, ErrSourceUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: a concurrent request may have raced us.
	if sess, ok := s.sessions[fp]; ok {
		sess.LastAccess = s.now()
		return copyOutputs(sess.Outputs), nil
	}
	if len(s.sessions) >= s.tuning.MaxSessions {
		return nil, ErrCapacityExceeded
	}

	sess := newSession(fp, p)
	sess.LastAccess = s.now()
	s.sessions[fp] = sess
	log.Printf("session %s created (fingerprint %q, baseline %.1f km)",
		sess.ID, fp, sess.BaselineM/1000)
	return copyOutputs(sess.Outputs), nil
}

// Tick runs one scheduler pass: evict idle sessions, then fetch and process
// a snapshot for each survivor. Fetch failures are skipped silently and
// retried on the next pass.
func (s *Store) Tick(ctx context.Context, now time.Time) {
	type pending struct {
		fp     string
		source string
	}

	s.mu.Lock()
	var work []pending
	for fp, sess := range s.sessions {
		if now.Sub(sess.LastAccess) > s.tuning.SessionIdleTimeout {
			delete(s.sessions, fp)
			log.Printf("session %s evicted after %s idle (%d tracks dropped)",
				sess.ID, now.Sub(sess.LastAccess).Round(time.Second), len(sess.Tracks))
			continue
		}
		work = append(work, pending{fp: fp, source: sess.Params.Source})
	}
	s.mu.Unlock()

	for _, w := range work {
		fetchCtx, cancel := context.WithTimeout(ctx, s.tuning.FetchTimeout)
		snap := s.source.Fetch(fetchCtx, w.source)
		cancel()
		if snap == nil {
			continue
		}

		s.mu.Lock()
		sess, ok := s.sessions[w.fp]
		if !ok {
			// Evicted while we were fetching.
			s.mu.Unlock()
			continue
		}
		if snap.SourceTimeSec == sess.LastSourceTimeSec &&
			now.Sub(sess.LastProcessed) < s.tuning.SourceDebounce {
			s.mu.Unlock()
			continue
		}
		s.applySnapshot(sess, snap, now)
		sess.LastSourceTimeSec = snap.SourceTimeSec
		sess.LastProcessed = now
		s.mu.Unlock()
	}
}

// applySnapshot runs the per-tick transform for one session. Caller holds
// the store lock.
func (s *Store) applySnapshot(sess *Session, snap *adsb.Snapshot, now time.Time) {
	nowSec := float64(now.UnixNano()) / 1e9
	staleSec := s.tuning.TrackStaleTimeout.Seconds()

	for hex, tr := range sess.Tracks {
		if nowSec-tr.LastDetSec > staleSec {
			delete(sess.Tracks, hex)
			delete(sess.Outputs, hex)
		}
	}

	for i := range snap.Aircraft {
		rep := &snap.Aircraft[i]
		flight := strings.TrimSpace(rep.Flight)
		if rep.Hex == "" || flight == "" ||
			rep.Lat == nil || rep.Lon == nil || rep.AltGeomFt == nil {
			continue
		}

		tr, known := sess.Tracks[rep.Hex]
		if known &&
			tr.LastLatDeg == *rep.Lat &&
			tr.LastLonDeg == *rep.Lon &&
			tr.LastAltFt == *rep.AltGeomFt {
			// Same position fix as last tick; output stays as-is.
			continue
		}
		if !known {
			tr = &TrackState{}
		}

		detSec := snap.SourceTimeSec - rep.SeenPosSec
		target := geom.ToECEF(geom.LLA{
			LatDeg: *rep.Lat,
			LonDeg: *rep.Lon,
			AltM:   *rep.AltGeomFt * ftToM,
		})
		dRx := target.DistanceTo(sess.RxECEF)
		dTx := target.DistanceTo(sess.TxECEF)
		delayM := dTx + dRx - sess.BaselineM

		if err := tr.History.Append(delayM, detSec); err != nil {
			// Rejected sample; keep the previous state for this track.
			log.Printf("session %s track %s: %v", sess.ID, rep.Hex, err)
			continue
		}
		tr.LastLatDeg = *rep.Lat
		tr.LastLonDeg = *rep.Lon
		tr.LastAltFt = *rep.AltGeomFt
		tr.LastDetSec = detSec

		kin := doppler.Kinematics{
			LatDeg:          *rep.Lat,
			LonDeg:          *rep.Lon,
			AltFt:           rep.AltGeomFt,
			GroundSpeedKt:   rep.GroundSpeedKt,
			TrackDeg:        rep.TrackDeg,
			VerticalRateFpm: rep.VerticalRateFpm,
		}
		velHz, velOK := doppler.VelocityDoppler(kin, target, sess.RxECEF, sess.TxECEF,
			dRx, dTx, sess.Params.FreqMHz)

		var posHz *float64
		if rate, ok := tr.History.RateEstimate(); ok {
			v := doppler.PositionDoppler(rate, sess.Params.FreqMHz)
			posHz = &v
		}

		out := OutputRecord{
			TimestampSec: detSec,
			Flight:       flight,
			DelayKm:      roundDelayKm(delayM / 1000),
		}
		if velOK {
			v := velHz
			out.DopplerVel = &v
		}
		out.DopplerPos = posHz

		// The velocity estimate wins whenever present, noisier or not;
		// downstream consumers rely on this precedence.
		switch {
		case velOK:
			v := velHz
			out.DopplerHz = &v
			out.DopplerMethod = DopplerVelocity
		case posHz != nil:
			out.DopplerHz = posHz
			out.DopplerMethod = DopplerPosition
		}

		tr.RecentOutput = append(tr.RecentOutput, out)
		if len(tr.RecentOutput) > RecentOutputLength {
			tr.RecentOutput = tr.RecentOutput[1:]
		}

		sess.Tracks[rep.Hex] = tr
		sess.Outputs[rep.Hex] = out
	}
}

// SessionInfo is a read-only view of one live session for ops endpoints.
type SessionInfo struct {
	ID            string  `json:"id"`
	Fingerprint   string  `json:"fingerprint"`
	Source        string  `json:"source"`
	FreqMHz       float64 `json:"freq_mhz"`
	BaselineKm    float64 `json:"baseline_km"`
	TrackCount    int     `json:"track_count"`
	IdleSeconds   float64 `json:"idle_seconds"`
	LastSourceSec float64 `json:"last_source_time"`
}

// Sessions lists the live sessions.
func (s *Store) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:            sess.ID.String(),
			Fingerprint:   sess.Fingerprint,
			Source:        sess.Params.Source,
			FreqMHz:       sess.Params.FreqMHz,
			BaselineKm:    sess.BaselineM / 1000,
			TrackCount:    len(sess.Tracks),
			IdleSeconds:   now.Sub(sess.LastAccess).Seconds(),
			LastSourceSec: sess.LastSourceTimeSec,
		})
	}
	return infos
}

// TrackSeries returns the recent output trail for one track, newest last.
// The second return is false when the session or track does not exist.
// Like Observe, a hit refreshes the session's idle clock.
func (s *Store) TrackSeries(fp, hex string) ([]OutputRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[fp]
	if !ok {
		return nil, false
	}
	sess.LastAccess = s.now()
	tr, ok := sess.Tracks[hex]
	if !ok {
		return nil, false
	}
	return append([]OutputRecord(nil), tr.RecentOutput...), true
}

// SessionCount returns the number of live sessions.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func copyOutputs(m map[string]OutputRecord) map[string]OutputRecord {
	out := make(map[string]OutputRecord, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
