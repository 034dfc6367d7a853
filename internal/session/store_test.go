package session

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bistatic.report/internal/adsb"
	"github.com/banshee-data/bistatic.report/internal/config"
	"github.com/banshee-data/bistatic.report/internal/geom"
)

type fakeSource struct {
	mu      sync.Mutex
	probeOK bool
	snap    *adsb.Snapshot
	fetches int
}

func (f *fakeSource) Probe(ctx context.Context, descriptor string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeOK
}

func (f *fakeSource) Fetch(ctx context.Context, descriptor string) *adsb.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.snap
}

func (f *fakeSource) setSnapshot(snap *adsb.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = snap
}

func ptr(v float64) *float64 { return &v }

func testParams() Params {
	return Params{
		Receiver:    geom.LLA{LatDeg: 50.0, LonDeg: 6.0, AltM: 200},
		Transmitter: geom.LLA{LatDeg: 51.0, LonDeg: 7.0, AltM: 300},
		FreqMHz:     503,
		Source:      "http://receiver.local/aircraft.json",
	}
}

func report(hex, flight string, lat, lon, altFt float64, gs, trk *float64, seenPos float64) adsb.Report {
	return adsb.Report{
		Hex:           hex,
		Flight:        flight,
		Lat:           ptr(lat),
		Lon:           ptr(lon),
		AltGeomFt:     ptr(altFt),
		GroundSpeedKt: gs,
		TrackDeg:      trk,
		SeenPosSec:    seenPos,
	}
}

func newTestStore(t *testing.T, src adsb.Source) *Store {
	t.Helper()
	s := NewStore(src, config.DefaultTuning())
	return s
}

// checkInvariant asserts that the outputs and tracks maps of every session
// hold identical key sets.
func checkInvariant(t *testing.T, s *Store) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, sess := range s.sessions {
		require.Equal(t, len(sess.Tracks), len(sess.Outputs), "session %s", fp)
		for hex := range sess.Tracks {
			_, ok := sess.Outputs[hex]
			require.True(t, ok, "session %s track %s missing output", fp, hex)
		}
	}
}

func TestFingerprintNormalization(t *testing.T) {
	t.Parallel()

	a, _ := url.ParseQuery("rxlat=50&fc=503&source=x")
	b, _ := url.ParseQuery("source=x&rxlat=50&fc=503")
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.Equal(t, "fc=503&rxlat=50&source=x", Fingerprint(a))

	c, _ := url.ParseQuery("rxlat=51&fc=503&source=x")
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))

	// Repeated keys are sorted by value.
	d, _ := url.ParseQuery("k=b&k=a")
	assert.Equal(t, "k=a&k=b", Fingerprint(d))
}

func TestObserveAdmission(t *testing.T) {
	t.Parallel()

	t.Run("creates session on successful probe", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{probeOK: true}
		s := newTestStore(t, src)

		out, err := s.Observe(context.Background(), "fp-1", testParams())
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.Equal(t, 1, s.SessionCount())
	})

	t.Run("no session on failed probe", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{probeOK: false}
		s := newTestStore(t, src)

		_, err := s.Observe(context.Background(), "fp-1", testParams())
		require.ErrorIs(t, err, ErrSourceUnavailable)
		assert.Equal(t, 0, s.SessionCount())
	})

	t.Run("enforces session ceiling", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{probeOK: true}
		tuning := config.DefaultTuning()
		tuning.MaxSessions = 1
		s := NewStore(src, tuning)

		_, err := s.Observe(context.Background(), "fp-1", testParams())
		require.NoError(t, err)

		_, err = s.Observe(context.Background(), "fp-2", testParams())
		require.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, 1, s.SessionCount())

		// Reads of the existing session still succeed at the ceiling.
		_, err = s.Observe(context.Background(), "fp-1", testParams())
		assert.NoError(t, err)
	})
}

func TestTickProcessesSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)

	base := time.Now()
	s.now = func() time.Time { return base }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123 ", 50.5, 6.5, 35000, ptr(450), ptr(45), 0.5),
		},
	})
	s.Tick(context.Background(), base)
	checkInvariant(t, s)

	out, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	require.Contains(t, out, "4b1805")

	rec := out["4b1805"]
	assert.Equal(t, "SWR123", rec.Flight)
	assert.Greater(t, rec.DelayKm, 0.0)
	assert.InDelta(t, baseSec-0.5, rec.TimestampSec, 1e-6)

	// Full kinematics present: the velocity estimate wins the merge.
	require.NotNil(t, rec.DopplerHz)
	assert.Equal(t, DopplerVelocity, rec.DopplerMethod)
	require.NotNil(t, rec.DopplerVel)
	assert.Equal(t, *rec.DopplerVel, *rec.DopplerHz)
	assert.Nil(t, rec.DopplerPos)
}

func TestTickSkipsMalformedReports(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	s.now = func() time.Time { return base }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	noLat := report("111111", "AAA", 50, 6, 30000, nil, nil, 0)
	noLat.Lat = nil
	noAlt := report("222222", "BBB", 50, 6, 0, nil, nil, 0)
	noAlt.AltGeomFt = nil
	noFlight := report("333333", "   ", 50, 6, 30000, nil, nil, 0)

	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft:      []adsb.Report{noLat, noAlt, noFlight},
	})
	s.Tick(context.Background(), base)

	out, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	assert.Empty(t, out)
	checkInvariant(t, s)
}

func TestMergeFallsBackToPositionEstimate(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	now := base
	s.now = func() time.Time { return now }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	// No ground speed or track: the velocity gates fail.
	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.50, 6.50, 35000, nil, nil, 0),
		},
	})
	s.Tick(context.Background(), now)

	out, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	rec := out["4b1805"]

	// Single sample: neither estimator can run.
	assert.Nil(t, rec.DopplerHz)
	assert.Empty(t, rec.DopplerMethod)

	// Second distinct position, one second later.
	now = base.Add(time.Second)
	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec + 1,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.51, 6.51, 35000, nil, nil, 0),
		},
	})
	s.Tick(context.Background(), now)

	out, err = s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	rec = out["4b1805"]

	require.NotNil(t, rec.DopplerHz)
	assert.Equal(t, DopplerPosition, rec.DopplerMethod)
	require.NotNil(t, rec.DopplerPos)
	assert.Equal(t, *rec.DopplerPos, *rec.DopplerHz)
	assert.Nil(t, rec.DopplerVel)
	checkInvariant(t, s)
}

func TestUnchangedPositionSkipsReprocessing(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	now := base
	s.now = func() time.Time { return now }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.5, 6.5, 35000, ptr(450), ptr(45), 0.5),
		},
	})
	s.Tick(context.Background(), now)

	first, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	// New source time, same position fix (its age has grown accordingly).
	now = base.Add(2 * time.Second)
	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec + 2,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.5, 6.5, 35000, ptr(450), ptr(45), 2.5),
		},
	})
	s.Tick(context.Background(), now)

	second, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	assert.Equal(t, first["4b1805"], second["4b1805"])
}

func TestDebounceUnchangedSourceTime(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	now := base
	s.now = func() time.Time { return now }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.5, 6.5, 35000, ptr(450), ptr(45), 0),
		},
	})
	s.Tick(context.Background(), now)

	// Same source time 2s later: even a changed position is not
	// reprocessed while the debounce window holds.
	now = base.Add(2 * time.Second)
	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.6, 6.6, 35000, ptr(450), ptr(45), 0),
		},
	})
	s.Tick(context.Background(), now)

	out, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	assert.InDelta(t, baseSec, out["4b1805"].TimestampSec, 1e-6)
}

func TestFetchFailureSkipsTick(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	s.now = func() time.Time { return base }

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	// No snapshot available.
	s.Tick(context.Background(), base)
	assert.Equal(t, 1, s.SessionCount())

	out, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTrackEviction(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	now := base
	s.now = func() time.Time { return now }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	// Two tracks: one last seen 6s ago, one 3s ago.
	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft: []adsb.Report{
			report("aaaaaa", "STALE", 50.5, 6.5, 35000, ptr(450), ptr(45), 6),
			report("bbbbbb", "FRESH", 50.6, 6.6, 35000, ptr(450), ptr(45), 3),
		},
	})
	s.Tick(context.Background(), now)

	// The next pass evaluates staleness before processing. An empty
	// snapshot leaves eviction as the only effect.
	now = base.Add(time.Second)
	src.setSnapshot(&adsb.Snapshot{SourceTimeSec: baseSec + 1})
	s.Tick(context.Background(), now)

	out, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	assert.NotContains(t, out, "aaaaaa")
	assert.Contains(t, out, "bbbbbb")
	checkInvariant(t, s)
}

func TestSessionEviction(t *testing.T) {
	t.Parallel()

	t.Run("idle session removed after threshold", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{probeOK: true}
		s := newTestStore(t, src)
		base := time.Now()
		now := base
		s.now = func() time.Time { return now }

		_, err := s.Observe(context.Background(), "fp-1", testParams())
		require.NoError(t, err)

		s.Tick(context.Background(), base.Add(31*time.Second))
		assert.Equal(t, 0, s.SessionCount())
	})

	t.Run("client read keeps session alive", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{probeOK: true}
		s := newTestStore(t, src)
		base := time.Now()
		now := base
		s.now = func() time.Time { return now }

		_, err := s.Observe(context.Background(), "fp-1", testParams())
		require.NoError(t, err)

		// Cache-hit read at second 29 refreshes the idle clock.
		now = base.Add(29 * time.Second)
		_, err = s.Observe(context.Background(), "fp-1", testParams())
		require.NoError(t, err)

		s.Tick(context.Background(), base.Add(35*time.Second))
		assert.Equal(t, 1, s.SessionCount())

		// Without further reads the refreshed clock expires too.
		s.Tick(context.Background(), base.Add(65*time.Second))
		assert.Equal(t, 0, s.SessionCount())
	})
}

func TestNonMonotonicDetectionRejected(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	now := base
	s.now = func() time.Time { return now }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.5, 6.5, 35000, ptr(450), ptr(45), 0),
		},
	})
	s.Tick(context.Background(), now)

	first, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	// Position moved, but the derived detection time runs backwards.
	now = base.Add(time.Second)
	src.setSnapshot(&adsb.Snapshot{
		SourceTimeSec: baseSec + 1,
		Aircraft: []adsb.Report{
			report("4b1805", "SWR123", 50.6, 6.6, 35000, ptr(450), ptr(45), 5),
		},
	})
	s.Tick(context.Background(), now)

	second, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)
	assert.Equal(t, first["4b1805"], second["4b1805"])
	checkInvariant(t, s)
}

func TestTrackSeriesAccumulates(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)
	base := time.Now()
	now := base
	s.now = func() time.Time { return now }
	baseSec := float64(base.UnixNano()) / 1e9

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		now = base.Add(time.Duration(i) * time.Second)
		src.setSnapshot(&adsb.Snapshot{
			SourceTimeSec: baseSec + float64(i),
			Aircraft: []adsb.Report{
				report("4b1805", "SWR123", 50.5+float64(i)*0.01, 6.5, 35000, ptr(450), ptr(45), 0),
			},
		})
		s.Tick(context.Background(), now)
	}

	series, ok := s.TrackSeries("fp-1", "4b1805")
	require.True(t, ok)
	assert.Len(t, series, 3)

	_, ok = s.TrackSeries("fp-1", "nope")
	assert.False(t, ok)
	_, ok = s.TrackSeries("fp-2", "4b1805")
	assert.False(t, ok)
}

func TestSessionsInfo(t *testing.T) {
	t.Parallel()

	src := &fakeSource{probeOK: true}
	s := newTestStore(t, src)

	_, err := s.Observe(context.Background(), "fp-1", testParams())
	require.NoError(t, err)

	infos := s.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "fp-1", infos[0].Fingerprint)
	assert.Equal(t, 503.0, infos[0].FreqMHz)
	assert.Greater(t, infos[0].BaselineKm, 100.0)
	assert.Equal(t, 0, infos[0].TrackCount)
}

func TestRoundDelayKm(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 12.0, roundDelayKm(12.0))
	assert.Equal(t, 12.34568, roundDelayKm(12.3456789))
	assert.Equal(t, 0.00001, roundDelayKm(0.0000061))
}
