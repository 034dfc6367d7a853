package api

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/bistatic.report/internal/session"
)

// handleChart renders a quick HTML line plot of one track's delay and
// Doppler trail. Debugging-only endpoint (no auth) for eyeballing the
// smoother against the instantaneous estimate without a front end.
// Query params: the usual session parameters plus hex (track to plot).
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hex := q.Get("hex")
	if hex == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing parameter \"hex\"")
		return
	}

	// The fingerprint covers session parameters only; chart-specific keys
	// must not mint a fresh session.
	sessionQuery := url.Values{}
	for k, vs := range q {
		sessionQuery[k] = vs
	}
	sessionQuery.Del("hex")

	if _, err := parseSessionParams(sessionQuery); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	series, ok := s.store.TrackSeries(session.Fingerprint(sessionQuery), hex)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "no such session or track")
		return
	}
	if len(series) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "track has no output history yet")
		return
	}

	xAxis := make([]string, 0, len(series))
	delays := make([]opts.LineData, 0, len(series))
	dopplers := make([]opts.LineData, 0, len(series))
	for _, rec := range series {
		ts := time.Unix(0, int64(rec.TimestampSec*1e9)).UTC()
		xAxis = append(xAxis, ts.Format("15:04:05"))
		delays = append(delays, opts.LineData{Value: rec.DelayKm})
		if rec.DopplerHz != nil {
			dopplers = append(dopplers, opts.LineData{Value: *rec.DopplerHz})
		} else {
			dopplers = append(dopplers, opts.LineData{Value: nil})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("track %s", hex),
			Subtitle: "bistatic delay (km) and merged Doppler (Hz)",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis).
		AddSeries("delay_km", delays).
		AddSeries("doppler_hz", dopplers)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to render chart")
	}
}
