package adsb

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds every probe and fetch round trip.
const DefaultFetchTimeout = 5 * time.Second

// HTTPSource fetches aircraft.json snapshots over HTTP. The descriptor is
// the feed URL.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource returns a source with the given round-trip timeout.
// A non-positive timeout selects DefaultFetchTimeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPSource{
		client: &http.Client{Timeout: timeout},
	}
}

// Probe reports whether the feed answers with a decodable snapshot.
func (s *HTTPSource) Probe(ctx context.Context, descriptor string) bool {
	return s.Fetch(ctx, descriptor) != nil
}

// Fetch retrieves one snapshot. Any transport, status, or decode failure
// returns nil; the caller retries on its next cycle.
func (s *HTTPSource) Fetch(ctx context.Context, descriptor string) *Snapshot {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptor, nil)
	if err != nil {
		log.Printf("adsb: invalid source url %q: %v", descriptor, err)
		return nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil
	}
	return &snap
}
