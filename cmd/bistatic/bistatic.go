package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/bistatic.report/internal/adsb"
	"github.com/banshee-data/bistatic.report/internal/api"
	"github.com/banshee-data/bistatic.report/internal/config"
	"github.com/banshee-data/bistatic.report/internal/session"
	"github.com/banshee-data/bistatic.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	tuningPath = flag.String("tuning", "", "Path to tuning JSON (optional)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("bistatic.report %s (%s)", version.Version, version.GitSHA)

	tc, err := config.LoadTuningConfig(*tuningPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}
	tuning, err := tc.Resolve()
	if err != nil {
		log.Fatalf("invalid tuning config: %v", err)
	}
	log.Printf("tuning: poll=%s idle=%s stale=%s debounce=%s max_sessions=%d",
		tuning.PollInterval, tuning.SessionIdleTimeout, tuning.TrackStaleTimeout,
		tuning.SourceDebounce, tuning.MaxSessions)

	source := adsb.NewHTTPSource(tuning.FetchTimeout)
	store := session.NewStore(source, tuning)
	poller := session.NewPoller(store, tuning.PollInterval)
	server := api.NewServer(store)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(server.ServeMux()),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("poller terminated: %v", err)
		}
		log.Print("poller routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("serving on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	wg.Wait()
}
