package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/BearBump/OrderDesk/config"
	"github.com/BearBump/OrderDesk/internal/metrics"
	"github.com/BearBump/OrderDesk/internal/services/poller"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	poller *poller.Poller
	cfg    *config.Config
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath == "" {
		return fmt.Errorf("worker swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, map[string]string{"error": "poller not wired"})
			return
		}
		writeJSON(w, opts.poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, map[string]string{"error": "config not wired"})
			return
		}
		// Без секретов: только рабочие настройки воркера.
		oc := opts.cfg.OrderDesk
		writeJSON(w, map[string]any{
			"pollIntervalSeconds":          oc.WorkerPollIntervalSeconds,
			"batchSize":                    oc.WorkerBatchSize,
			"concurrency":                  oc.WorkerConcurrency,
			"leaseSeconds":                 oc.WorkerLeaseSeconds,
			"rateLimitPerMinute":           oc.WorkerRateLimitPerMinute,
			"rateLimitCDEKPerMinute":       oc.WorkerRateLimitCDEKPerMinute,
			"rateLimitPostRuPerMinute":     oc.WorkerRateLimitPostRuPerMinute,
			"nextCheckInTransitMinSeconds": oc.WorkerNextCheckInTransitMinSeconds,
			"nextCheckInTransitMaxSeconds": oc.WorkerNextCheckInTransitMaxSeconds,
			"nextCheckUnknownSeconds":      oc.WorkerNextCheckUnknownSeconds,
			"carrierMode":                  oc.CarrierMode,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, map[string]string{"error": "poller not wired"})
			return
		}
		opts.poller.Trigger()
		writeJSON(w, map[string]bool{"triggered": true})
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})

	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
