// Command intake-mock is a local stand-in for the remote intake: it accepts
// feature uploads, optionally injects failures, and exposes Prometheus
// metrics. Point a beacon transport.URLRequestBuilder at it during
// development to watch batches arrive.
package main

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/observability"
)

var (
	batchesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_batches_received_total",
		Help: "Total upload batches received per feature",
	}, []string{"feature", "status"})

	bytesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_bytes_received_total",
		Help: "Total payload bytes received per feature",
	}, []string{"feature"})
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TracingEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	srv := &intakeServer{logger: logger, cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/api/v2/{feature}", srv.uploadHandler).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	logger.Info("intake mock listening",
		zap.String("port", cfg.Port),
		zap.Int("status_override", cfg.StatusOverride),
		zap.Float64("fail_rate", cfg.FailRate),
	)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type intakeServer struct {
	logger   *zap.Logger
	cfg      config.Config
	received atomic.Uint64
}

// uploadHandler accepts one batch, honoring failure injection so retry
// behavior can be exercised end to end.
func (s *intakeServer) uploadHandler(w http.ResponseWriter, r *http.Request) {
	feature := mux.Vars(r)["feature"]

	body := r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			batchesReceived.WithLabelValues(feature, "400").Inc()
			http.Error(w, "bad gzip payload", http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		batchesReceived.WithLabelValues(feature, "400").Inc()
		http.Error(w, "unreadable payload", http.StatusBadRequest)
		return
	}

	status := http.StatusAccepted
	switch {
	case s.cfg.StatusOverride != 0:
		status = s.cfg.StatusOverride
	case s.cfg.FailRate > 0 && rand.Float64() < s.cfg.FailRate:
		status = http.StatusServiceUnavailable
	}

	batchesReceived.WithLabelValues(feature, fmt.Sprint(status)).Inc()
	bytesReceived.WithLabelValues(feature).Add(float64(len(payload)))
	s.received.Add(1)

	s.logger.Debug("batch received",
		zap.String("feature", feature),
		zap.Int("bytes", len(payload)),
		zap.String("request_id", r.Header.Get("X-Request-Id")),
		zap.Int("status", status),
	)
	w.WriteHeader(status)
}
