// Command sfu runs the selective forwarding unit: a WebSocket signaling
// front-end plus the room/participant mesh and RTP forwarding datapath
// described in the internal packages.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/sfu/internal/auth"
	"github.com/relaymesh/sfu/internal/config"
	"github.com/relaymesh/sfu/internal/loop"
	"github.com/relaymesh/sfu/internal/logging"
	"github.com/relaymesh/sfu/internal/metrics"
	"github.com/relaymesh/sfu/internal/rtc"
	"github.com/relaymesh/sfu/internal/signaling"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; env vars and defaults still apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Exit(startupFailure("loading configuration", err))
	}

	logger := logging.New(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	validator, err := auth.LoadValidator(cfg.JWTPublicKeyPath)
	if err != nil {
		logger.Fatalw("loading JWT public key", "path", cfg.JWTPublicKeyPath, "error", err)
	}

	rtcAPI, err := rtc.NewAPI(rtc.APIOptions{
		ICEUDPPortMin: cfg.ICEUDPPortMin,
		ICEUDPPortMax: cfg.ICEUDPPortMax,
		STUNServerURL: cfg.STUNServerURL,
	})
	if err != nil {
		logger.Fatalw("building WebRTC API", "error", err)
	}
	rtcConfig := rtc.Configuration(cfg.STUNServerURL)

	collector := metrics.New()
	taskLoop := loop.New(cfg.LoopQueueCapacity, logger, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go taskLoop.Run(ctx)

	router := signaling.NewRouter(cfg, validator, rtcAPI, rtcConfig, taskLoop, collector, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/rtc/v1/ws", router.ServeWS)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infow("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server error", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Infow("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Infow("sfu listening",
		"addr", cfg.ListenAddr,
		"ice_port_range", [2]uint16{cfg.ICEUDPPortMin, cfg.ICEUDPPortMax},
		"stun_server", cfg.STUNServerURL,
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalw("signaling server error", "error", err)
	}
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// startupFailure logs a fatal configuration error to stderr (before the
// structured logger is available) and returns the nonzero exit code.
func startupFailure(step string, err error) int {
	os.Stderr.WriteString(step + ": " + err.Error() + "\n")
	return 1
}
