package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/flowpbx/internal/cfw"
	"github.com/flowpbx/flowpbx/internal/config"
	"github.com/flowpbx/flowpbx/internal/endpoint"
	"github.com/flowpbx/flowpbx/internal/ivrpkg"
	"github.com/flowpbx/flowpbx/internal/metrics"
	"github.com/flowpbx/flowpbx/internal/mixerpkg"
	"github.com/flowpbx/flowpbx/internal/promptcache"
	"github.com/flowpbx/flowpbx/internal/recording"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting cfwms",
		"cfw_address", cfg.CFWAddress,
		"cfw_port", cfg.CFWPort,
		"tls", cfg.TLSEnabled(),
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	registry := cfw.NewRegistry()
	adapter := endpoint.NewAdapter()

	var tlsConfig *tls.Config
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.CFWCert, cfg.CFWKey)
		if err != nil {
			slog.Error("failed to load cfw tls certificate", "error", err)
			os.Exit(1)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	core := cfw.NewCore(registry, cfg.SIPRestrict, tlsConfig, logger)

	promptClient := &http.Client{Timeout: 10 * time.Second}
	cache := promptcache.New(promptClient, decodePrompt, 8, logger)

	mixerPkg := mixerpkg.New(adapter, core, logger)
	ivrPkg := ivrpkg.New(adapter, cache, core, cfg.RecordingsDir, logger)
	registry.Register(mixerPkg)
	registry.Register(ivrPkg)

	retention := time.Duration(cfg.RecordingRetentionHours) * time.Hour
	recording.StartCleanupTicker(appCtx, cfg.RecordingsDir, retention, time.Hour, logger)

	collector := metrics.NewCollector(
		core,
		core,
		ivrPkg,
		mixerPkg,
		mixerPkg,
		cache,
		recording.MetricsProvider{},
		time.Now(),
	)
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collector)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.MetricsAddr, cfg.MetricsPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	cfwAddr := fmt.Sprintf("%s:%d", cfg.CFWAddress, cfg.CFWPort)
	if err := core.Start(cfwAddr); err != nil {
		slog.Error("failed to start cfw listener", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("metrics server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := core.Stop(); err != nil {
		slog.Error("cfw listener shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}

	slog.Info("cfwms stopped")
}

// decodePrompt adapts recording.DecodeWAV to promptcache.Decoder (§4.8): the
// fetched prompt body is assumed to be a WAV file at the canonical 8kHz
// mono 16-bit format, matching every recording this core produces and the
// decode/encode indirection described in §4.6.
func decodePrompt(body []byte) (promptcache.Prompt, error) {
	frames, duration, err := recording.DecodeWAV(body)
	if err != nil {
		return promptcache.Prompt{}, fmt.Errorf("decoding prompt: %w", err)
	}
	return promptcache.Prompt{Frames: frames, Duration: duration}, nil
}
