package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"vigil/internal/config"
	"vigil/internal/detection"
	"vigil/internal/export"
	"vigil/internal/history"
	"vigil/internal/media"
	"vigil/internal/pipeline"
	"vigil/internal/report"
	"vigil/internal/web/api"
)

func main() {
	var (
		configF = flag.String("config", "config.toml", "Path to TOML config file")
		addrF   = flag.String("addr", "", "Listen address (overrides config)")
		debugF  = flag.Bool("debug", false, "Enable debug logging and gin debug mode")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debugF {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	if *addrF != "" {
		cfg.Server.Addr = *addrF
	}
	cfg.Server.Debug = cfg.Server.Debug || *debugF

	if err := run(cfg, logger); err != nil {
		logger.Error("exit", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.UploadDir, filepath.Dir(cfg.Storage.DBPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	store, err := history.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Backend clients are the process-wide model handles: built once here,
	// injected into the registry, torn down on shutdown.
	registry := detection.NewRegistry()
	defer registry.Close()

	if err := registry.Register(detection.NewHTTPDetector(
		"weapon", detection.KindWeapon, cfg.Detection.WeaponEndpoint, cfg.Detection.RequestTimeout)); err != nil {
		return err
	}
	if cfg.Detection.GenericEndpoint != "" {
		if err := registry.Register(detection.NewHTTPDetector(
			"generic", detection.KindGeneric, cfg.Detection.GenericEndpoint, cfg.Detection.RequestTimeout)); err != nil {
			return err
		}
	}

	decoder := media.NewDecoder(cfg.Media.SampleFPS, cfg.Media.MaxFrames, cfg.Media.FFmpegPath)
	aggregator := report.NewAggregator(report.Options{
		ConfidenceFloor: cfg.Detection.ConfidenceFloor,
		IoUThreshold:    cfg.Detection.IoUThreshold,
	})
	orc := pipeline.New(decoder, registry, aggregator, store, cfg.Pipeline.Workers, logger)
	exporter := export.NewExporter()

	handler := api.New(orc, store, exporter, registry, cfg, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "detectors", registry.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case sig := <-sigc:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := orc.Shutdown(waitCtx); err != nil {
		logger.Warn("jobs still running at shutdown", "err", err)
	}
	return nil
}
