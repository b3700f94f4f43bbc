package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opus-domini/pulsecheck/internal/alerting"
	"github.com/opus-domini/pulsecheck/internal/config"
	"github.com/opus-domini/pulsecheck/internal/dispatch"
	"github.com/opus-domini/pulsecheck/internal/events"
	"github.com/opus-domini/pulsecheck/internal/schedule"
	"github.com/opus-domini/pulsecheck/internal/store"
	"github.com/opus-domini/pulsecheck/internal/transport"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// sendAlerts runs the alerting loop (C4+C5) and dispatcher (C6) until
// SIGINT/SIGTERM, then drains in-flight dispatches within a grace window.
func sendAlerts(cfg config.Config, numWorkers int, pool bool) int {
	initLogger(cfg.LogLevel)

	st, err := store.New(cfg.DBPath, store.Options{Pool: pool, PoolSize: numWorkers})
	if err != nil {
		slog.Error("store init failed", "err", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	eventHub := events.NewHub()
	eval := schedule.NewEvaluator()
	registry := buildTransportRegistry(cfg)
	dispatcher := dispatch.New(st, registry, cfg.SiteRoot, numWorkers, cfg.TransportTimeout)

	alertingService := alerting.New(st, eval, dispatcher, alerting.Options{
		TickInterval:   cfg.TickInterval,
		NagInterval:    cfg.NagInterval,
		FlipRetention:  cfg.FlipRetention,
		LockStaleAfter: cfg.LockStaleAfter,
		EventHub:       eventHub,
	})

	slog.Info("pulsecheck sendalerts starting",
		"version", currentVersion(), "db", cfg.DBPath,
		"tick_interval", cfg.TickInterval, "nag_interval", cfg.NagInterval, "num_workers", numWorkers)

	alertingService.Start(context.Background())

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownCh

	slog.Info("shutting down, draining in-flight dispatches...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	alertingService.Stop(stopCtx)

	slog.Info("pulsecheck sendalerts stopped")
	return 0
}

// sendReports periodically summarizes check status for email digests.
// Mail composition and recipient management are outside this core's
// scope; this command exercises the shared resolve.Resolve contract and
// gives the CLI surface a complete shape (spec §6).
func sendReports(cfg config.Config, loop bool, interval time.Duration) int {
	initLogger(cfg.LogLevel)

	st, err := store.New(cfg.DBPath, store.Options{})
	if err != nil {
		slog.Error("store init failed", "err", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	eval := schedule.NewEvaluator()

	runOnce := func() {
		if err := reportOnce(st, eval); err != nil {
			slog.Warn("report sweep failed", "err", err)
		}
	}

	if !loop {
		runOnce()
		return 0
	}

	slog.Info("pulsecheck sendreports starting", "interval", interval)
	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-shutdownCh:
			slog.Info("pulsecheck sendreports stopped")
			return 0
		case <-ticker.C:
			runOnce()
		}
	}
}

// buildTransportRegistry wires every transport kind pulsecheck supports,
// narrowed to cfg.EnabledTransports when the operator has restricted
// the set (empty means all).
func buildTransportRegistry(cfg config.Config) *transport.Registry {
	all := []transport.Transport{
		&transport.Webhook{},
		&transport.Slack{},
		&transport.PagerDuty{},
		&transport.Opsgenie{},
		&transport.Email{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		},
	}
	if len(cfg.EnabledTransports) == 0 {
		return transport.NewRegistry(all...)
	}

	enabled := make(map[string]bool, len(cfg.EnabledTransports))
	for _, kind := range cfg.EnabledTransports {
		enabled[kind] = true
	}
	filtered := make([]transport.Transport, 0, len(all))
	for _, t := range all {
		if enabled[t.Kind()] {
			filtered = append(filtered, t)
		}
	}
	return transport.NewRegistry(filtered...)
}

func initLogger(level string) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})))
}
