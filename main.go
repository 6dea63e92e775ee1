// Package main runs the level monitor: it samples microphone and system audio
// levels and serves them to browsers over WebSocket, with a small JSON API.
//
// Usage:
//
//	levelmon [-config path/to/config.json]
//
// If -config is not specified, levelmon looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/oszuidwest/zwfm-levelmon/internal/audio"
	"github.com/oszuidwest/zwfm-levelmon/internal/config"
	"github.com/oszuidwest/zwfm-levelmon/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelmon/internal/monitor"
	"github.com/oszuidwest/zwfm-levelmon/internal/notify"
	"github.com/oszuidwest/zwfm-levelmon/internal/stream"
	"github.com/oszuidwest/zwfm-levelmon/internal/types"
	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	backend, err := audio.NewMalgoBackend()
	if err != nil {
		slog.Error("failed to initialize audio backend", "error", err)
		os.Exit(1)
	}

	snap := cfg.Snapshot()
	hub := stream.NewHub()

	webhook := notify.NewWebhookNotifier(func() string {
		s := cfg.Snapshot()
		return s.WebhookURL
	})

	zabbix := notify.NewZabbixNotifier(func() notify.ZabbixTarget {
		s := cfg.Snapshot()
		return notify.ZabbixTarget{Server: s.ZabbixServer, Port: s.ZabbixPort, Host: s.ZabbixHost, Key: s.ZabbixKey}
	})

	email := notify.NewGraphMailNotifier(func() notify.GraphConfig {
		s := cfg.Snapshot()
		return notify.GraphConfig{
			TenantID:     s.GraphTenantID,
			ClientID:     s.GraphClientID,
			ClientSecret: s.GraphClientSecret,
			FromAddress:  s.GraphFromAddress,
			Recipients:   s.GraphRecipients,
		}
	})

	opts := []monitor.Option{
		monitor.WithSink(hub),
		monitor.WithObserver(webhook),
		monitor.WithObserver(zabbix),
		monitor.WithObserver(email),
		monitor.WithDeviceSelector(cfg.DeviceFor),
	}

	// The event log is optional: monitoring keeps working without it.
	events, err := eventlog.NewLogger(snap.EventLogPath)
	if err != nil {
		slog.Warn("event log disabled", "path", snap.EventLogPath, "error", err)
	} else {
		opts = append(opts, monitor.WithObserver(events))
	}

	var archiver *eventlog.Archiver
	if events != nil && snap.HasArchive() {
		archiver, err = eventlog.NewArchiver(events, eventlog.S3Config{
			Endpoint:        snap.ArchiveEndpoint,
			Bucket:          snap.ArchiveBucket,
			AccessKeyID:     snap.ArchiveAccessKeyID,
			SecretAccessKey: snap.ArchiveSecretAccessKey,
			Prefix:          snap.ArchivePrefix,
			RetentionDays:   snap.ArchiveRetentionDays,
		})
		if err != nil {
			slog.Warn("event log archiving disabled", "error", err)
		} else if snap.ArchiveDaily {
			archiver.StartSchedule()
		}
	}

	manager := monitor.NewManager(backend, opts...)

	for _, src := range snap.Autostart {
		if err := manager.Start(src, nil); err != nil {
			slog.Error("autostart failed", "source", src, "error", err)
		}
	}

	srv := NewServer(cfg, manager, hub, archiver, webhook, zabbix, email)
	srv.version.Start()

	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()
	if archiver != nil {
		archiver.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Samplers stop before the sink and observers they feed.
	manager.Close()
	hub.Close()
	webhook.Wait()
	zabbix.Wait()
	email.Wait()

	if events != nil {
		if err := events.Close(); err != nil {
			slog.Error("failed to close event log", "error", err)
		}
	}
	if err := backend.Close(); err != nil {
		slog.Error("failed to close audio backend", "error", err)
	}

	slog.Info("shutdown complete")
}
