// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command ipsentryd runs the inline intrusion prevention system described
// in SPEC_FULL.md: it loads a rule set, binds one worker goroutine per
// configured kernel queue, and serves stats over HTTP until signalled to
// stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"sentryline.dev/ipsentry/internal/config"
	"sentryline.dev/ipsentry/internal/logging"
	"sentryline.dev/ipsentry/internal/rules"
	"sentryline.dev/ipsentry/internal/statsapi"
	"sentryline.dev/ipsentry/internal/supervisor"
	"sentryline.dev/ipsentry/internal/worker"
)

const shutdownGrace = 5 * time.Second

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	logger := logging.New(logging.Config{Output: os.Stdout, Level: logging.LevelInfo})

	if err := checkPrivileges(); err != nil {
		logger.Error("privilege check failed", "error", err)
		fmt.Fprintln(os.Stderr, "ERROR: this program must be run as root to access NFQUEUE")
		os.Exit(1)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("ipsentryd exited with error", "error", err)
		os.Exit(1)
	}
}

// checkPrivileges requires an effective UID of 0, matching the original's
// NFQUEUE access check.
func checkPrivileges() error {
	if unix.Geteuid() != 0 {
		return fmt.Errorf("effective uid %d is not root", unix.Geteuid())
	}
	return nil
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ruleSet := rules.FromConfig(cfg.Rules)

	heuristicEnabled := true
	if cfg.ICMPSizeHeuristicEnabled != nil {
		heuristicEnabled = *cfg.ICMPSizeHeuristicEnabled
	}

	var syslogWriter *logging.SyslogWriter
	if cfg.Syslog.Enabled {
		w, err := logging.NewSyslogWriter(cfg.Syslog)
		if err != nil {
			logger.Warn("syslog forwarder disabled", "error", err)
		} else {
			syslogWriter = w
		}
	}

	workerCfg := worker.Config{
		MaxBufferSize:        cfg.MaxBufferSize,
		MaxScanWindow:        cfg.MaxScanWindow,
		FlowTimeout:          time.Duration(cfg.FlowTimeoutSeconds) * time.Second,
		LogFlushInterval:     time.Duration(cfg.LogFlushIntervalSeconds) * time.Second,
		PruneInterval:        30 * time.Second,
		ICMPHeuristicEnabled: heuristicEnabled,
		NumCores:             numCores(),
		AlertDir:             ".",
		Syslog:               syslogWriter,
	}

	supCfg := supervisor.DefaultConfig()
	supCfg.Queues = cfg.Queues
	supCfg.NumCores = workerCfg.NumCores
	supCfg.WorkerConfig = workerCfg

	sup, err := supervisor.New(supCfg, ruleSet, logger)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	logger.Info("starting ipsentryd", "pid", os.Getpid(), "queues", supCfg.Queues, "rules", len(ruleSet))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	statsSrv := statsapi.NewServer(sup)
	httpSrv := &http.Server{Addr: cfg.HTTPMetrics.Addr(), Handler: statsSrv.Handler()}

	go func() {
		logger.Info("stats endpoint listening", "addr", cfg.HTTPMetrics.Addr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("stats endpoint failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("stats endpoint shutdown error", "error", err)
	}

	sup.Stop(shutdownGrace)
	return nil
}

func numCores() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
