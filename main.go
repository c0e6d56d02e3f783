// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ffutop/backlightd/internal/config"
	"github.com/ffutop/backlightd/internal/daemon"
	"github.com/ffutop/backlightd/protocol"
)

func main() {
	flags := pflag.NewFlagSet("backlightd", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "Path to config file")
	flags.String("socket", protocol.DefaultSocketPath, "Control socket path")
	flags.String("log-level", "info", "Log verbosity level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if f := setupLogger(cfg.Log); f != nil {
		defer f.Close()
	}

	slog.Info("Starting backlightd...", "socket", cfg.Socket.Path)

	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("Failed to set up daemon", "err", err)
		os.Exit(1)
	}
	if err := d.Listen(); err != nil {
		slog.Error("Failed to bind control socket", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		slog.Error("Daemon stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

// setupLogger installs the default logger. It returns the log file, if one
// was opened, so main can keep it for the life of the process.
func setupLogger(cfg config.LogConfig) *os.File {
	var out io.Writer = os.Stderr
	var file *os.File
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s, logging to stderr: %v\n", cfg.File, err)
		} else {
			out, file = f, f
		}
	}
	slog.SetDefault(slog.New(newLogHandler(cfg, out)))
	return file
}

// newLogHandler builds a text or JSON handler at the configured level.
func newLogHandler(cfg config.LogConfig, w io.Writer) slog.Handler {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
