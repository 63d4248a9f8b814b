package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abelbrown/curiosity/internal/config"
	"github.com/abelbrown/curiosity/internal/ingest"
	"github.com/abelbrown/curiosity/internal/logging"
	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/otel"
	"github.com/abelbrown/curiosity/internal/store"
)

// env bundles what commands touching the database need.
type env struct {
	cfg        *config.Config
	store      *store.Store
	events     *otel.Logger
	ring       *otel.RingBuffer
	eventsFile *os.File
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.tenant != "" {
		cfg.Tenant = g.tenant
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, nil
}

// openEnv loads config, starts file logging, opens the store and the event log.
func openEnv(g *globalFlags) (*env, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// The TUI owns the terminal, so logs go to a file.
	if err := logging.InitFile(filepath.Join(cfg.DataDir, "logs"), cfg.LogLevel); err != nil {
		logging.Init(os.Stderr, cfg.LogLevel)
		logging.Warn("file logging unavailable", "error", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		logging.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	st.SetRunLimit(cfg.Runs.MaxPerWeek)

	f, err := os.OpenFile(cfg.EventsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		st.Close()
		logging.Close()
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events := otel.NewLogger(f)
	events.SetRingBuffer(ring)
	events.Emit(otel.Event{Kind: otel.KindStartup, Comp: "cli", Msg: cfg.Tenant})

	return &env{cfg: cfg, store: st, events: events, ring: ring, eventsFile: f}, nil
}

// Close flushes the event log and releases everything openEnv acquired.
func (e *env) Close() {
	e.events.Emit(otel.Event{Kind: otel.KindShutdown, Comp: "cli"})
	e.events.Close()
	e.eventsFile.Close()
	if err := e.store.Close(); err != nil {
		logging.Warn("failed to close database", "error", err)
	}
	logging.Close()
}

// collect reads every input file and keeps questions created since the
// start of week.
func collect(ctx context.Context, inputs []string, week model.Week) ([]model.Question, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("at least one --input file is required")
	}
	sources := make([]ingest.Source, len(inputs))
	for i, path := range inputs {
		sources[i] = ingest.NewFileSource(path)
	}
	return ingest.Collect(ctx, week.Start(), sources...)
}

// resolveWeek parses a --week flag, defaulting to the ISO week containing now.
func resolveWeek(s string, now time.Time) (model.Week, error) {
	if s == "" {
		return model.WeekOf(now), nil
	}
	return model.ParseWeek(s)
}
