package cli

import (
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/JhanGutierrez/ventry/internal/builder"
	"github.com/JhanGutierrez/ventry/internal/catalog"
	"github.com/JhanGutierrez/ventry/internal/config"
	"github.com/JhanGutierrez/ventry/internal/connectivity"
	"github.com/JhanGutierrez/ventry/internal/engine"
	"github.com/JhanGutierrez/ventry/internal/gateway"
	"github.com/JhanGutierrez/ventry/internal/queue"
	"github.com/JhanGutierrez/ventry/internal/store"
)

// app is the wired client for one command invocation.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *store.Store
	queue        *queue.Queue
	gateway      *gateway.Gateway
	monitor      *connectivity.Monitor
	builder      *builder.Builder
	catalog      *catalog.Catalog
	orchestrator *engine.Orchestrator
}

// openApp loads the configuration, installs the logger and opens the store.
// The caller must call close.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := config.Load(config.Options{
		File:  opts.ConfigFile,
		Flags: cmd.Root().PersistentFlags(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.DB, "config_file", cfg.File)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	gw := opts.Gateway
	configured := gw != nil || cfg.Gateway.Endpoint != ""
	if gw == nil {
		if cfg.Gateway.Endpoint != "" {
			gw = gateway.NewClient(cfg.Gateway.Endpoint,
				gateway.WithToken(cfg.Gateway.Token),
				gateway.WithCompression(cfg.Gateway.Compress),
				gateway.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}),
				gateway.WithLogger(logger),
			).Gateway()
		} else {
			gw = gateway.Unconfigured()
		}
	}

	mon := connectivity.NewMonitor(configured && !cfg.Offline, connectivity.WithLogger(logger))
	q := queue.New(st, queue.WithLogger(logger))

	bopts := []builder.Option{builder.WithLogger(logger), builder.WithUserID(cfg.UserID)}
	if opts.IDs != nil {
		bopts = append(bopts, builder.WithIDGenerator(opts.IDs))
	}
	if opts.Clock != nil {
		bopts = append(bopts, builder.WithClock(opts.Clock))
	}
	b, err := builder.New(st, q, gw, mon, bopts...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load validation schema", err)
	}

	cat := catalog.New(st, gw, mon, catalog.WithLogger(logger))

	eopts := []engine.Option{
		engine.WithActionTimeout(cfg.Sync.ActionTimeout),
		engine.WithLogger(logger),
	}
	if cfg.Sync.RefreshAfterDrain {
		eopts = append(eopts, engine.WithRefresher(cat))
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        st,
		queue:        q,
		gateway:      gw,
		monitor:      mon,
		builder:      b,
		catalog:      cat,
		orchestrator: engine.New(st, q, gw, eopts...),
	}, nil
}

// source returns the reachability source for watch.
func (a *app) source() connectivity.Source {
	if a.cfg.Offline || a.cfg.Connectivity.PresenceURL == "" {
		return connectivity.Static(a.monitor.Current())
	}
	return &connectivity.WebSocketSource{
		URL:        a.cfg.Connectivity.PresenceURL,
		Header:     bearer(a.cfg.Gateway.Token),
		MinBackoff: a.cfg.Connectivity.Redial,
		Logger:     a.logger,
	}
}

func bearer(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
