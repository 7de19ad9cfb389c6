package cli

import (
	"context"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/config"
	"github.com/roach88/answersync/internal/logging"
	"github.com/roach88/answersync/internal/metrics"
	"github.com/roach88/answersync/internal/netprobe"
	"github.com/roach88/answersync/internal/remote"
	"github.com/roach88/answersync/internal/secrets"
	"github.com/roach88/answersync/internal/store"
	"github.com/roach88/answersync/internal/submission"
)

// app is the wiring shared by every command that touches the cache.
type app struct {
	cfg      *config.Config
	viper    *viper.Viper
	log      *zap.Logger
	level    zap.AtomicLevel
	store    *store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	probe *netprobe.HTTPProbe
	coord *submission.Coordinator
}

// openApp loads configuration, builds the logger and opens the store.
// Log output goes to stderr so JSON output on stdout stays parseable.
func openApp(opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, v, err := config.Load(config.Options{File: opts.Config})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	level := cfg.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	log, atom, err := logging.New(logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Console:    stderr,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to configure logging", err)
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	log.Debug("opening answer store", zap.String("path", cfg.Store.Path))
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		_ = log.Sync()
		return nil, WrapExitError(ExitCommandError, "failed to open answer store", err)
	}

	return &app{
		cfg:      cfg,
		viper:    v,
		log:      log,
		level:    atom,
		store:    st,
		registry: registry,
		metrics:  m,
	}, nil
}

// connect builds the remote client, the probe and the coordinator.
func (a *app) connect(ctx context.Context) error {
	if strings.TrimSpace(a.cfg.Remote.BaseURL) == "" {
		return NewExitError(ExitCommandError, "remote.base_url is required (set it in answersync.yaml or ANSWERSYNC_REMOTE_BASE_URL)")
	}

	clientOpts := []remote.Option{remote.WithTimeout(a.cfg.Remote.Timeout)}
	switch {
	case a.cfg.Remote.Token != "":
		clientOpts = append(clientOpts, remote.WithToken(a.cfg.Remote.Token))
	case a.cfg.Remote.TokenParameter != "":
		params, err := secrets.NewFromEnvironment(ctx, a.cfg.Remote.AWSRegion)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to configure parameter store", err)
		}
		clientOpts = append(clientOpts, remote.WithTokenParameter(params, a.cfg.Remote.TokenParameter))
	}
	client, err := remote.NewClient(a.cfg.Remote.BaseURL, clientOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create remote client", err)
	}

	if err := a.openProbe(); err != nil {
		return err
	}

	a.coord, err = submission.New(a.store, client, a.probe,
		submission.WithLogger(a.log.Named("submission")),
		submission.WithMetrics(a.metrics),
		submission.WithSubmitTimeout(a.cfg.Remote.Timeout),
		submission.WithRetryRate(a.cfg.Sync.Rate, a.cfg.Sync.Burst),
		submission.WithInitialStatus(a.cfg.Sync.InitialOnline),
		submission.WithSkipRejected(a.cfg.Sync.SkipRejected),
		submission.WithSyncOnStart(a.cfg.Sync.OnStart),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}
	return nil
}

// openProbe builds the connectivity probe. probe.url defaults to the
// remote base URL.
func (a *app) openProbe() error {
	url := a.cfg.Probe.URL
	if url == "" {
		url = a.cfg.Remote.BaseURL
	}
	if strings.TrimSpace(url) == "" {
		return NewExitError(ExitCommandError, "probe.url or remote.base_url is required")
	}
	p, err := netprobe.NewHTTPProbe(url, netprobe.WithTimeout(a.cfg.Probe.Timeout))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create probe", err)
	}
	a.probe = p
	return nil
}

// Close stops the coordinator if it was started and closes the store.
func (a *app) Close() {
	if a.coord != nil {
		a.coord.Stop()
	}
	if err := a.store.Close(); err != nil {
		a.log.Error("error closing answer store", zap.Error(err))
	}
	_ = a.log.Sync()
}
