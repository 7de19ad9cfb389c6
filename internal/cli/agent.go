package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/answersync/internal/answer"
	"github.com/roach88/answersync/internal/api"
	"github.com/roach88/answersync/internal/config"
	"github.com/roach88/answersync/internal/logging"
	"github.com/roach88/answersync/internal/netwatch"
	"github.com/roach88/answersync/internal/submission"
)

// AgentOptions holds flags for the agent command.
type AgentOptions struct {
	*RootOptions
	Listen string
}

// NewAgentCommand creates the agent command.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AgentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the submission agent with its local API",
		Long: `Run the submission coordinator until interrupted.

The agent watches connectivity with the health probe, resends cached
answers when the network comes back and serves the local HTTP API a UI
shell submits through. Editing the config file changes the log level
without a restart.

Example:
  answersync agent --config ./answersync.yaml
  answersync agent --listen 127.0.0.1:9000 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "API listen address (overrides api.listen)")

	return cmd
}

func runAgent(opts *AgentOptions, cmd *cobra.Command) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.connect(ctx); err != nil {
		return err
	}
	log := a.log

	watcher, err := netwatch.New(a.probe, a.coord,
		netwatch.WithInterval(a.cfg.Probe.Interval),
		netwatch.WithLogger(log.Named("netwatch")),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create network watcher", err)
	}

	a.coord.OnNetworkStatusChange(func(s answer.NetworkStatus) {
		log.Info("network status", zap.Bool("online", s.Online), zap.String("effective_type", s.EffectiveType))
	})
	a.coord.OnSyncComplete(func(r submission.SyncReport) {
		log.Info("auto-sync complete",
			zap.String("trigger", r.Trigger),
			zap.Int("succeeded", r.Succeeded),
			zap.Int("remaining", r.Remaining),
		)
	})

	if err := a.coord.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start coordinator", err)
	}

	listen := opts.Listen
	if listen == "" {
		listen = a.cfg.API.Listen
	}
	srv := api.NewServer(a.coord,
		api.WithLogger(log.Named("api")),
		api.WithMetrics(a.metrics),
		api.WithGatherer(a.registry),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = watcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		watchConfig(ctx, a)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Agent started. API on http://%s\n", listen)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	serveErr := srv.ListenAndServe(ctx, listen)
	stop()
	wg.Wait()

	if serveErr != nil {
		return WrapExitError(ExitFailure, "api server error", serveErr)
	}
	log.Info("agent stopped gracefully")
	return nil
}

// watchConfig applies log level changes from the config file until ctx
// is done. Other settings need a restart.
func watchConfig(ctx context.Context, a *app) {
	err := config.Watch(ctx, a.viper, config.DefaultDebounce,
		func(cfg *config.Config) {
			if err := logging.SetLevel(a.level, cfg.Log.Level); err != nil {
				a.log.Warn("ignoring invalid log level", zap.String("level", cfg.Log.Level), zap.Error(err))
				return
			}
			a.log.Info("config reloaded", zap.String("log_level", cfg.Log.Level))
		},
		func(err error) {
			a.log.Warn("config reload failed, keeping previous settings", zap.Error(err))
		},
	)
	switch {
	case errors.Is(err, config.ErrNoConfigFile):
		a.log.Debug("no config file, live reload disabled")
	case err != nil:
		a.log.Warn("config watch stopped", zap.Error(err))
	}
}
