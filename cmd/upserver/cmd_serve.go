package main

import (
	"context"
	"fmt"
	"os"

	"upserver/pkg/agentstream"
	"upserver/pkg/chat"
	"upserver/pkg/config"
	"upserver/pkg/httpapi"
	"upserver/pkg/notify"
	"upserver/pkg/publish"
	"upserver/pkg/review"
	"upserver/pkg/staging"
	"upserver/pkg/store"
	"upserver/pkg/triage"

	"github.com/spf13/cobra"
)

// newServeCmd creates the "upserver serve" subcommand: the long-running
// daemon that owns staging processes and the HTTP API.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the staging daemon",
		Long:  "Runs the upserver daemon in the foreground: supervises staging servers,\nserves the HTTP API, sweeps idle servers, and hot-reloads the config file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := ResolvePaths()
			if err != nil {
				return err
			}
			if err := paths.EnsureHome(); err != nil {
				return err
			}

			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}
			switch status {
			case StatusRunning:
				return fmt.Errorf("daemon already running (PID %d)", pid)
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				if err := RemovePIDFile(paths.PIDPath); err != nil {
					return err
				}
			case StatusStopped:
			}

			cfg, err := loadConfig(paths)
			if err != nil {
				return err
			}

			if err := WritePIDFile(paths.PIDPath, os.Getpid()); err != nil {
				return err
			}
			ctx, cleanup := SetupSignalHandler(cmd.Context(), paths.PIDPath)
			defer cleanup()

			return runServe(ctx, cmd, paths, cfg)
		},
	}
}

func runServe(ctx context.Context, cmd *cobra.Command, paths *Paths, cfg config.Config) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.New(db)
	if err := st.Init(ctx); err != nil {
		return err
	}

	manager := staging.NewManager(st, cfg)
	reviews := review.NewQueue(st)
	publisher := publish.NewController(&publish.ExecGitRunner{}, cfg.SiteRoot, st)

	policy := triage.Policy{
		MaxFilesTouched:         cfg.Triage.MaxFilesTouched,
		FlagIncompleteWithEdits: cfg.Triage.FlagIncompleteWithEdits,
	}

	var sink notify.Sink = notify.NopSink{}
	if cfg.Notify.RedisAddr != "" {
		redisSink := notify.NewRedisSink(cfg.Notify.RedisAddr, cfg.Notify.Stream)
		defer redisSink.Close()
		sink = redisSink
	}

	var chatSvc *chat.Service
	if len(cfg.Agent.Command) > 0 {
		oracle := &agentstream.ExecOracle{Command: cfg.Agent.Command}
		chatSvc = chat.NewService(st, oracle, reviews, cfg.SiteRoot, policy)
		chatSvc.SetNotifier(sink)
		chatSvc.SetActivityRecorder(manager)
		chatSvc.SetBroker(agentstream.NewBroker(64))
	}

	// Hot-reload: port map and staging timeouts pick up config edits
	// without a restart. An invalid file is skipped by the watcher.
	go func() {
		if watchErr := config.Watch(ctx, paths.ConfigPath, func(next config.Config) {
			manager.SetConfig(next)
			fmt.Fprintln(cmd.OutOrStdout(), "config reloaded")
		}); watchErr != nil {
			fmt.Fprintf(os.Stderr, "warning: config watch disabled: %v\n", watchErr)
		}
	}()

	go manager.RunCleanupLoop(ctx)

	server := httpapi.New(httpapi.Options{Addr: cfg.ListenAddr}, manager, reviews, publisher, chatSvc, st, policy)
	fmt.Fprintf(cmd.OutOrStdout(), "upserver daemon listening on %s (PID %d)\n", cfg.ListenAddr, os.Getpid())
	return server.Run(ctx)
}
