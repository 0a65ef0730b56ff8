package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sidekick-proj/sidekick"
	"github.com/sidekick-proj/sidekick/internal/logger"
	"github.com/sidekick-proj/sidekick/internal/progress"
)

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "sidekick",
		Short: "Local backend-service supervisor",
		Long: `Sidekick launches and supervises the local backend services a desktop
AI-companion shell depends on: port precheck, parallel startup with health
waits, periodic monitoring, and escalating shutdown.

Examples:
  sidekick up --config=sidekick.toml
  sidekick status --config=sidekick.toml
  sidekick serve --config=sidekick.toml`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.Verbose {
				level = slog.LevelDebug
			}
			logger.Setup(level, true)
		},
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "sidekick.toml", "path to TOML config file")
	root.PersistentFlags().BoolVar(&flags.Verbose, "verbose", false, "enable debug logging")

	root.AddCommand(
		createUpCommand(flags),
		createDownCommand(flags),
		createRestartCommand(flags),
		createStatusCommand(flags),
		createPortsCommand(flags),
		createInitCommand(flags),
		createServeCommand(flags),
	)
	return root
}

// newSupervisor builds a supervisor from the config file, wiring the event
// journal and a log progress sink.
func newSupervisor(flags *GlobalFlags) (*sidekick.Supervisor, error) {
	cfg, err := sidekick.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	var opts []sidekick.Option
	if cfg.StorePath != "" {
		st, err := sidekick.NewSQLiteStore(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open event journal: %w", err)
		}
		opts = append(opts, sidekick.WithStore(st))
	}
	sup, err := sidekick.New(cfg.Descriptors, cfg.Settings, opts...)
	if err != nil {
		return nil, err
	}
	sup.SetProgressSink(progress.NewLogSink(slog.Default()))
	return sup, nil
}

func createUpCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start all services and wait for them to become healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := newSupervisor(flags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()
			return sup.StartServices(cmd.Context())
		},
	}
}

func createDownCommand(flags *GlobalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop all services",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := newSupervisor(flags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()
			return sup.StopServices(cmd.Context(), sidekick.StopOptions{Force: force})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "kill immediately instead of signaling")
	return cmd
}

func createRestartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop and start all services",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := newSupervisor(flags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()
			return sup.RestartServices(cmd.Context())
		},
	}
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe every service once and print its state",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := newSupervisor(flags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()
			sup.CheckServicesHealth(cmd.Context())
			for _, st := range sup.Statuses() {
				mark := "down"
				if st.Healthy {
					mark = "healthy"
				}
				fmt.Printf("%-12s %-10s %s\n", st.ID, st.State, mark)
			}
			return nil
		},
	}
}

func createPortsCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "Check that every service's port is free",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := newSupervisor(flags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()
			res := sup.CheckPortsAvailability()
			if res.Available {
				fmt.Println("all ports available")
				return nil
			}
			return fmt.Errorf("port %d needed by %s is unavailable: %s", res.Port, res.ServiceName, res.Reason)
		},
	}
}

func createInitCommand(flags *GlobalFlags) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Run one-time backend resource initialization",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, err := newSupervisor(flags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()
			check, err := sup.CheckResources(cmd.Context(), baseURL)
			if err != nil {
				return err
			}
			if check.Initialized {
				fmt.Println("resources already initialized")
				return nil
			}
			return sup.InitializeResources(cmd.Context(), baseURL)
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://127.0.0.1:8100", "base URL of the service exposing /setup endpoints")
	_ = cmd.MarkFlagRequired("base-url")
	return cmd
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start services and expose the control API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := sidekick.LoadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			if cfg.Listen == "" {
				return fmt.Errorf("supervisor.listen must be set in the config for serve")
			}
			sup, err := newSupervisor(flags)
			if err != nil {
				return err
			}
			defer func() { _ = sup.Close() }()

			if err := sidekick.RegisterMetricsDefault(); err != nil {
				slog.Warn("metrics registration failed", "error", err)
			}
			if err := sup.StartServices(cmd.Context()); err != nil {
				return err
			}
			srv := sidekick.NewHTTPServer(cfg.Listen, sup)
			slog.Info("control API listening", "addr", cfg.Listen)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Close()
			return sup.StopServices(shutdownCtx, sidekick.StopOptions{})
		},
	}
}
