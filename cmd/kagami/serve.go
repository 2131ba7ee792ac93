package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/kagami/internal/daemon"
	"github.com/harunnryd/kagami/internal/daemon/components"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis gateway as a long-running daemon",
	Long:  `Starts the HTTP gateway with provider health monitoring. Only one daemon may hold the instance lock at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}

		lockComp := components.NewInstanceLockComponent(&cfg.Daemon)
		visionComp := components.NewVisionComponent(cfg)
		monitorComp := components.NewHealthMonitorComponent(&cfg.Failover, visionComp)
		httpComp := components.NewHTTPServerComponentWithDependencies(daemonMgr, &cfg.Server, visionComp, version,
			[]string{lockComp.Name(), visionComp.Name(), monitorComp.Name()})

		daemonMgr.AddComponent(lockComp)
		daemonMgr.AddComponent(visionComp)
		daemonMgr.AddComponent(monitorComp)
		daemonMgr.AddComponent(httpComp)

		slog.Info("Kagami daemon starting up...", "port", cfg.Server.Port, "version", version)
		err = daemonMgr.Start(cmd.Context())
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Kagami daemon stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("server.port", 0, "HTTP listen port")
	serveCmd.Flags().String("daemon.lock_path", "", "instance lock file (default is $HOME/.kagami/kagami.lock)")
}
