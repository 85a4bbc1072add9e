package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/api"
	"github.com/Rubentxu/hodei-pipelines/pkg/config"
	"github.com/Rubentxu/hodei-pipelines/pkg/log"
	"github.com/Rubentxu/hodei-pipelines/pkg/metrics"
	"github.com/Rubentxu/hodei-pipelines/pkg/orchestrator"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane",
	Long: `Run the control plane: the worker transport, the scheduler and the
REST API, backed by an embedded bbolt store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.Server.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.Server.ListenAddr = v
		}
		if v, _ := cmd.Flags().GetString("api-listen"); v != "" {
			cfg.API.ListenAddr = v
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: !cfg.Log.Pretty,
			Output:     os.Stderr,
		})
		metrics.SetVersion(Version)

		orch, err := orchestrator.New(orchestrator.Config{
			DataDir:           cfg.Server.DataDir,
			ListenAddr:        cfg.Server.ListenAddr,
			HeartbeatInterval: cfg.Server.HeartbeatInterval,
			DispatchTimeout:   cfg.Server.DispatchTimeout,
			CancelGrace:       cfg.Server.CancelGrace,
			ArtifactChunkSize: cfg.Artifacts.ChunkSize,
			ArtifactCompress:  cfg.Artifacts.Compress,
			LogRetention:      cfg.Server.LogRetention,
			EventRetention:    cfg.Server.EventRetention,
		})
		if err != nil {
			return fmt.Errorf("failed to create orchestrator: %w", err)
		}
		if err := orch.Start(); err != nil {
			return fmt.Errorf("failed to start orchestrator: %w", err)
		}

		apiServer := api.NewServer(api.Config{Addr: cfg.API.ListenAddr}, orch)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(); err != nil {
				errCh <- fmt.Errorf("api server error: %w", err)
			}
		}()

		fmt.Printf("Workers:  %s\n", orch.Addr())
		fmt.Printf("REST API: %s\n", cfg.API.ListenAddr)
		fmt.Println("Server is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		_ = apiServer.Stop()
		orch.Stop()
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Path to the YAML config file")
	serverCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serverCmd.Flags().String("listen", "", "Worker transport listen address (overrides config)")
	serverCmd.Flags().String("api-listen", "", "REST API listen address (overrides config)")
}
