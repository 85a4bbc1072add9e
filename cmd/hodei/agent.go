package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/agent"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a worker agent",
	Long: `Run a worker agent that connects to the control plane, executes
dispatched jobs and streams their logs back.

Flags fall back to HODEI_SERVER_ADDR, HODEI_WORKER_ID, HODEI_WORKER_NAME
and HODEI_POOL_ID, which provisioned workers receive from their backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := flagOrEnv(cmd, "server", "HODEI_SERVER_ADDR")
		workerID := flagOrEnv(cmd, "worker-id", "HODEI_WORKER_ID")
		name := flagOrEnv(cmd, "name", "HODEI_WORKER_NAME")
		poolID := flagOrEnv(cmd, "pool", "HODEI_POOL_ID")
		cacheDir, _ := cmd.Flags().GetString("cache-dir")
		workDir, _ := cmd.Flags().GetString("work-dir")
		cpus, _ := cmd.Flags().GetFloat64("cpus")
		memoryMB, _ := cmd.Flags().GetInt64("memory-mb")
		diskGB, _ := cmd.Flags().GetInt64("disk-gb")

		if cpus == 0 {
			cpus = float64(runtime.NumCPU())
		}

		a, err := agent.New(agent.Config{
			ServerAddr: server,
			WorkerID:   workerID,
			Name:       name,
			PoolID:     poolID,
			CacheDir:   cacheDir,
			WorkDir:    workDir,
			Resources: types.Resources{
				CPUCores: cpus,
				MemoryMB: memoryMB,
				DiskGB:   diskGB,
			},
			Capabilities: map[string]string{
				"os":   runtime.GOOS,
				"arch": runtime.GOARCH,
				"cpus": strconv.Itoa(runtime.NumCPU()),
			},
		})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		return a.Run(ctx)
	},
}

// flagOrEnv reads a flag, then the environment the provisioner sets.
func flagOrEnv(cmd *cobra.Command, flag, env string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	return os.Getenv(env)
}

func init() {
	agentCmd.Flags().String("server", "", "Control plane transport address")
	agentCmd.Flags().String("worker-id", "", "Stable worker identifier")
	agentCmd.Flags().String("name", "", "Human-readable worker name")
	agentCmd.Flags().String("pool", "", "Pool to join")
	agentCmd.Flags().String("cache-dir", "", "Artifact cache directory")
	agentCmd.Flags().String("work-dir", "", "Workspace root for executions")
	agentCmd.Flags().Float64("cpus", 0, "Advertised CPU cores (default: all)")
	agentCmd.Flags().Int64("memory-mb", 2048, "Advertised memory in MB")
	agentCmd.Flags().Int64("disk-gb", 10, "Advertised disk in GB")
}
