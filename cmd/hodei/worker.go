package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect and manage workers",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		workers, err := c.ListWorkers(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPOOL\tSTATUS\tCPU\tMEM\tLAST HEARTBEAT")
		for _, wk := range workers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t%s\t%s\n",
				shortID(wk.ID), wk.Name, shortID(wk.PoolID), wk.Status,
				wk.Resources.CPUCores,
				humanize.IBytes(uint64(wk.Resources.MemoryMB)*humanize.MiByte),
				humanize.Time(wk.LastHeartbeat))
		}
		return w.Flush()
	},
}

var workerShutdownCmd = &cobra.Command{
	Use:   "shutdown <worker-id>",
	Short: "Drain and deregister a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")

		if err := c.ShutdownWorker(cmd.Context(), args[0], reason); err != nil {
			return err
		}
		fmt.Printf("✓ Worker %s shutting down\n", args[0])
		return nil
	},
}

func init() {
	workerShutdownCmd.Flags().String("reason", "", "Shutdown reason")

	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerShutdownCmd)
}
