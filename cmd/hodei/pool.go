package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/client"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage worker pools",
}

var poolCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		poolType, _ := cmd.Flags().GetString("type")
		minWorkers, _ := cmd.Flags().GetInt("min-workers")
		maxWorkers, _ := cmd.Flags().GetInt("max-workers")

		req := client.CreatePoolRequest{
			Name: args[0],
			Type: types.PoolType(poolType),
		}
		if minWorkers > 0 || maxWorkers > 0 {
			req.Scaling = &types.ScalingPolicy{MinWorkers: minWorkers, MaxWorkers: maxWorkers}
		}

		pool, err := c.CreatePool(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s created (%s)\n", pool.ID, pool.Name)
		return nil
	},
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		pools, err := c.ListPools(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tSLOTS\tCPU FREE\tMEM FREE\tAGE")
		for _, p := range pools {
			slots, cpuFree, memFree := "-", "-", "-"
			if p.Capacity != nil {
				slots = fmt.Sprintf("%d/%d", p.Capacity.UsedSlots, p.Capacity.TotalSlots)
				cpuFree = fmt.Sprintf("%.1f", p.Capacity.Available.CPUCores)
				memFree = humanize.IBytes(uint64(p.Capacity.Available.MemoryMB) * humanize.MiByte)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(p.ID), p.Name, p.Type, p.Status, slots, cpuFree, memFree,
				humanize.Time(p.CreatedAt))
		}
		return w.Flush()
	},
}

var poolDrainCmd = &cobra.Command{
	Use:   "drain <pool-id>",
	Short: "Stop dispatching to a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		force, _ := cmd.Flags().GetBool("force")

		if err := c.DrainPool(cmd.Context(), args[0], reason, timeout, force); err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s draining\n", args[0])
		return nil
	},
}

var poolResumeCmd = &cobra.Command{
	Use:   "resume <pool-id>",
	Short: "Resume dispatching to a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := c.ResumePool(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s active\n", args[0])
		return nil
	},
}

var poolScaleCmd = &cobra.Command{
	Use:   "scale <pool-id>",
	Short: "Provision workers into a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")

		workers, err := c.ScalePool(cmd.Context(), args[0], count)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Launched %d workers\n", len(workers))
		for _, id := range workers {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

var poolDeleteCmd = &cobra.Command{
	Use:   "delete <pool-id>",
	Short: "Delete an empty pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeletePool(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Pool %s deleted\n", args[0])
		return nil
	},
}

func init() {
	poolCreateCmd.Flags().String("type", "local", "Backend type (docker, kubernetes, local, vm, bare_metal)")
	poolCreateCmd.Flags().Int("min-workers", 0, "Minimum workers to keep provisioned")
	poolCreateCmd.Flags().Int("max-workers", 0, "Maximum workers allowed (0 = unlimited)")

	poolDrainCmd.Flags().String("reason", "", "Drain reason")
	poolDrainCmd.Flags().Duration("timeout", 0, "How long running executions may finish before a force drain cancels them")
	poolDrainCmd.Flags().Bool("force", false, "Cancel executions still running after the timeout")

	poolScaleCmd.Flags().Int("count", 1, "Workers to launch")

	poolCmd.AddCommand(poolCreateCmd)
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolDrainCmd)
	poolCmd.AddCommand(poolResumeCmd)
	poolCmd.AddCommand(poolScaleCmd)
	poolCmd.AddCommand(poolDeleteCmd)
}
