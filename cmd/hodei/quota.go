package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/client"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage namespace quotas",
}

var quotaSetCmd = &cobra.Command{
	Use:   "set <namespace>",
	Short: "Create or replace a namespace quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		policy, _ := cmd.Flags().GetString("policy")
		concurrent, _ := cmd.Flags().GetInt("max-concurrent")
		cpus, _ := cmd.Flags().GetFloat64("max-cpus")
		memoryMB, _ := cmd.Flags().GetInt64("max-memory-mb")
		perHour, _ := cmd.Flags().GetInt("max-per-hour")
		perDay, _ := cmd.Flags().GetInt("max-per-day")

		_, err = c.CreateQuota(cmd.Context(), client.QuotaRequest{
			Namespace: args[0],
			Policy:    types.QuotaPolicy(policy),
			Limits: types.QuotaLimits{
				MaxConcurrentJobs: concurrent,
				MaxCPUCores:       cpus,
				MaxMemoryMB:       memoryMB,
				MaxJobsPerHour:    perHour,
				MaxJobsPerDay:     perDay,
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Quota set for namespace %s\n", args[0])
		return nil
	},
}

var quotaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quotas and their usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		quotas, err := c.ListQuotas(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAMESPACE\tPOLICY\tCONCURRENT\tCPU\tMEM MB\tHOUR\tDAY")
		for _, q := range quotas {
			fmt.Fprintf(w, "%s\t%s\t%d/%s\t%.1f/%s\t%d/%s\t%d/%s\t%d/%s\n",
				q.Namespace, q.Policy,
				q.Usage.ConcurrentJobs, limitStr(q.Limits.MaxConcurrentJobs),
				q.Usage.CPUCores, limitFloatStr(q.Limits.MaxCPUCores),
				q.Usage.MemoryMB, limitStr64(q.Limits.MaxMemoryMB),
				q.Usage.JobsThisHour, limitStr(q.Limits.MaxJobsPerHour),
				q.Usage.JobsToday, limitStr(q.Limits.MaxJobsPerDay))
		}
		return w.Flush()
	},
}

var quotaDeleteCmd = &cobra.Command{
	Use:   "delete <namespace>",
	Short: "Remove a namespace quota",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteQuota(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Quota removed for namespace %s\n", args[0])
		return nil
	},
}

func limitStr(v int) string {
	if v == 0 {
		return "∞"
	}
	return fmt.Sprintf("%d", v)
}

func limitStr64(v int64) string {
	if v == 0 {
		return "∞"
	}
	return fmt.Sprintf("%d", v)
}

func limitFloatStr(v float64) string {
	if v == 0 {
		return "∞"
	}
	return fmt.Sprintf("%.1f", v)
}

func init() {
	quotaSetCmd.Flags().String("policy", "enforce", "Policy (enforce, warn, monitor)")
	quotaSetCmd.Flags().Int("max-concurrent", 0, "Max concurrent jobs (0 = unlimited)")
	quotaSetCmd.Flags().Float64("max-cpus", 0, "Max concurrent CPU cores (0 = unlimited)")
	quotaSetCmd.Flags().Int64("max-memory-mb", 0, "Max concurrent memory in MB (0 = unlimited)")
	quotaSetCmd.Flags().Int("max-per-hour", 0, "Max submissions per hour (0 = unlimited)")
	quotaSetCmd.Flags().Int("max-per-day", 0, "Max submissions per day (0 = unlimited)")

	quotaCmd.AddCommand(quotaSetCmd)
	quotaCmd.AddCommand(quotaListCmd)
	quotaCmd.AddCommand(quotaDeleteCmd)
}
