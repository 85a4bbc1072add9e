package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/client"
	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job",
	Example: `  hodei job submit --name build -- make all
  hodei job submit --name deploy --script ./deploy.sh --priority high
  hodei job submit --name etl --env REGION=eu --artifact a1b2c3 -- python run.py`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		scriptPath, _ := cmd.Flags().GetString("script")
		envFlags, _ := cmd.Flags().GetStringSlice("env")
		params, _ := cmd.Flags().GetStringSlice("param")
		artifacts, _ := cmd.Flags().GetStringSlice("artifact")
		capabilities, _ := cmd.Flags().GetStringSlice("capability")
		namespace, _ := cmd.Flags().GetString("namespace")
		priority, _ := cmd.Flags().GetString("priority")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		retries, _ := cmd.Flags().GetInt("retries")
		cpus, _ := cmd.Flags().GetFloat64("cpus")
		memoryMB, _ := cmd.Flags().GetInt64("memory-mb")
		follow, _ := cmd.Flags().GetBool("follow")

		req := client.SubmitJobRequest{
			Name:         name,
			Priority:     parsePriority(priority),
			Env:          parsePairs(envFlags),
			Parameters:   parsePairs(params),
			Artifacts:    artifacts,
			Capabilities: parsePairs(capabilities),
			Timeout:      timeout,
			Namespace:    namespace,
		}
		if len(args) > 0 {
			req.Commands = []string{strings.Join(args, " ")}
		}
		if scriptPath != "" {
			data, err := os.ReadFile(scriptPath)
			if err != nil {
				return fmt.Errorf("failed to read script: %w", err)
			}
			req.Script = string(data)
		}
		if retries > 0 {
			req.Retry = &types.RetryPolicy{MaxRetries: retries, BaseDelay: time.Second, Multiplier: 2}
		}
		if cpus > 0 || memoryMB > 0 {
			req.Resources = &types.ResourceRequest{CPUCores: cpus, MemoryMB: memoryMB}
		}

		job, err := c.SubmitJob(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Job %s submitted (%s)\n", job.ID, job.Name)

		if follow {
			return followJob(cmd.Context(), c, job.ID)
		}
		return nil
	},
}

// followJob waits for an execution to appear and tails its logs.
func followJob(ctx context.Context, c *client.Client, jobID string) error {
	var executionID string
	for executionID == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		execs, err := c.ListExecutions(ctx, jobID)
		if err != nil {
			return err
		}
		if len(execs) > 0 {
			executionID = execs[len(execs)-1].ID
		}
	}

	err := c.FollowLogs(ctx, executionID, func(line client.LogLine) {
		if line.Stream == "stderr" {
			fmt.Fprint(os.Stderr, line.Line)
		} else {
			fmt.Print(line.Line)
		}
	})
	if err != nil {
		return err
	}

	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Printf("Job %s: %s\n", jobID, job.Status)
	return nil
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		namespace, _ := cmd.Flags().GetString("namespace")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := c.ListJobs(cmd.Context(), client.JobFilter{
			Status:    status,
			Namespace: namespace,
			Limit:     limit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPRIORITY\tNAMESPACE\tATTEMPTS\tAGE")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				shortID(j.ID), j.Name, j.Status, j.Priority, j.Namespace,
				j.Attempts, humanize.Time(j.CreatedAt))
		}
		return w.Flush()
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job and its executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		job, err := c.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:        %s\n", job.ID)
		fmt.Printf("Name:      %s\n", job.Name)
		fmt.Printf("Status:    %s\n", job.Status)
		fmt.Printf("Priority:  %s\n", job.Priority)
		fmt.Printf("Namespace: %s\n", job.Namespace)
		fmt.Printf("Attempts:  %d\n", job.Attempts)
		fmt.Printf("Created:   %s\n", humanize.Time(job.CreatedAt))

		execs, err := c.ListExecutions(cmd.Context(), job.ID)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			return nil
		}

		fmt.Println("\nExecutions:")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tWORKER\tPOOL\tSTARTED")
		for _, e := range execs {
			started := "-"
			if !e.StartedAt.IsZero() {
				started = humanize.Time(e.StartedAt)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortID(e.ID), e.Status, e.WorkerID, e.PoolID, started)
		}
		return w.Flush()
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")
		reason, _ := cmd.Flags().GetString("reason")

		if err := c.CancelJob(cmd.Context(), args[0], force, reason); err != nil {
			return err
		}
		fmt.Printf("✓ Job %s cancelled\n", args[0])
		return nil
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Requeue a failed or cancelled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		job, err := c.RetryJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Job %s requeued\n", job.ID)
		return nil
	},
}

var jobLogsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show the logs of a job's latest execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		follow, _ := cmd.Flags().GetBool("follow")

		execs, err := c.ListExecutions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			return fmt.Errorf("job %s has no executions yet", args[0])
		}
		executionID := execs[len(execs)-1].ID

		if follow {
			return c.FollowLogs(cmd.Context(), executionID, func(line client.LogLine) {
				fmt.Print(line.Line)
			})
		}

		lines, err := c.ExecutionLogs(cmd.Context(), executionID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Print(line.Line)
		}
		return nil
	},
}

func parsePriority(s string) types.Priority {
	switch strings.ToLower(s) {
	case "low":
		return types.PriorityLow
	case "high":
		return types.PriorityHigh
	case "critical":
		return types.PriorityCritical
	default:
		return types.PriorityNormal
	}
}

// parsePairs turns KEY=VALUE flags into a map.
func parsePairs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		out[k] = v
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	jobSubmitCmd.Flags().String("name", "", "Job name (required)")
	jobSubmitCmd.Flags().String("script", "", "Path to a shell script to run")
	jobSubmitCmd.Flags().StringSlice("env", nil, "Environment variables (KEY=VALUE)")
	jobSubmitCmd.Flags().StringSlice("param", nil, "Job parameters (KEY=VALUE)")
	jobSubmitCmd.Flags().StringSlice("artifact", nil, "Input artifact IDs")
	jobSubmitCmd.Flags().StringSlice("capability", nil, "Required worker capabilities (KEY=VALUE)")
	jobSubmitCmd.Flags().String("namespace", "", "Quota namespace")
	jobSubmitCmd.Flags().String("priority", "normal", "Priority (low, normal, high, critical)")
	jobSubmitCmd.Flags().Duration("timeout", 0, "Execution timeout")
	jobSubmitCmd.Flags().Int("retries", 0, "Retry attempts on failure")
	jobSubmitCmd.Flags().Float64("cpus", 0, "Requested CPU cores")
	jobSubmitCmd.Flags().Int64("memory-mb", 0, "Requested memory in MB")
	jobSubmitCmd.Flags().BoolP("follow", "f", false, "Stream logs until the job finishes")
	_ = jobSubmitCmd.MarkFlagRequired("name")

	jobListCmd.Flags().String("status", "", "Filter by status")
	jobListCmd.Flags().String("namespace", "", "Filter by quota namespace")
	jobListCmd.Flags().Int("limit", 0, "Maximum number of jobs to show")

	jobCancelCmd.Flags().Bool("force", false, "Kill without grace period")
	jobCancelCmd.Flags().String("reason", "", "Cancellation reason")

	jobLogsCmd.Flags().BoolP("follow", "f", false, "Stream logs live")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobRetryCmd)
	jobCmd.AddCommand(jobLogsCmd)
}
