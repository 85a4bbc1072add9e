package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Rubentxu/hodei-pipelines/pkg/types"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage job templates",
}

// templateFile is the YAML shape accepted by 'template create -f'.
type templateFile struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description,omitempty"`
	Priority     string            `yaml:"priority,omitempty"`
	Commands     []string          `yaml:"commands,omitempty"`
	Script       string            `yaml:"script,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Artifacts    []string          `yaml:"artifacts,omitempty"`
	Capabilities map[string]string `yaml:"capabilities,omitempty"`
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a template from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var tf templateFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return fmt.Errorf("invalid template file: %w", err)
		}

		tpl, err := c.CreateTemplate(cmd.Context(), &types.JobTemplate{
			Name:        tf.Name,
			Description: tf.Description,
			Priority:    parsePriority(tf.Priority),
			Content: &types.JobContent{
				Commands:    tf.Commands,
				Script:      tf.Script,
				Env:         tf.Env,
				ArtifactIDs: tf.Artifacts,
			},
			RequiredCapabilities: tf.Capabilities,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ Template %s created (%s)\n", tpl.ID, tpl.Name)
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		tpls, err := c.ListTemplates(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tAGE")
		for _, tpl := range tpls {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				shortID(tpl.ID), tpl.Name, tpl.Priority, humanize.Time(tpl.CreatedAt))
		}
		return w.Flush()
	},
}

var templateSubmitCmd = &cobra.Command{
	Use:   "submit <template-name>",
	Short: "Submit a job from a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		params, _ := cmd.Flags().GetStringSlice("param")
		namespace, _ := cmd.Flags().GetString("namespace")

		job, err := c.SubmitFromTemplate(cmd.Context(), args[0], parsePairs(params), namespace)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Job %s submitted (%s)\n", job.ID, job.Name)
		return nil
	},
}

func init() {
	templateCreateCmd.Flags().StringP("file", "f", "", "YAML template definition")
	_ = templateCreateCmd.MarkFlagRequired("file")

	templateSubmitCmd.Flags().StringSlice("param", nil, "Template parameters (KEY=VALUE)")
	templateSubmitCmd.Flags().String("namespace", "", "Quota namespace")

	templateCmd.AddCommand(templateCreateCmd)
	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateSubmitCmd)
}
