package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/cliconfig"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage server contexts",
}

func loadContexts() (*cliconfig.Config, error) {
	path, err := cliconfig.DefaultPath()
	if err != nil {
		return nil, err
	}
	return cliconfig.Load(path)
}

var contextSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Add or update a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		user, _ := cmd.Flags().GetString("user")
		token, _ := cmd.Flags().GetString("token")

		cfg, err := loadContexts()
		if err != nil {
			return err
		}
		cfg.Set(args[0], cliconfig.Context{URL: url, User: user, Token: token})
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("✓ Context %s saved\n", args[0])
		return nil
	},
}

var contextUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadContexts()
		if err != nil {
			return err
		}
		if err := cfg.Use(args[0]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("✓ Current context is %s\n", args[0])
		return nil
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadContexts()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tURL\tUSER")
		for name, ctx := range cfg.Contexts {
			marker := ""
			if name == cfg.CurrentContext {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, name, ctx.URL, ctx.User)
		}
		return w.Flush()
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadContexts()
		if err != nil {
			return err
		}
		if err := cfg.Delete(args[0]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("✓ Context %s removed\n", args[0])
		return nil
	},
}

func init() {
	contextSetCmd.Flags().String("url", "", "Server URL (required)")
	contextSetCmd.Flags().String("user", "", "User name")
	contextSetCmd.Flags().String("token", "", "Bearer token")
	_ = contextSetCmd.MarkFlagRequired("url")

	contextCmd.AddCommand(contextSetCmd)
	contextCmd.AddCommand(contextUseCmd)
	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextDeleteCmd)
}
