package main

import (
	"github.com/spf13/cobra"

	"github.com/Rubentxu/hodei-pipelines/pkg/client"
	"github.com/Rubentxu/hodei-pipelines/pkg/cliconfig"
)

// apiClient builds a REST client from --server or the current context.
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	if url, _ := cmd.Flags().GetString("server"); url != "" {
		return client.New(url, ""), nil
	}

	path, err := cliconfig.DefaultPath()
	if err != nil {
		return nil, err
	}
	cfg, err := cliconfig.Load(path)
	if err != nil {
		return nil, err
	}
	ctx, err := cfg.Current()
	if err != nil {
		return nil, err
	}
	return client.New(ctx.URL, ctx.Token), nil
}
