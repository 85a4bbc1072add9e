package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Upload and download artifacts",
}

var artifactUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file to the artifact cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		id, err := c.UploadArtifact(cmd.Context(), data)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Uploaded %s (%s)\n", id, humanize.IBytes(uint64(len(data))))
		return nil
	},
}

var artifactDownloadCmd = &cobra.Command{
	Use:   "download <artifact-id> <file>",
	Short: "Download an artifact to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		data, err := c.DownloadArtifact(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0o644); err != nil {
			return err
		}
		fmt.Printf("✓ Wrote %s (%s)\n", args[1], humanize.IBytes(uint64(len(data))))
		return nil
	},
}

func init() {
	artifactCmd.AddCommand(artifactUploadCmd)
	artifactCmd.AddCommand(artifactDownloadCmd)
}
