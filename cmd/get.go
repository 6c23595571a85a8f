package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/parcel/internal/utils"
)

func newGetCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "get [LOCATOR] [--output OUTPUT_PATH]",
		Short: "Download one resource over HTTP(S), S3 or Azure Blob",
		Long: `Download one resource with parallel byte-range segments.

Interrupted downloads resume from their checkpoint when run again with the
same locator and output path.

Examples:
  parcel get https://example.com/file.iso
  parcel get s3://mybucket/path/to/file.zip --aws-profile myprofile
  parcel get azblob://account/container/blob.bin -o blob.bin`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := utils.Job{Source: args[0], OutputPath: outputPath}
			os.Exit(runJobs(cmd, []utils.Job{job}))
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}
