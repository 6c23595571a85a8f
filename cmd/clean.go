package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tanq16/parcel/internal/engine"
	"github.com/tanq16/parcel/internal/output"
	"github.com/tanq16/parcel/internal/utils"
)

func newCleanCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clean [OUTPUT_PATH]",
		Short: "Discard partial downloads and their checkpoints",
		Long: `Without arguments, removes the temporary artifact directory in the current
directory. With an output path, removes only that download's artifact and
checkpoint. --all also drops every stored checkpoint.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			store, err := openStore(cfg)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			defer store.Close()

			records, err := store.List()
			if err != nil {
				output.PrintError(fmt.Sprintf("Error listing checkpoints: %v", err))
				os.Exit(1)
			}
			removed := 0
			if len(args) == 1 {
				target, _ := filepath.Abs(args[0])
				for _, rec := range records {
					if dest, _ := filepath.Abs(rec.Destination); dest == target {
						store.Delete(rec.ID)
						removed++
					}
				}
				if err := utils.CleanArtifact(args[0], engine.TempDirName); err != nil {
					output.PrintError(fmt.Sprintf("Error cleaning up temporary files: %v", err))
					os.Exit(1)
				}
			} else {
				cwd, _ := os.Getwd()
				for _, rec := range records {
					dir, _ := filepath.Abs(filepath.Dir(rec.Destination))
					if all || dir == cwd {
						store.Delete(rec.ID)
						removed++
					}
				}
				if err := utils.CleanTemp(".", engine.TempDirName); err != nil {
					output.PrintError(fmt.Sprintf("Error cleaning up temporary files: %v", err))
					os.Exit(1)
				}
			}
			output.PrintSuccess(fmt.Sprintf("Temporary files cleaned up (%d checkpoint(s) removed)", removed))
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every stored checkpoint")
	return cmd
}
