package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tanq16/parcel/internal/output"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List interrupted downloads that can be resumed",
		Args:  cobra.NoArgs,
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
				return
			}
			if len(records) == 0 {
				output.PrintInfo("No resumable downloads")
				return
			}
			sort.Slice(records, func(i, j int) bool { return records[i].UpdatedAt.After(records[j].UpdatedAt) })
			output.PrintHeader(fmt.Sprintf("%d resumable download(s)", len(records)))
			for _, rec := range records {
				done := 0
				for _, s := range rec.Segments {
					if s.State == "done" {
						done++
					}
				}
				total := "unknown size"
				progress := humanize.IBytes(uint64(rec.Written()))
				if rec.TotalSize >= 0 {
					total = humanize.IBytes(uint64(rec.TotalSize))
					if rec.TotalSize > 0 {
						progress += fmt.Sprintf(" (%.1f%%)", float64(rec.Written())*100/float64(rec.TotalSize))
					}
				}
				fmt.Printf("%s%s %s\n", strings.Repeat(" ", 2), output.FInfo(output.StyleSymbols["bullet"]), output.FSuccess(rec.Destination))
				fmt.Printf("%s%s\n", strings.Repeat(" ", 6), output.FDebug(rec.Source))
				fmt.Printf("%s%s\n", strings.Repeat(" ", 6), output.FStream(fmt.Sprintf("%s of %s %s %d/%d segments %s %s %s updated %s",
					progress, total, output.StyleSymbols["dot"], done, len(rec.Segments), output.StyleSymbols["dot"],
					rec.Mode, output.StyleSymbols["dot"], humanize.Time(rec.UpdatedAt))))
			}
		},
	}
}
