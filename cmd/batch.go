package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/parcel/internal/output"
	"github.com/tanq16/parcel/internal/utils"
)

// BatchFile groups entries by source type:
//
//	http:
//	  - link: https://example.com/a.iso
//	    op: isos/a.iso
//	s3:
//	  - link: mybucket/key.tar
type BatchFile map[string][]utils.BatchEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				output.PrintError(fmt.Sprintf("Error reading YAML file: %v", err))
				os.Exit(1)
			}
			jobs, err := parseBatch(data)
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if len(jobs) == 0 {
				output.PrintError("No valid jobs found in the batch file")
				os.Exit(1)
			}
			os.Exit(runJobs(cmd, jobs))
		},
	}
	return cmd
}

func parseBatch(data []byte) ([]utils.Job, error) {
	var batchFile BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	types := make([]string, 0, len(batchFile))
	for jobType := range batchFile {
		types = append(types, jobType)
	}
	sort.Strings(types)

	var jobs []utils.Job
	for _, jobType := range types {
		scheme := normalizeJobType(jobType)
		if scheme == "" {
			output.PrintWarning(fmt.Sprintf("Unknown job type '%s', skipping...", jobType))
			continue
		}
		for _, entry := range batchFile[jobType] {
			if entry.Link == "" {
				output.PrintWarning(fmt.Sprintf("Empty link found in %s section, skipping...", jobType))
				continue
			}
			jobs = append(jobs, utils.Job{
				Source:     withScheme(scheme, entry.Link),
				OutputPath: entry.OutputPath,
			})
		}
	}
	return jobs, nil
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(jobType) {
	case "http", "https":
		return "http"
	case "s3", "aws":
		return "s3"
	case "azblob", "azure", "blob":
		return "azblob"
	}
	return ""
}

// withScheme lets s3 and azblob sections list bare "bucket/key" links.
func withScheme(scheme, link string) string {
	if scheme == "http" || strings.Contains(link, "://") {
		return link
	}
	return scheme + "://" + link
}
