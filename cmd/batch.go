package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/vidstash/vidstash/internal/output"
)

type BatchEntry struct {
	Link string `yaml:"link"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Download every URL listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			urls, err := readBatchFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading batch file: %v\n", err)
				os.Exit(1)
			}
			if len(urls) == 0 {
				fmt.Fprintln(os.Stderr, "No URLs found in the batch file")
				os.Exit(1)
			}
			pl, hist := newPipeline()
			if hist != nil {
				defer hist.Close()
			}
			runBatchMode(pl, urls)
		},
	}
	return cmd
}

// readBatchFile accepts either a bare list of URL strings or a list of
// {link: URL} entries.
func readBatchFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseBatchFile(data)
}

func parseBatchFile(data []byte) ([]string, error) {
	var plain []string
	if err := yaml.Unmarshal(data, &plain); err == nil {
		return plain, nil
	}
	var entries []BatchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %v", err)
	}
	urls := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Link == "" {
			output.PrintWarning("Skipping entry with empty link")
			continue
		}
		urls = append(urls, entry.Link)
	}
	return urls, nil
}
