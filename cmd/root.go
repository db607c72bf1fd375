package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vidstash/vidstash/internal/history"
	"github.com/vidstash/vidstash/internal/output"
	"github.com/vidstash/vidstash/internal/pipeline"
	"github.com/vidstash/vidstash/internal/utils"
)

var (
	outputRoot   string
	workers      int
	format       string
	stageTimeout time.Duration
	userAgent    string
	proxyURL     string
	debug        bool
	cleanTemp    bool
	noHistory    bool
)

var formatHeights = map[string]int{
	"best":  0,
	"1440p": 1440,
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
}

var VidstashVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "vidstash [URL]...",
	Short:   "Vidstash downloads videos and files them by publisher and title",
	Version: VidstashVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if cleanTemp {
			if err := utils.Clean(outputRoot); err != nil {
				output.PrintError("Error cleaning up temporary files")
				os.Exit(1)
			}
			output.PrintSuccess("Temporary files cleaned up")
			return
		}
		pl, hist := newPipeline()
		if hist != nil {
			defer hist.Close()
		}
		if len(args) > 0 {
			runBatchMode(pl, args)
			return
		}
		runInteractive(pl)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newPipeline() (*pipeline.Pipeline, *history.Store) {
	maxHeight, ok := formatHeights[format]
	if !ok {
		output.PrintError(fmt.Sprintf("Unknown format %q (use best, 1440p, 1080p, 720p, 480p)", format))
		os.Exit(1)
	}
	var hist *history.Store
	if !noHistory {
		var err error
		hist, err = history.Open(historyPath())
		if err != nil {
			log.Warn().Str("op", "cmd/root").Err(err).Msg("History disabled")
			hist = nil
		}
	}
	return pipeline.New(pipeline.Config{
		OutputRoot:   outputRoot,
		Workers:      workers,
		MaxHeight:    maxHeight,
		StageTimeout: stageTimeout,
		ClientConfig: utils.HTTPClientConfig{
			UserAgent: userAgent,
			ProxyURL:  proxyURL,
		},
		History: hist,
	}), hist
}

// runBatchMode submits every URL up front and shows the live display until
// the pool drains.
func runBatchMode(pl *pipeline.Pipeline, urls []string) {
	for _, rawURL := range urls {
		if _, err := pl.Submit(rawURL); err != nil {
			output.PrintError(fmt.Sprintf("Rejected %q: %v", rawURL, err))
		}
	}
	display := output.NewDisplay(pl.Jobs)
	display.Start()
	pl.Wait()
	pl.Shutdown()
	display.Stop()
	if failed := output.Summarize(pl.Jobs()); failed > 0 {
		os.Exit(1)
	}
}

// runInteractive reads one URL per line from stdin, submitting each without
// waiting for earlier downloads. Job completions are announced as they land
// so the prompt stays usable while downloads run.
func runInteractive(pl *pipeline.Pipeline) {
	output.PrintHeader("Paste a video URL per line (quit or Ctrl-D to finish)")
	announced := make(map[string]bool)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				announceFinished(pl, announced)
				return
			case <-ticker.C:
				announceFinished(pl, announced)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if _, err := pl.Submit(line); err != nil {
			output.PrintError(fmt.Sprintf("Rejected %q: %v", line, err))
			continue
		}
		output.PrintInfo(fmt.Sprintf("Queued %s", line))
	}

	output.PrintDetail("Waiting for remaining downloads...")
	pl.Wait()
	pl.Shutdown()
	close(stopCh)
	<-doneCh
	if failed := output.Summarize(pl.Jobs()); failed > 0 {
		os.Exit(1)
	}
}

func announceFinished(pl *pipeline.Pipeline, announced map[string]bool) {
	for _, st := range pl.Jobs() {
		if !st.State.Terminal() || announced[st.ID] {
			continue
		}
		announced[st.ID] = true
		if st.State == pipeline.StateDone {
			output.PrintSuccess(fmt.Sprintf("%s Downloaded %q to %s", output.StyleSymbols["pass"], st.Title, st.FinalPath))
		} else {
			output.PrintError(fmt.Sprintf("%s %s failed [%s]: %s", output.StyleSymbols["fail"], st.URL, st.ErrKind, st.Err))
		}
	}
}

func historyPath() string {
	root := outputRoot
	if root == "" {
		root = "."
	}
	return filepath.Join(root, ".vidstash-history.db")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputRoot, "output", "o", ".", "Output root directory (videos land in <output>/<publisher>/)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", pipeline.DefaultWorkers, "Number of downloads to run in parallel")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "best", "Quality cap (best, 1440p, 1080p, 720p, 480p)")
	rootCmd.PersistentFlags().DurationVarP(&stageTimeout, "timeout", "t", 0, "Per-stage timeout, 0 means none (eg. 10m, 1h)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent for direct downloads")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "Do not record finished jobs in the history database")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// flags without shorthand
	rootCmd.Flags().BoolVar(&cleanTemp, "clean", false, "Clean up temporary files under the output root")

	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newHistoryCmd())
}
