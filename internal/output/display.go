// Package output renders live pipeline status to the terminal.
package output

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vidstash/vidstash/internal/pipeline"
	"github.com/vidstash/vidstash/internal/utils"
)

// Display periodically redraws a block of per-job status lines from a
// snapshot source (normally Pipeline.Jobs).
type Display struct {
	source      func() []pipeline.Status
	displayTick time.Duration

	mu       sync.Mutex
	numLines int
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

func NewDisplay(source func() []pipeline.Status) *Display {
	return &Display{
		source:      source,
		displayTick: 300 * time.Millisecond,
		doneCh:      make(chan struct{}),
	}
}

func (d *Display) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-d.doneCh:
				d.redraw()
				return
			case <-ticker.C:
				d.redraw()
			}
		}
	}()
}

// Stop draws a final frame and stops the ticker.
func (d *Display) Stop() {
	close(d.doneCh)
	d.wg.Wait()
}

func (d *Display) redraw() {
	d.mu.Lock()
	defer d.mu.Unlock()

	statuses := d.source()
	availableLines := getTerminalHeight() - 3
	if len(statuses) > availableLines {
		statuses = statuses[len(statuses)-availableLines:]
	}

	if d.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", d.numLines)
	}
	for _, st := range statuses {
		fmt.Println(RenderStatus(st))
	}
	d.numLines = len(statuses)
}

// RenderStatus formats one job snapshot as a single styled line.
func RenderStatus(st pipeline.Status) string {
	indicator := stateIndicator(st)
	label := st.Title
	if label == "" {
		label = st.URL
	}
	elapsed := time.Since(st.Submitted).Round(time.Second)
	if st.State.Terminal() {
		elapsed = st.Finished.Sub(st.Submitted).Round(time.Second)
	}

	var detail string
	switch st.State {
	case pipeline.StateDone:
		detail = successStyle.Render(st.FinalPath)
	case pipeline.StateFailed:
		detail = errorStyle.Render(fmt.Sprintf("[%s] %s", st.ErrKind, st.Err))
	case pipeline.StateFetching:
		bar := PrintProgressBar(st.Downloaded, st.Total, 30)
		detail = fmt.Sprintf("%s %s", bar, debugStyle.Render(utils.FormatBytes(uint64(st.Downloaded))))
	default:
		detail = pendingStyle.Render(st.State.String())
	}
	return fmt.Sprintf("  %s %s %s %s %s",
		indicator,
		debugStyle.Render(elapsed.String()),
		label,
		StyleSymbols["arrow"],
		detail)
}

func stateIndicator(st pipeline.Status) string {
	switch st.State {
	case pipeline.StateDone:
		return successStyle.Render(StyleSymbols["pass"])
	case pipeline.StateFailed:
		return errorStyle.Render(StyleSymbols["fail"])
	case pipeline.StateQueued:
		return debugStyle.Render(StyleSymbols["pending"])
	default:
		return pendingStyle.Render(StyleSymbols["pending"])
	}
}

// Summarize prints the closing lines after a drain: counts plus one line per
// failure.
func Summarize(statuses []pipeline.Status) (failed int) {
	var done int
	for _, st := range statuses {
		switch st.State {
		case pipeline.StateDone:
			done++
		case pipeline.StateFailed:
			failed++
		}
	}
	fmt.Println(strings.Repeat(StyleSymbols["hline"], 40))
	if failed == 0 {
		PrintSuccess(fmt.Sprintf("%d download(s) completed", done))
		return 0
	}
	PrintWarning(fmt.Sprintf("%d completed, %d failed", done, failed))
	for _, st := range statuses {
		if st.State == pipeline.StateFailed {
			PrintError(fmt.Sprintf("  %s %s: %s", StyleSymbols["fail"], st.URL, st.Err))
		}
	}
	return failed
}
