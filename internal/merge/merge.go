// Package merge wraps the external ffmpeg binary to mux a video-only and an
// audio-only file into one container.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"
)

var (
	ErrToolMissing = errors.New("ffmpeg not found in PATH")
	ErrEncode      = errors.New("ffmpeg failed")
)

// Test seams; production code never changes these.
var (
	lookPath   = exec.LookPath
	runCommand = func(cmd *exec.Cmd) ([]byte, error) { return cmd.CombinedOutput() }
)

// Merger invokes ffmpeg as a child process. Availability is probed exactly
// once at construction so a missing tool is reported up front, not per job.
type Merger struct {
	ffmpegPath string
	available  bool
}

// Detect probes PATH for ffmpeg and returns a Merger either way; callers
// check Available before scheduling merge work.
func Detect() *Merger {
	path, err := lookPath("ffmpeg")
	if err != nil {
		log.Warn().Str("op", "merge/detect").Msg("ffmpeg not found, split-stream downloads will fail")
		return &Merger{}
	}
	log.Debug().Str("op", "merge/detect").Msgf("Using ffmpeg at %s", path)
	return &Merger{ffmpegPath: path, available: true}
}

func (m *Merger) Available() bool {
	return m.available
}

// Merge muxes videoPath and audioPath into outPath with stream copy (no
// re-encode). Cancelling ctx kills the ffmpeg process.
func (m *Merger) Merge(ctx context.Context, videoPath, audioPath, outPath string) error {
	if !m.available {
		return ErrToolMissing
	}
	cmd := exec.CommandContext(ctx, m.ffmpegPath, mergeArgs(videoPath, audioPath, outPath)...)
	log.Debug().Str("op", "merge").Msgf("Executing ffmpeg command: %s", cmd.String())
	output, err := runCommand(cmd)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v\nOutput: %s", ErrEncode, err, string(output))
	}
	return nil
}

func mergeArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		"-y", // Overwrite output files without asking
		outPath,
	}
}
