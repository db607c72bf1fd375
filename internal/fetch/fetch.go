// Package fetch streams resolved media into per-job temporary files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vidstash/vidstash/internal/resolve"
)

var (
	ErrNetwork = errors.New("network error")
	ErrDisk    = errors.New("disk error")
)

const copyBufferSize = 1024 * 1024

// Progress receives incremental byte counts as a fetch advances.
type Progress func(delta int64)

// Fetch downloads one descriptor into dir as name.<container>. On any failure
// the partial file is removed, so a failed fetch never leaves an orphan.
func Fetch(ctx context.Context, desc *resolve.StreamDescriptor, dir, name string, progress Progress) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: error creating temp directory: %v", ErrDisk, err)
	}
	outPath := filepath.Join(dir, fmt.Sprintf("%s.%s", name, desc.Container))

	stream, size, err := desc.Source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer stream.Close()

	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("%w: error creating output file: %v", ErrDisk, err)
	}

	written, err := copyStream(ctx, out, stream, progress)
	closeErr := out.Close()
	if err == nil && closeErr != nil {
		err = fmt.Errorf("%w: error finalizing file: %v", ErrDisk, closeErr)
	}
	if err != nil {
		os.Remove(outPath)
		return "", err
	}
	log.Debug().Str("op", "fetch").Msgf("Fetched %d bytes (expected %d) to %s", written, size, outPath)
	return outPath, nil
}

// Pair downloads a video-only and audio-only descriptor concurrently and
// returns both paths once the pair has joined. If either side fails, the
// other is abandoned via context cancellation and both partials are removed.
func Pair(ctx context.Context, video, audio *resolve.StreamDescriptor, dir string, progress Progress) (string, string, error) {
	g, gctx := errgroup.WithContext(ctx)
	var videoPath, audioPath string
	g.Go(func() error {
		var err error
		videoPath, err = Fetch(gctx, video, dir, "video", progress)
		return err
	})
	g.Go(func() error {
		var err error
		audioPath, err = Fetch(gctx, audio, dir, "audio", progress)
		return err
	})
	if err := g.Wait(); err != nil {
		// The winner of the race may have completed; clean it up too.
		if videoPath != "" {
			os.Remove(videoPath)
		}
		if audioPath != "" {
			os.Remove(audioPath)
		}
		return "", "", err
	}
	return videoPath, audioPath, nil
}

func copyStream(ctx context.Context, dst io.Writer, src io.Reader, progress Progress) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, fmt.Errorf("%w: %v", ErrDisk, writeErr)
			}
			written += int64(n)
			if progress != nil {
				progress(int64(n))
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("%w: %v", ErrNetwork, readErr)
		}
	}
}
