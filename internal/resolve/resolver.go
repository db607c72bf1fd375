// Package resolve turns a submitted media URL into a normalized set of
// stream descriptors and picks which of them to download.
package resolve

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/vidstash/vidstash/internal/utils"
)

var (
	ErrInvalidURL  = errors.New("invalid media URL")
	ErrUnavailable = errors.New("content unavailable")
	ErrNoStreams   = errors.New("no suitable streams found")
)

type StreamKind string

const (
	KindVideo    StreamKind = "video"    // video-only representation
	KindAudio    StreamKind = "audio"    // audio-only representation
	KindCombined StreamKind = "combined" // muxed audio+video, no merge needed
)

// StreamSource opens the raw byte stream behind a descriptor. Implementations
// must honor ctx cancellation for the returned reader's lifetime.
type StreamSource interface {
	Open(ctx context.Context) (io.ReadCloser, int64, error)
}

// StreamDescriptor is the fixed internal shape every resolver normalizes its
// results into; downstream stages never see resolver-specific types.
type StreamDescriptor struct {
	Kind      StreamKind
	Height    int    // vertical resolution, 0 for audio-only
	Bitrate   int    // bits per second as reported by the source
	Container string // file extension without dot: mp4, webm, m4a, ...
	Size      int64  // estimated bytes, 0 if unknown
	Source    StreamSource
}

// Media is a resolved URL: publisher/title metadata plus every available
// representation.
type Media struct {
	Publisher string
	Title     string
	Streams   []StreamDescriptor
}

type Resolver interface {
	// Match reports whether this resolver understands the URL. Resolvers are
	// consulted in registration order; the first match wins.
	Match(rawURL string) bool
	Resolve(ctx context.Context, rawURL string) (*Media, error)
}

// DefaultResolvers returns the resolver chain used by the CLI: YouTube pages
// first, then direct links to media files.
func DefaultResolvers(client *utils.HTTPClient) []Resolver {
	return []Resolver{
		NewYouTubeResolver(),
		NewDirectResolver(client),
	}
}

// For picks the first resolver matching rawURL, or nil.
func For(rawURL string, resolvers []Resolver) Resolver {
	for _, r := range resolvers {
		if r.Match(rawURL) {
			return r
		}
	}
	return nil
}

// containerFromMime maps a MIME type like "video/mp4; codecs=..." to a file
// extension for the given stream kind.
func containerFromMime(mimeType string, kind StreamKind) string {
	mt := mimeType
	if idx := strings.Index(mt, ";"); idx != -1 {
		mt = mt[:idx]
	}
	mt = strings.TrimSpace(mt)
	switch mt {
	case "video/mp4":
		return "mp4"
	case "audio/mp4":
		return "m4a"
	case "video/webm", "audio/webm":
		return "webm"
	case "video/x-matroska":
		return "mkv"
	case "video/quicktime":
		return "mov"
	}
	if idx := strings.Index(mt, "/"); idx != -1 && idx+1 < len(mt) {
		return mt[idx+1:]
	}
	return "mp4"
}
