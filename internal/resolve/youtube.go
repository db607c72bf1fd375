package resolve

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog/log"
)

// YouTubeResolver resolves YouTube watch URLs through the innertube API and
// exposes each adaptive/progressive format as a StreamDescriptor.
type YouTubeResolver struct {
	client youtube.Client
}

func NewYouTubeResolver() *YouTubeResolver {
	return &YouTubeResolver{client: youtube.Client{}}
}

func (r *YouTubeResolver) Match(rawURL string) bool {
	return strings.Contains(rawURL, "youtube.com/watch") ||
		strings.Contains(rawURL, "youtu.be/") ||
		strings.Contains(rawURL, "music.youtube.com")
}

func (r *YouTubeResolver) Resolve(ctx context.Context, rawURL string) (*Media, error) {
	video, err := r.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		log.Debug().Str("op", "resolve/youtube").Err(err).Msgf("Lookup failed for %s", rawURL)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	media := &Media{
		Publisher: video.Author,
		Title:     video.Title,
	}
	for i := range video.Formats {
		f := &video.Formats[i]
		kind, ok := formatKind(f)
		if !ok {
			continue
		}
		media.Streams = append(media.Streams, StreamDescriptor{
			Kind:      kind,
			Height:    f.Height,
			Bitrate:   f.Bitrate,
			Container: containerFromMime(f.MimeType, kind),
			Size:      f.ContentLength,
			Source:    &youtubeSource{client: &r.client, video: video, format: f},
		})
	}
	if len(media.Streams) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoStreams, rawURL)
	}
	log.Debug().Str("op", "resolve/youtube").Msgf("Resolved %q by %q with %d formats", media.Title, media.Publisher, len(media.Streams))
	return media, nil
}

func formatKind(f *youtube.Format) (StreamKind, bool) {
	isVideo := strings.HasPrefix(f.MimeType, "video/")
	isAudio := strings.HasPrefix(f.MimeType, "audio/")
	switch {
	case isVideo && f.AudioChannels > 0:
		return KindCombined, true
	case isVideo:
		return KindVideo, true
	case isAudio:
		return KindAudio, true
	}
	return "", false
}

type youtubeSource struct {
	client *youtube.Client
	video  *youtube.Video
	format *youtube.Format
}

func (s *youtubeSource) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	stream, size, err := s.client.GetStreamContext(ctx, s.video, s.format)
	if err != nil {
		return nil, 0, fmt.Errorf("error opening stream (itag %d): %v", s.format.ItagNo, err)
	}
	return stream, size, nil
}
