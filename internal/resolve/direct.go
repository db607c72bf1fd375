package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vidstash/vidstash/internal/utils"
)

var directExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".webm": true,
	".mkv":  true,
	".mov":  true,
	".avi":  true,
}

// DirectResolver handles URLs that point straight at a media file. The host
// stands in for the publisher and the file name for the title, so direct
// grabs still file neatly under the output root.
type DirectResolver struct {
	client *utils.HTTPClient
}

func NewDirectResolver(client *utils.HTTPClient) *DirectResolver {
	if client == nil {
		client = utils.NewHTTPClient(utils.HTTPClientConfig{})
	}
	return &DirectResolver{client: client}
}

func (r *DirectResolver) Match(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return false
	}
	return directExtensions[strings.ToLower(path.Ext(parsed.Path))]
}

func (r *DirectResolver) Resolve(ctx context.Context, rawURL string) (*Media, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, r.client.MetadataTimeout())
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating probe request: %v", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server returned status %d", ErrUnavailable, resp.StatusCode)
	}

	base := path.Base(parsed.Path)
	ext := strings.ToLower(path.Ext(base))
	title := strings.TrimSuffix(base, path.Ext(base))
	log.Debug().Str("op", "resolve/direct").Msgf("Probed %s (%d bytes)", rawURL, resp.ContentLength)
	return &Media{
		Publisher: parsed.Hostname(),
		Title:     title,
		Streams: []StreamDescriptor{{
			Kind:      KindCombined,
			Container: strings.TrimPrefix(ext, "."),
			Size:      max(resp.ContentLength, 0),
			Source:    &httpSource{client: r.client, url: rawURL},
		}},
	}, nil
}

type httpSource struct {
	client *utils.HTTPClient
	url    string
}

func (s *httpSource) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating GET request: %v", err)
	}
	req.Header.Set("Connection", "keep-alive")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error fetching %s: %v", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("server returned status %d for %s", resp.StatusCode, s.url)
	}
	return resp.Body, max(resp.ContentLength, 0), nil
}
