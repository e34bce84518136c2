package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const userAgent = "iTunes/12.9.2 (Macintosh; OS X 10.14.3) AppleWebKit/606.4.5"

// Playlist resolves .pls and .m3u playlist URLs to the first stream they
// reference. A URL that already answers with an ICY stream is returned as is.
// Everything it resolves is a live radio stream.
type Playlist struct {
	client *http.Client
	logger *slog.Logger
}

func NewPlaylist(timeout time.Duration, logger slog.Logger) *Playlist {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{DialContext: dialer.DialContext}
	return &Playlist{
		client: &http.Client{Transport: transport, Timeout: timeout},
		logger: logger.With("resolver", KindPlaylist),
	}
}

// WithClient replaces the HTTP client, mostly for tests.
func (p *Playlist) WithClient(c *http.Client) *Playlist {
	p.client = c
	return p
}

func (p *Playlist) Resolve(ctx context.Context, url string) (Resolved, error) {
	streamURL, err := p.resolve(ctx, url)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}
	if streamURL != url {
		p.logger.Info("resolved playlist to stream URL", "url", url, "stream", streamURL)
	}
	return Resolved{URL: streamURL, Live: true}, nil
}

func (p *Playlist) resolve(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	// Already a stream; do not read the (endless) body.
	if resp.Header.Get("icy-metaint") != "" {
		return url, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "audio/mpeg") || strings.HasPrefix(contentType, "audio/aac") || strings.HasPrefix(contentType, "audio/ogg") {
		return url, nil
	}

	bodyData, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	content := string(bodyData)

	isPLS := strings.Contains(contentType, "audio/x-scpls") ||
		strings.Contains(contentType, "application/pls+xml") ||
		strings.HasSuffix(url, ".pls") ||
		strings.Contains(content, "[playlist]") ||
		strings.Contains(content, "File1=")

	isM3U := strings.Contains(contentType, "audio/mpegurl") ||
		strings.Contains(contentType, "audio/x-mpegurl") ||
		strings.Contains(contentType, "application/vnd.apple.mpegurl") ||
		strings.HasSuffix(url, ".m3u") ||
		strings.HasSuffix(url, ".m3u8") ||
		strings.Contains(content, "#EXTM3U") ||
		strings.HasPrefix(strings.TrimSpace(content), "http://") ||
		strings.HasPrefix(strings.TrimSpace(content), "https://")

	switch {
	case isPLS:
		streamURL, err := parsePLS(content)
		if err != nil {
			return "", fmt.Errorf("failed to parse PLS playlist: %w", err)
		}
		return streamURL, nil
	case isM3U:
		streamURL, err := parseM3U(content)
		if err != nil {
			return "", fmt.Errorf("failed to parse M3U playlist: %w", err)
		}
		return streamURL, nil
	}

	return "", fmt.Errorf("URL does not appear to be a stream or playlist (Content-Type: %s)", contentType)
}

// parsePLS returns the first FileN= entry.
func parsePLS(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "File") {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}

	return "", fmt.Errorf("no stream URL found in PLS playlist")
}

// parseM3U returns the first http(s) entry, skipping comments.
func parseM3U(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}

	return "", fmt.Errorf("no stream URL found in M3U playlist")
}
