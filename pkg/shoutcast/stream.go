package shoutcast

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/zachfi/rtpcast/pkg/resolver"
)

const userAgent = "iTunes/12.9.2 (Macintosh; OS X 10.14.3) AppleWebKit/606.4.5"

// MetadataCallbackFunc is the type of the function called when the stream metadata changes
type MetadataCallbackFunc func(m *Metadata)

// Stream represents an open shoutcast stream.
type Stream struct {
	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// The description of the stream
	Description string

	// Homepage of the server
	URL string

	// Bitrate of the server
	Bitrate int

	// Optional function to be executed when stream metadata changes
	MetadataCallbackFunc MetadataCallbackFunc

	// Amount of bytes to read before expecting a metadata block, zero when
	// the server sends no metadata
	metaint int

	// Stream metadata
	metadata *Metadata

	// The number of audio bytes read since the last metadata block
	pos int

	r  *bufio.Reader
	rc io.ReadCloser
}

// Open connects to url, resolving playlists first. The context bounds the
// connection setup only; the body is read without a deadline.
func Open(ctx context.Context, url string, logger slog.Logger) (*Stream, error) {
	resolved, err := resolver.NewPlaylist(10*time.Second, logger).Resolve(ctx, url)
	if err != nil {
		return nil, err
	}
	url = resolved.URL

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("accept", "*/*")
	req.Header.Add("user-agent", userAgent)
	req.Header.Add("icy-metadata", "1")

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	client := &http.Client{Transport: transport}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	s, err := newStream(resp.Header, resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	logger.Info("opened stream", "url", url, "name", s.Name, "bitrate", s.Bitrate, "metaint", s.metaint)
	return s, nil
}

func newStream(h http.Header, body io.ReadCloser) (*Stream, error) {
	var bitrate int
	if raw := h.Get("icy-br"); raw != "" {
		b, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("cannot parse bitrate: %w", err)
		}
		bitrate = b
	}

	var metaint int
	if raw := h.Get("icy-metaint"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 0 {
			return nil, fmt.Errorf("cannot parse metaint %q", raw)
		}
		metaint = m
	}

	return &Stream{
		Name:        h.Get("icy-name"),
		Genre:       h.Get("icy-genre"),
		Description: h.Get("icy-description"),
		URL:         h.Get("icy-url"),
		Bitrate:     bitrate,
		metaint:     metaint,
		r:           bufio.NewReader(body),
		rc:          body,
	}, nil
}

// Read implements io.Reader, returning audio bytes only.
func (s *Stream) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if s.metaint == 0 {
		return s.r.Read(buf)
	}

	if s.pos == s.metaint {
		if err := s.readMetadata(); err != nil {
			return 0, err
		}
		s.pos = 0
	}

	want := len(buf)
	if remaining := s.metaint - s.pos; want > remaining {
		want = remaining
	}
	n, err := s.r.Read(buf[:want])
	s.pos += n
	return n, err
}

func (s *Stream) readMetadata() error {
	lenByte, err := s.r.ReadByte()
	if err != nil {
		return err
	}
	size := int(lenByte) * 16
	if size == 0 {
		return nil
	}

	block := make([]byte, size)
	if _, err := io.ReadFull(s.r, block); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if m := NewMetadata(block); !m.Equals(s.metadata) {
		s.metadata = m
		if s.MetadataCallbackFunc != nil {
			s.MetadataCallbackFunc(m)
		}
	}
	return nil
}

// Close closes the stream
func (s *Stream) Close() error {
	return s.rc.Close()
}
