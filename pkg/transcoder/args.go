package transcoder

import (
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zachfi/rtpcast/pkg/progress"
)

// Source is what the transcoder reads from: either a path/URL it opens
// itself, or a reader that is copied into its stdin.
type Source struct {
	Path   string
	Reader io.Reader
}

// FileSource returns a Source for a local path or a directly streamable URL.
func FileSource(path string) Source {
	return Source{Path: path}
}

// ReaderSource returns a Source fed through the transcoder's stdin. The
// reader is shared by every segment started from it, so it is guarded to keep
// a single copier reading at a time.
func ReaderSource(r io.Reader) Source {
	return Source{Reader: &lockedReader{r: r}}
}

func (s Source) IsZero() bool {
	return s.Path == "" && s.Reader == nil
}

func (s Source) input() string {
	if s.Reader != nil {
		return "pipe:0"
	}
	return s.Path
}

func (s Source) String() string {
	if s.Reader != nil {
		return "pipe:0"
	}
	return s.Path
}

type lockedReader struct {
	mu sync.Mutex
	r  io.Reader
}

func (l *lockedReader) copyTo(w io.Writer) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return io.Copy(w, l.r)
}

// Read lets a lockedReader still be used as a plain io.Reader.
func (l *lockedReader) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Read(p)
}

// Args builds the transcoder argument list. The shape is fixed: seek, input,
// audio stream selector, bitrate cap, codec and an RTP output to host:port.
// Reader sources cannot seek, so they always start at zero.
func Args(cfg Config, src Source, seek time.Duration, port int) []string {
	cfg.applyDefaults()

	if src.Reader != nil {
		seek = 0
	}

	args := []string{"-hide_banner", "-stats"}
	if cfg.Realtime {
		args = append(args, "-re")
	}
	args = append(args,
		"-ss", progress.FormatTimestamp(seek),
		"-i", src.input(),
		"-map", "0:a",
		"-b:a", cfg.Bitrate,
		"-maxrate", cfg.Bitrate,
		"-c:a", cfg.Codec,
		"-f", "rtp",
		"rtp://"+net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
	)
	return args
}
