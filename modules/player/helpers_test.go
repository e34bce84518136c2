package player

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zachfi/rtpcast/modules/relay"
	"github.com/zachfi/rtpcast/pkg/resolver"
	"github.com/zachfi/rtpcast/pkg/transcoder"
)

// The stub picks its behaviour from the input name:
//   - *natural*: reports a duration and two positions, then exits 0
//   - *crash*: exits 1
//   - *early*: reports a 10s duration and a 1s position, then stays silent
//   - *tail*: reports a 3s duration and a 2.5s position, then stays silent
//   - *quiet* and pipe:0: reports one position, then stays silent
//   - anything else: reports a position every 100ms until interrupted
const stubScript = `#!/bin/sh
input=""
seek=""
while [ $# -gt 0 ]; do
	case "$1" in
		-i) input="$2"; shift ;;
		-ss) seek="$2"; shift ;;
	esac
	shift
done
echo "$seek $input" >> "%s"
case "$input" in
	*natural*)
		printf 'Duration: 00:00:03.00, start: 0.000000, bitrate: 128 kb/s\n' >&2
		printf 'size=N/A time=00:00:01.00 bitrate=N/A speed=1x\r' >&2
		printf 'size=N/A time=00:00:02.50 bitrate=N/A speed=1x\r' >&2
		exit 0
		;;
	*crash*)
		echo "Invalid data found when processing input" >&2
		exit 1
		;;
	*early*)
		printf 'Duration: 00:00:10.00, start: 0.000000, bitrate: 128 kb/s\n' >&2
		printf 'size=N/A time=00:00:01.00 bitrate=N/A speed=1x\n' >&2
		exec sleep 60
		;;
	*tail*)
		printf 'Duration: 00:00:03.00, start: 0.000000, bitrate: 128 kb/s\n' >&2
		printf 'size=N/A time=00:00:02.50 bitrate=N/A speed=1x\n' >&2
		exec sleep 60
		;;
	*quiet*|pipe:0)
		printf 'size=N/A time=00:00:01.00 bitrate=N/A speed=1x\n' >&2
		exec sleep 60
		;;
esac
trap 'exit 0' INT TERM
n=0
while :; do
	n=$((n+1))
	printf 'size=N/A time=00:00:%%02d.00 bitrate=N/A speed=1x\n' $((n %% 60)) >&2
	sleep 0.1
done
`

type fakeRelay struct {
	mu      sync.Mutex
	sink    relay.Sink
	sets    int
	unbound bool
}

func (r *fakeRelay) SetSink(s relay.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = s
	r.sets++
}

func (r *fakeRelay) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unbound {
		return 0
	}
	return 5030
}

func (r *fakeRelay) current() relay.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink
}

type nopTrack struct{ id int }

func (nopTrack) Write(b []byte) (int, error) { return len(b), nil }

// recordingTranscoder keeps every handle the player started.
type recordingTranscoder struct {
	*transcoder.Supervisor

	mu      sync.Mutex
	handles []*transcoder.Handle
}

func (r *recordingTranscoder) Start(ctx context.Context, req transcoder.Request, hooks transcoder.Hooks) (*transcoder.Handle, error) {
	h, err := r.Supervisor.Start(ctx, req, hooks)
	if err == nil {
		r.mu.Lock()
		r.handles = append(r.handles, h)
		r.mu.Unlock()
	}
	return h, err
}

func (r *recordingTranscoder) all() []*transcoder.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*transcoder.Handle(nil), r.handles...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

type harness struct {
	player  *Player
	relay   *fakeRelay
	sup     *recordingTranscoder
	events  *eventLog
	logPath string
	tracks  int
}

type harnessOption func(*Config, *transcoder.Config)

func withQuietPeriod(d time.Duration) harnessOption {
	return func(c *Config, _ *transcoder.Config) { c.QuietPeriod = d }
}

func withBinary(path string) harnessOption {
	return func(_ *Config, tc *transcoder.Config) { tc.Binary = path }
}

func newHarness(t *testing.T, res resolver.Resolver, opts ...harnessOption) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub transcoder is a shell script")
	}

	dir := t.TempDir()
	logPath := filepath.Join(dir, "invocations.log")
	binary := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(binary, []byte(fmt.Sprintf(stubScript, logPath)), 0o755); err != nil {
		t.Fatalf("write stub ffmpeg: %v", err)
	}

	cfg := Config{QuietPeriod: time.Hour, HandoverTimeout: 5 * time.Second}
	tcfg := transcoder.Config{Binary: binary, StopGrace: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg, &tcfg)
	}

	h := &harness{
		relay:   &fakeRelay{},
		sup:     &recordingTranscoder{Supervisor: transcoder.New(tcfg, *slog.Default())},
		events:  &eventLog{},
		logPath: logPath,
	}
	p, err := New(cfg, h.relay, h.sup, res, *slog.Default(), WithTrackFactory(func() (relay.Sink, error) {
		h.tracks++
		return nopTrack{id: h.tracks}, nil
	}))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	p.OnEvent(h.events.record)
	h.player = p

	t.Cleanup(func() {
		p.Disconnect(true)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.WaitIdle(ctx)
		p.quitOnce.Do(func() { close(p.quit) })
	})
	return h
}

// invocations returns "seek input" per transcoder start.
func (h *harness) invocations(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(h.logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read invocations: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func eventually(t *testing.T, cond func() bool, msg string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf(msg, args...)
}

func (h *harness) waitEvents(t *testing.T, want ...EventType) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if equalTypes(h.events.types(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected events %v, got %v", want, h.events.types())
}

func equalTypes(got, want []EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
