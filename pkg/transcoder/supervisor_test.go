package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestArgsFixedShape(t *testing.T) {
	cfg := Config{Realtime: true}
	got := Args(cfg, FileSource("clip.mp3"), 90*time.Second, 5030)
	want := []string{
		"-hide_banner", "-stats", "-re",
		"-ss", "00:01:30.000",
		"-i", "clip.mp3",
		"-map", "0:a",
		"-b:a", "48k",
		"-maxrate", "48k",
		"-c:a", "libopus",
		"-f", "rtp",
		"rtp://127.0.0.1:5030",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("unexpected args:\n got %v\nwant %v", got, want)
	}
}

func TestArgsReaderSourceIgnoresSeek(t *testing.T) {
	got := Args(Config{}, ReaderSource(strings.NewReader("x")), time.Minute, 6000)
	if idx := findArg(got, "-ss"); idx < 0 || got[idx+1] != "00:00:00.000" {
		t.Fatalf("expected zero seek for reader source, got %v", got)
	}
	if idx := findArg(got, "-i"); idx < 0 || got[idx+1] != "pipe:0" {
		t.Fatalf("expected stdin input, got %v", got)
	}
	if findArg(got, "-re") >= 0 {
		t.Fatalf("realtime flag should follow config, got %v", got)
	}
	if got[len(got)-1] != "rtp://127.0.0.1:6000" {
		t.Fatalf("unexpected output %q", got[len(got)-1])
	}
}

func TestStartMissingBinary(t *testing.T) {
	s := New(Config{Binary: "/nonexistent/rtpcast-ffmpeg"}, *slog.Default())
	_, err := s.Start(context.Background(), Request{Generation: 1, Source: FileSource("clip.mp3"), Port: 5030}, Hooks{})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestStartRequiresSource(t *testing.T) {
	s := New(Config{}, *slog.Default())
	if _, err := s.Start(context.Background(), Request{Generation: 1}, Hooks{}); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
}

func TestNaturalExit(t *testing.T) {
	setHelperCommand(t, "natural")
	s := New(Config{}, *slog.Default())

	var mu sync.Mutex
	var lines []string
	exited := make(chan ExitStatus, 1)
	h, err := s.Start(context.Background(), Request{Generation: 7, Source: FileSource("clip.mp3"), Port: 5030}, Hooks{
		OnLine: func(gen uint64, line string) {
			mu.Lock()
			defer mu.Unlock()
			if gen != 7 {
				t.Errorf("unexpected generation %d", gen)
			}
			lines = append(lines, line)
		},
		OnExit: func(gen uint64, status ExitStatus) { exited <- status },
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	status := waitExit(t, exited)
	if status.Kind != ExitNatural {
		t.Fatalf("expected natural exit, got %+v", status)
	}
	if h.Status().Kind != ExitNatural {
		t.Fatalf("handle status disagrees: %+v", h.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "Duration: 00:00:03.00") || !strings.Contains(joined, "time=00:00:02.00") {
		t.Fatalf("expected diagnostic lines split on carriage returns, got %q", joined)
	}
}

func TestAbnormalExit(t *testing.T) {
	setHelperCommand(t, "crash")
	s := New(Config{}, *slog.Default())

	exited := make(chan ExitStatus, 1)
	if _, err := s.Start(context.Background(), Request{Generation: 1, Source: FileSource("clip.mp3")}, Hooks{
		OnExit: func(_ uint64, status ExitStatus) { exited <- status },
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	status := waitExit(t, exited)
	if status.Kind != ExitAbnormal || status.Code != 3 {
		t.Fatalf("expected abnormal exit with code 3, got %+v", status)
	}
}

func TestStopIsNeverNatural(t *testing.T) {
	setHelperCommand(t, "linger")
	s := New(Config{StopGrace: time.Second}, *slog.Default())

	exited := make(chan ExitStatus, 1)
	h, err := s.Start(context.Background(), Request{Generation: 1, Source: FileSource("clip.mp3")}, Hooks{
		OnExit: func(_ uint64, status ExitStatus) { exited <- status },
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	done := s.Stop(h)
	if !h.Stopped() {
		t.Fatal("handle should be marked stopped synchronously")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transcoder did not exit after Stop")
	}
	if status := waitExit(t, exited); status.Kind != ExitStopped {
		t.Fatalf("expected stopped exit, got %+v", status)
	}

	// A second Stop is harmless.
	<-s.Stop(h)
}

func TestStopKillsAfterGrace(t *testing.T) {
	setHelperCommand(t, "stubborn")
	s := New(Config{StopGrace: 200 * time.Millisecond}, *slog.Default())

	exited := make(chan ExitStatus, 1)
	h, err := s.Start(context.Background(), Request{Generation: 1, Source: FileSource("clip.mp3")}, Hooks{
		OnExit: func(_ uint64, status ExitStatus) { exited <- status },
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	// Give the helper time to install its signal handler.
	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	done := s.Stop(h)
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Stop blocked the caller")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stubborn transcoder was not killed")
	}
	if status := waitExit(t, exited); status.Kind != ExitStopped {
		t.Fatalf("expected stopped exit, got %+v", status)
	}
}

func TestReaderSourceFeedsStdin(t *testing.T) {
	setHelperCommand(t, "cat")
	s := New(Config{}, *slog.Default())

	payload := strings.Repeat("a", 4096)
	lines := make(chan string, 16)
	inputDone := make(chan error, 1)
	exited := make(chan ExitStatus, 1)
	if _, err := s.Start(context.Background(), Request{Generation: 1, Source: ReaderSource(strings.NewReader(payload))}, Hooks{
		OnLine:      func(_ uint64, line string) { lines <- line },
		OnInputDone: func(_ uint64, err error) { inputDone <- err },
		OnExit:      func(_ uint64, status ExitStatus) { exited <- status },
	}); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	select {
	case err := <-inputDone:
		if err != nil {
			t.Fatalf("unexpected input error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("input was never reported as consumed")
	}
	if status := waitExit(t, exited); status.Kind != ExitNatural {
		t.Fatalf("expected natural exit, got %+v", status)
	}
	if got := <-lines; got != fmt.Sprintf("read=%d", len(payload)) {
		t.Fatalf("helper saw %q", got)
	}
}

func TestScanLinesWithCR(t *testing.T) {
	adv, tok, err := scanLinesWithCR([]byte("a\r\r\nb"), false)
	if err != nil || adv != 4 || string(tok) != "a" {
		t.Fatalf("unexpected split: %d %q %v", adv, tok, err)
	}
	adv, tok, _ = scanLinesWithCR([]byte("tail"), true)
	if adv != 4 || string(tok) != "tail" {
		t.Fatalf("unexpected tail split: %d %q", adv, tok)
	}
	if adv, _, _ := scanLinesWithCR([]byte("partial"), false); adv != 0 {
		t.Fatalf("expected to wait for more data, advanced %d", adv)
	}
}

func waitExit(t *testing.T, ch <-chan ExitStatus) ExitStatus {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transcoder exit")
		return ExitStatus{}
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("TRANSCODER_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("TRANSCODER_HELPER_MODE") {
	case "natural":
		fmt.Fprintln(os.Stderr, "Input #0, mp3, from 'clip.mp3':")
		fmt.Fprintln(os.Stderr, "  Duration: 00:00:03.00, start: 0.000000, bitrate: 128 kb/s")
		fmt.Fprint(os.Stderr, "size=N/A time=00:00:01.00 bitrate=N/A speed=1x\r")
		fmt.Fprint(os.Stderr, "size=N/A time=00:00:02.00 bitrate=N/A speed=1x\r")
		os.Exit(0)
	case "crash":
		fmt.Fprintln(os.Stderr, "clip.mp3: Invalid data found when processing input")
		os.Exit(3)
	case "linger":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "stubborn":
		signal.Ignore(os.Interrupt)
		time.Sleep(time.Minute)
		os.Exit(0)
	case "cat":
		n, _ := io.Copy(io.Discard, os.Stdin)
		fmt.Fprintf(os.Stderr, "read=%d\n", n)
		os.Exit(0)
	default:
		os.Exit(0)
	}
}

func findArg(args []string, target string) int {
	for i, arg := range args {
		if arg == target {
			return i
		}
	}
	return -1
}
