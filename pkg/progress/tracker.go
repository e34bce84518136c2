package progress

import (
	"regexp"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long the diagnostic stream may stay silent after
// a position report before completion is inferred.
const DefaultQuietPeriod = 2 * time.Second

// Kind identifies a diagnostic event.
type Kind int

const (
	PositionUpdate Kind = iota
	DurationKnown
	QuietPeriodExpired
)

func (k Kind) String() string {
	switch k {
	case PositionUpdate:
		return "position"
	case DurationKnown:
		return "duration"
	case QuietPeriodExpired:
		return "quiet"
	default:
		return "unknown"
	}
}

// Event is derived from the diagnostic stream of one transcoder generation.
type Event struct {
	Kind       Kind
	Generation uint64
	// Position is set for PositionUpdate, relative to the start of the segment.
	Position time.Duration
	// Duration is set for DurationKnown.
	Duration time.Duration
}

var (
	durationPattern = regexp.MustCompile(`Duration:\s*([^,\s]+)`)
	positionPattern = regexp.MustCompile(`time=\s*([^\s]+)`)
)

// Tracker turns transcoder diagnostic lines into Events. Every line and every
// quiet timer belongs to a generation; anything from an older generation is
// dropped.
type Tracker struct {
	mu    sync.Mutex
	quiet time.Duration
	emit  func(Event)
	gen   uint64
	arm   uint64
	timer *time.Timer
}

// New returns a Tracker that reports events to emit. emit is never called
// while the tracker holds its lock.
func New(quiet time.Duration, emit func(Event)) *Tracker {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Tracker{quiet: quiet, emit: emit}
}

// Reset makes gen the current generation and disarms any pending timer.
func (t *Tracker) Reset(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked()
	t.gen = gen
}

// Cancel disarms the pending quiet timer, if any, without changing generation.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTimerLocked()
}

// Pending reports whether a quiet timer is armed.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.timer != nil
}

// Feed consumes one diagnostic line. Lines that match neither shape, or whose
// timestamp does not parse, produce no event.
func (t *Tracker) Feed(gen uint64, line string) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}

	var events []Event
	if m := durationPattern.FindStringSubmatch(line); m != nil {
		if d, err := ParseTimestamp(m[1], true); err == nil {
			events = append(events, Event{Kind: DurationKnown, Generation: gen, Duration: d})
		}
	}
	if m := positionPattern.FindStringSubmatch(line); m != nil {
		if p, err := ParseTimestamp(m[1], false); err == nil {
			events = append(events, Event{Kind: PositionUpdate, Generation: gen, Position: p})
			t.armLocked()
		}
	}
	t.mu.Unlock()

	for _, e := range events {
		t.emit(e)
	}
}

func (t *Tracker) armLocked() {
	t.stopTimerLocked()
	t.arm++
	gen, arm := t.gen, t.arm
	t.timer = time.AfterFunc(t.quiet, func() { t.expire(gen, arm) })
}

func (t *Tracker) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	// A callback that already fired sees a different arm and gives up.
	t.arm++
}

func (t *Tracker) expire(gen, arm uint64) {
	t.mu.Lock()
	if gen != t.gen || arm != t.arm {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	t.emit(Event{Kind: QuietPeriodExpired, Generation: gen})
}
