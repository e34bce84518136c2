package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grafana/dskit/services"
	"github.com/zachfi/zkit/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zachfi/rtpcast/modules/relay"
	"github.com/zachfi/rtpcast/pkg/progress"
	"github.com/zachfi/rtpcast/pkg/resolver"
	"github.com/zachfi/rtpcast/pkg/transcoder"
)

var (
	// ErrInvalidArgument is returned by the play operations when no source is given.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSuperseded is returned when a newer play, stop or disconnect won
	// while this request was waiting for the previous transcoder to exit.
	ErrSuperseded = errors.New("superseded by a newer request")
	// ErrRelayUnavailable is returned when the relay has no port to send to yet.
	ErrRelayUnavailable = errors.New("relay is not listening")
)

var module = "player"

var tracer = otel.Tracer("github.com/zachfi/rtpcast/modules/player")

// Transcoder is the part of the transcoder supervisor the player drives.
type Transcoder interface {
	Start(ctx context.Context, req transcoder.Request, hooks transcoder.Hooks) (*transcoder.Handle, error)
	Stop(h *transcoder.Handle) <-chan struct{}
}

// Relay is where the player attaches its media track.
type Relay interface {
	SetSink(s relay.Sink)
	Port() int
}

// TrackFactory creates the media sink the relay writes to.
type TrackFactory func() (relay.Sink, error)

type session struct {
	id     string
	source transcoder.Source
	closer io.Closer
	title  string
	live   bool

	// base is the seek offset of the running segment.
	base      time.Duration
	position  time.Duration
	total     time.Duration
	exhausted bool
	lastLine  time.Time

	handle *transcoder.Handle
}

// Player is the playback controller. All session state is guarded by mtx;
// transcoder and tracker callbacks are matched against gen and dropped when
// they belong to an older process.
type Player struct {
	services.Service
	cfg    *Config
	logger *slog.Logger

	relay    Relay
	sup      Transcoder
	resolver resolver.Resolver
	newTrack TrackFactory
	tracker  *progress.Tracker

	mtx   sync.Mutex
	state State
	gen   uint64
	sess  *session
	last  *transcoder.Handle
	track relay.Sink

	hmtx     sync.RWMutex
	handlers []func(Event)

	// queue is unbounded so emitting never blocks while mtx is held.
	qmtx       sync.Mutex
	queue      []Event
	notify     chan struct{}
	quit       chan struct{}
	quitOnce   sync.Once
	dispatched chan struct{}
}

type Option func(*Player)

// WithTrackFactory sets how the media track is (re)created.
func WithTrackFactory(f TrackFactory) Option {
	return func(p *Player) {
		p.newTrack = f
	}
}

// New creates and returns a new Player.
func New(cfg Config, r Relay, sup Transcoder, res resolver.Resolver, logger slog.Logger, opts ...Option) (*Player, error) {
	if r == nil || sup == nil {
		return nil, errors.New("player requires a relay and a transcoder")
	}
	cfg.applyDefaults()

	p := &Player{
		cfg:        &cfg,
		logger:     logger.With("module", module),
		relay:      r,
		sup:        sup,
		resolver:   res,
		state:      Idle,
		notify:     make(chan struct{}, 1),
		quit:       make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.tracker = progress.New(cfg.QuietPeriod, p.onProgress)

	go p.dispatch()

	p.Service = services.NewBasicService(nil, p.running, p.stopping)

	return p, nil
}

// OnEvent registers a handler for lifecycle events. Handlers run on the
// dispatcher goroutine and may call back into the Player.
func (p *Player) OnEvent(h func(Event)) {
	p.hmtx.Lock()
	defer p.hmtx.Unlock()
	p.handlers = append(p.handlers, h)
}

// PlayFile plays a local file or directly streamable URL from the start.
func (p *Player) PlayFile(ctx context.Context, path string) (err error) {
	ctx, span := tracer.Start(ctx, "Player.PlayFile")
	defer func() { _ = tracing.ErrHandler(span, err, "play file failed", p.logger) }()
	span.SetAttributes(attribute.String("source", path))

	if path == "" {
		return fmt.Errorf("%w: you must specify a file to play", ErrInvalidArgument)
	}
	return p.play(ctx, &session{source: transcoder.FileSource(path), exhausted: true})
}

// PlayStream plays r through the transcoder's stdin. A live stream never
// counts as exhausted until its reader returns EOF. If r is an io.Closer it
// is closed when the session ends.
func (p *Player) PlayStream(ctx context.Context, r io.Reader, live bool) (err error) {
	ctx, span := tracer.Start(ctx, "Player.PlayStream")
	defer func() { _ = tracing.ErrHandler(span, err, "play stream failed", p.logger) }()
	span.SetAttributes(attribute.Bool("live", live))

	if r == nil {
		return fmt.Errorf("%w: you must specify a stream to play", ErrInvalidArgument)
	}
	s := &session{source: transcoder.ReaderSource(r), live: live, exhausted: !live}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return p.play(ctx, s)
}

// PlayResolvedURL resolves url through the configured resolver and plays the
// result. A resolution failure spawns nothing.
func (p *Player) PlayResolvedURL(ctx context.Context, url string) (err error) {
	ctx, span := tracer.Start(ctx, "Player.PlayResolvedURL")
	defer func() { _ = tracing.ErrHandler(span, err, "play url failed", p.logger) }()
	span.SetAttributes(attribute.String("url", url))

	if url == "" {
		return fmt.Errorf("%w: you must specify a url to play", ErrInvalidArgument)
	}
	if p.resolver == nil {
		return fmt.Errorf("%w: no resolver configured", resolver.ErrResolution)
	}

	resolved, err := p.resolver.Resolve(ctx, url)
	if err != nil {
		if !errors.Is(err, resolver.ErrResolution) {
			err = fmt.Errorf("%w: %w", resolver.ErrResolution, err)
		}
		return err
	}

	return p.play(ctx, &session{
		source:    transcoder.FileSource(resolved.URL),
		title:     resolved.Title,
		live:      resolved.Live,
		exhausted: !resolved.Live,
	})
}

func (p *Player) play(ctx context.Context, s *session) error {
	p.mtx.Lock()
	// Supersede the current session without a finish event.
	p.gen++
	gen := p.gen
	p.tracker.Reset(gen)
	prev := p.endSessionLocked()
	if !p.state.rest() {
		p.setStateLocked(Stopped)
	}
	p.mtx.Unlock()

	if err := p.awaitExit(ctx, prev); err != nil {
		s.close(p.logger)
		return err
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if gen != p.gen {
		s.close(p.logger)
		return ErrSuperseded
	}

	port := p.relay.Port()
	if port <= 0 {
		s.close(p.logger)
		p.setStateLocked(Idle)
		return ErrRelayUnavailable
	}

	if err := p.ensureTrackLocked(); err != nil {
		s.close(p.logger)
		return err
	}

	s.id = uuid.NewString()
	h, err := p.sup.Start(ctx, transcoder.Request{
		Generation: gen,
		Source:     s.source,
		Seek:       0,
		Port:       port,
	}, p.hooks())
	if err != nil {
		s.close(p.logger)
		p.setStateLocked(Idle)
		return err
	}

	s.handle = h
	p.sess = s
	p.last = h
	p.setStateLocked(Playing)
	p.logger.Info("playback started", "session", s.id, "source", s.source.String(), "generation", gen)
	p.emitLocked(Event{Type: EventStart, SessionID: s.id})

	return nil
}

// Pause stops the transcoder and freezes the position. Pausing a session that
// is not playing is a no-op.
func (p *Player) Pause() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state != Playing || p.sess == nil {
		return
	}

	p.gen++
	p.tracker.Reset(p.gen)
	p.sup.Stop(p.sess.handle)
	p.sess.handle = nil
	p.setStateLocked(Paused)
	p.logger.Info("playback paused", "session", p.sess.id, "position", p.sess.position)
}

// Resume restarts the transcoder at the frozen position. Resuming a session
// that is not paused is a no-op.
func (p *Player) Resume(ctx context.Context) error {
	p.mtx.Lock()
	if p.state != Paused || p.sess == nil {
		p.mtx.Unlock()
		return nil
	}
	p.gen++
	gen := p.gen
	p.tracker.Reset(gen)
	s := p.sess
	prev := p.last
	p.mtx.Unlock()

	if err := p.awaitExit(ctx, prev); err != nil {
		return err
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if gen != p.gen || p.sess != s || p.state != Paused {
		return ErrSuperseded
	}

	h, err := p.sup.Start(ctx, transcoder.Request{
		Generation: gen,
		Source:     s.source,
		Seek:       s.position,
		Port:       p.relay.Port(),
	}, p.hooks())
	if err != nil {
		// The session cannot continue; tear it down like a crash.
		p.logger.Error("failed to resume", "session", s.id, "err", err)
		p.finishLocked(false, err)
		return err
	}

	s.handle = h
	s.base = s.position
	p.last = h
	p.setStateLocked(Playing)
	p.logger.Info("playback resumed", "session", s.id, "position", s.position, "generation", gen)

	return nil
}

// Stop ends the session and emits finish. Stopping without a session only
// moves to Stopped.
func (p *Player) Stop() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.stopLocked(Stopped)
}

// Disconnect stops playback and returns to Idle. With destroyTrack the media
// track is detached from the relay and released; the next play creates a
// new one.
func (p *Player) Disconnect(destroyTrack bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.stopLocked(Idle)
	if destroyTrack && p.track != nil {
		p.relay.SetSink(nil)
		if c, ok := p.track.(io.Closer); ok {
			if err := c.Close(); err != nil {
				p.logger.Warn("error closing track", "err", err)
			}
		}
		p.track = nil
	}
}

// WaitIdle blocks until the most recently started transcoder has exited.
func (p *Player) WaitIdle(ctx context.Context) error {
	p.mtx.Lock()
	last := p.last
	p.mtx.Unlock()

	if last == nil {
		return nil
	}
	select {
	case <-last.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Track returns the media track the relay currently writes to.
func (p *Player) Track() relay.Sink {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.track
}

func (p *Player) Status() Status {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	st := Status{
		State:      p.state,
		StateName:  p.state.String(),
		Generation: p.gen,
	}
	if s := p.sess; s != nil {
		st.SessionID = s.id
		st.Source = s.source.String()
		st.Title = s.title
		st.Live = s.live
		st.Position = s.position
		st.PositionSeconds = s.position.Seconds()
		st.Duration = s.total
		st.DurationSeconds = s.total.Seconds()
		st.Exhausted = s.exhausted
		if !s.lastLine.IsZero() {
			last := s.lastLine
			st.LastDiagnosticAt = &last
		}
	}
	return st
}

func (p *Player) stopLocked(to State) {
	p.gen++
	p.tracker.Reset(p.gen)

	id := ""
	if p.sess != nil {
		id = p.sess.id
	}
	p.endSessionLocked()
	p.setStateLocked(to)

	if id != "" {
		p.logger.Info("playback stopped", "session", id, "state", to)
		p.emitLocked(Event{Type: EventFinish, SessionID: id})
	}
}

// finishLocked ends the current session after the transcoder finished on its
// own, was inferred to be done, or failed.
func (p *Player) finishLocked(natural bool, cause error) {
	if p.sess == nil {
		return
	}
	id := p.sess.id

	p.gen++
	p.tracker.Reset(p.gen)
	p.endSessionLocked()
	p.setStateLocked(Stopped)

	if !natural {
		p.emitLocked(Event{Type: EventError, SessionID: id, Err: cause})
	}
	p.emitLocked(Event{Type: EventFinish, SessionID: id})
	if natural {
		p.emitLocked(Event{Type: EventEnd, SessionID: id})
	}
}

// endSessionLocked stops the session's transcoder, releases its source and
// clears it. It returns the handle that was stopped, if any.
func (p *Player) endSessionLocked() *transcoder.Handle {
	s := p.sess
	if s == nil {
		return p.last
	}
	p.sess = nil
	if s.handle != nil {
		p.sup.Stop(s.handle)
	}
	s.close(p.logger)
	return p.last
}

func (p *Player) ensureTrackLocked() error {
	if p.track != nil || p.newTrack == nil {
		return nil
	}
	t, err := p.newTrack()
	if err != nil {
		return fmt.Errorf("create track: %w", err)
	}
	p.track = t
	p.relay.SetSink(t)
	return nil
}

// awaitExit waits for h to be gone, bounded by the handover timeout.
func (p *Player) awaitExit(ctx context.Context, h *transcoder.Handle) error {
	if h == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.HandoverTimeout)
	defer cancel()

	select {
	case <-h.Done():
		p.logger.Debug("previous transcoder exited", "generation", h.Generation, "exit", h.Status().Kind)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("previous transcoder still running: %w", ctx.Err())
	}
}

func (p *Player) setStateLocked(s State) {
	p.state = s
	stateGauge.Set(float64(s))
}

func (p *Player) emitLocked(e Event) {
	eventsTotal.WithLabelValues(string(e.Type)).Inc()

	p.qmtx.Lock()
	p.queue = append(p.queue, e)
	p.qmtx.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Player) dispatch() {
	defer close(p.dispatched)
	for {
		select {
		case <-p.notify:
			p.deliver()
		case <-p.quit:
			// Events queued before shutdown are still delivered.
			p.deliver()
			return
		}
	}
}

func (p *Player) deliver() {
	for {
		p.qmtx.Lock()
		batch := p.queue
		p.queue = nil
		p.qmtx.Unlock()

		if len(batch) == 0 {
			return
		}

		p.hmtx.RLock()
		handlers := append(([]func(Event))(nil), p.handlers...)
		p.hmtx.RUnlock()
		for _, e := range batch {
			for _, h := range handlers {
				h(e)
			}
		}
	}
}

func (p *Player) hooks() transcoder.Hooks {
	return transcoder.Hooks{
		OnLine:      p.tracker.Feed,
		OnInputDone: p.onInputDone,
		OnExit:      p.onExit,
	}
}

func (p *Player) onInputDone(gen uint64, err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if gen != p.gen || p.sess == nil || err != nil {
		return
	}
	p.sess.exhausted = true
}

func (p *Player) onExit(gen uint64, status transcoder.ExitStatus) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if gen != p.gen || p.state != Playing || p.sess == nil {
		return
	}

	switch status.Kind {
	case transcoder.ExitNatural:
		p.logger.Info("playback finished", "session", p.sess.id, "position", p.sess.position)
		p.finishLocked(true, nil)
	case transcoder.ExitAbnormal:
		p.logger.Error("transcoder crashed", "session", p.sess.id, "code", status.Code, "err", status.Err)
		p.finishLocked(false, fmt.Errorf("transcoder exited with code %d: %w", status.Code, status.Err))
	}
}

func (p *Player) onProgress(e progress.Event) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if e.Generation != p.gen || p.sess == nil || p.state != Playing {
		return
	}
	s := p.sess
	s.lastLine = time.Now()

	switch e.Kind {
	case progress.PositionUpdate:
		if pos := s.base + e.Position; pos > s.position {
			s.position = pos
			positionSeconds.Set(pos.Seconds())
		}
	case progress.DurationKnown:
		s.total = e.Duration
	case progress.QuietPeriodExpired:
		if !s.exhausted {
			p.logger.Debug("transcoder quiet, input not exhausted", "session", s.id, "position", s.position)
			return
		}
		if s.total > 0 && s.position+p.cfg.EndTolerance < s.total {
			// The duration is known and not reached; wait for the exit or more progress.
			p.logger.Debug("transcoder quiet before the end", "session", s.id, "position", s.position, "duration", s.total)
			return
		}
		p.logger.Info("playback finished, transcoder went quiet", "session", s.id, "position", s.position)
		p.finishLocked(true, nil)
	}
}

func (s *session) close(logger *slog.Logger) {
	if s.closer == nil {
		return
	}
	if err := s.closer.Close(); err != nil {
		logger.Warn("error closing source", "err", err)
	}
	s.closer = nil
}

func (p *Player) running(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (p *Player) stopping(_ error) error {
	p.logger.Info("stopping")
	p.Disconnect(false)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HandoverTimeout)
	defer cancel()
	err := p.WaitIdle(ctx)

	p.quitOnce.Do(func() { close(p.quit) })
	<-p.dispatched
	return err
}
