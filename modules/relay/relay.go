package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/grafana/dskit/services"
)

// Sink receives relayed packets. b is only valid for the duration of the
// call. A pion TrackLocalStaticRTP satisfies it.
type Sink interface {
	Write(b []byte) (int, error)
}

// Relay forwards every datagram received on its UDP port to the current
// Sink, unmodified. The port is bound once when the service starts and held
// until it stops; playback sessions share it.
type Relay struct {
	services.Service
	cfg    *Config
	logger *slog.Logger

	conn *net.UDPConn

	mtx  sync.RWMutex
	sink Sink
	port int
}

var module = "relay"

// New creates and returns a new Relay.
func New(cfg Config, logger slog.Logger) (*Relay, error) {
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = defaultMaxPacketSize
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	r := &Relay{
		cfg:    &cfg,
		logger: logger.With("module", module),
	}

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

// SetSink swaps the packet destination. A nil sink drops packets.
func (r *Relay) SetSink(s Sink) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.sink = s
}

func (r *Relay) Sink() Sink {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.sink
}

// Port returns the bound UDP port, or the configured one before binding.
// An ephemeral port (0) is only known once the relay is running.
func (r *Relay) Port() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if r.port != 0 {
		return r.port
	}
	return r.cfg.ListenPort
}

func (r *Relay) starting(_ context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(r.cfg.ListenAddress, strconv.Itoa(r.cfg.ListenPort)))
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		r.logger.Error("error binding relay port", "addr", addr, "err", err)
		return err
	}
	r.conn = conn

	r.mtx.Lock()
	r.port = conn.LocalAddr().(*net.UDPAddr).Port
	r.mtx.Unlock()

	r.logger.Info("relay listening", "addr", conn.LocalAddr())

	return nil
}

func (r *Relay) running(ctx context.Context) error {
	readDone := make(chan error, 1)
	go func() {
		readDone <- r.readLoop()
	}()

	select {
	case <-ctx.Done():
		// Closing the socket unblocks the read loop.
		_ = r.conn.Close()
		<-readDone
		return nil
	case err := <-readDone:
		return err
	}
}

func (r *Relay) readLoop() error {
	buf := make([]byte, r.cfg.MaxPacketSize)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Error("error reading packet", "err", err)
			return err
		}
		r.forward(buf[:n], from)
	}
}

func (r *Relay) forward(packet []byte, from *net.UDPAddr) {
	if r.cfg.LogPackets {
		r.logger.Debug("received packet", "bytes", len(packet), "from", from)
	}

	sink := r.Sink()
	if sink == nil {
		droppedPackets.Inc()
		return
	}

	if _, err := sink.Write(packet); err != nil {
		sinkErrors.Inc()
		r.logger.Warn("sink rejected packet", "bytes", len(packet), "err", err)
		return
	}
	packetsTotal.Inc()
	bytesTotal.Add(float64(len(packet)))
}

func (r *Relay) stopping(_ error) error {
	r.logger.Info("stopping")

	if r.conn != nil {
		if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}
