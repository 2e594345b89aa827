// Package panel implements PanelLink: the reconnecting TLS client that
// speaks the panel's line-oriented JSON protocol.
package panel

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/qolsysgw/panelgw/internal/errs"
)

// State is a PanelLink lifecycle state.
type State int

const (
	StateIdle State = iota
	StateDialing
	StateHandshaking
	StateConnected
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// KeepAliveFunc builds the outbound frame sent as a liveness probe and
// immediately after every (re)connect.
type KeepAliveFunc func() ([]byte, error)

// Config holds PanelLink's connection and timing parameters.
type Config struct {
	Host string
	Port int

	TLSConfig *tls.Config

	ConnectTimeout    time.Duration // default 15s
	KeepAliveInterval time.Duration // default 240s
	DeadMan           time.Duration // default 360s
	DrainTimeout      time.Duration // default 2s
	MaxFrameSize      int           // default 1 MiB
	SendBufferSize    int           // default 16

	Backoff BackoffSchedule
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 240 * time.Second
	}
	if c.DeadMan == 0 {
		c.DeadMan = 360 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 2 * time.Second
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 1 << 20
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = 16
	}
	if c.Backoff == (BackoffSchedule{}) {
		c.Backoff = DefaultBackoffSchedule()
	}
}

// PanelLink owns the single TLS connection to the panel. Callers read
// decoded-free raw frames from Inbound and enqueue raw outbound frames
// with Send; reconnection is entirely hidden behind Run.
type PanelLink struct {
	cfg       Config
	keepAlive KeepAliveFunc
	logger    *slog.Logger

	inbound chan []byte

	sendMu    sync.Mutex
	sendQueue [][]byte
	sendReady chan struct{}

	dropped             counter
	consecutiveFailures counter
	state               stateBox
}

// New creates a PanelLink. keepAlive builds the INFO-request frame sent
// on connect and on every keep-alive interval of outbound quiescence.
func New(cfg Config, keepAlive KeepAliveFunc, logger *slog.Logger) *PanelLink {
	cfg.applyDefaults()
	return &PanelLink{
		cfg:       cfg,
		keepAlive: keepAlive,
		logger:    logger,
		inbound:   make(chan []byte, 64),
		sendReady: make(chan struct{}, 1),
	}
}

// Inbound returns the stream of raw frames read from the panel. Single
// consumer expected.
func (l *PanelLink) Inbound() <-chan []byte { return l.inbound }

// DroppedCount returns the number of outbound frames dropped because
// the send buffer was full while the link was down.
func (l *PanelLink) DroppedCount() int64 { return l.dropped.get() }

// ConsecutiveFailureCount returns the number of connection attempts
// that have failed since the link last reached StateConnected.
func (l *PanelLink) ConsecutiveFailureCount() int64 { return l.consecutiveFailures.get() }

// State returns the link's current lifecycle state.
func (l *PanelLink) State() State { return l.state.get() }

// Send enqueues an outbound frame. If the buffer is full, the oldest
// queued frame is dropped and the drop counter incremented. Never
// blocks.
func (l *PanelLink) Send(frame []byte) {
	l.sendMu.Lock()
	l.sendQueue = append(l.sendQueue, frame)
	if len(l.sendQueue) > l.cfg.SendBufferSize {
		l.sendQueue = l.sendQueue[1:]
		l.dropped.add(1)
	}
	l.sendMu.Unlock()

	select {
	case l.sendReady <- struct{}{}:
	default:
	}
}

func (l *PanelLink) popSend() ([]byte, bool) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if len(l.sendQueue) == 0 {
		return nil, false
	}
	f := l.sendQueue[0]
	l.sendQueue = l.sendQueue[1:]
	return f, true
}

// Run drives the connect/listen/keepalive loop until ctx is cancelled.
// Never returns until cancellation; failures trigger backoff and retry.
func (l *PanelLink) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			l.state.set(StateIdle)
			return ctx.Err()
		}

		connectedAt, err := l.runOnce(ctx)
		if err != nil && ctx.Err() == nil {
			l.consecutiveFailures.add(1)
			l.logger.Warn("panel link error, will reconnect", "error", err, "consecutive_failures", l.consecutiveFailures.get())
		}
		if ctx.Err() != nil {
			l.state.set(StateIdle)
			return ctx.Err()
		}

		if !connectedAt.IsZero() && time.Since(connectedAt) >= 30*time.Second {
			attempt = 0
		}

		delay := l.cfg.Backoff.Next(attempt)
		attempt++
		l.logger.Info("panel link backing off", "delay", delay, "attempt", attempt)
		l.state.set(StateIdle)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce dials, handshakes, and services one connection until it
// fails or ctx is cancelled. It returns the time the connection reached
// StateConnected (zero if it never did) and the error that ended it.
func (l *PanelLink) runOnce(ctx context.Context) (time.Time, error) {
	l.state.set(StateDialing)

	dialCtx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()

	l.state.set(StateHandshaking)
	dialer := tls.Dialer{NetDialer: &net.Dialer{}, Config: l.cfg.TLSConfig}
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return time.Time{}, errs.NewTransientLinkError("dial", err)
	}
	defer conn.Close()

	l.state.set(StateConnected)
	l.consecutiveFailures.reset()
	connectedAt := time.Now()
	l.logger.Info("panel link connected", "addr", addr)

	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	if frame, err := l.keepAlive(); err == nil {
		l.Send(frame)
	} else {
		l.logger.Warn("panel link: building initial INFO request failed", "error", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- l.readLoop(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- l.writeLoop(connCtx, conn)
	}()

	var firstErr error
	select {
	case firstErr = <-errCh:
	case <-ctx.Done():
		firstErr = ctx.Err()
	}
	connCancel()
	_ = conn.SetDeadline(time.Now().Add(l.cfg.DrainTimeout))

	l.state.set(StateDraining)
	wg.Wait()

	if ctx.Err() != nil {
		return connectedAt, ctx.Err()
	}
	return connectedAt, firstErr
}

func (l *PanelLink) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := newFrameScanner(bufio.NewReaderSize(conn, 4096), l.cfg.MaxFrameSize)
	deadman := time.NewTimer(l.cfg.DeadMan)
	defer deadman.Stop()

	// bufio.Scanner.Scan() has no context support; a watcher goroutine
	// closes the connection on cancellation or dead-man expiry to
	// unblock it.
	frames := make(chan []byte)
	scanErrCh := make(chan error, 1)
	scanDone := make(chan struct{})
	defer close(scanDone)
	go func() {
		for scanner.Scan() {
			line := scanner.Bytes()
			cp := make([]byte, len(line))
			copy(cp, line)
			select {
			case frames <- cp:
			case <-scanDone:
				return
			}
		}
		scanErrCh <- scanErr(scanner)
		close(frames)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-deadman.C:
			conn.Close()
			return errs.NewTransientLinkError("deadman", fmt.Errorf("no frame received for %s", l.cfg.DeadMan))
		case line, ok := <-frames:
			if !ok {
				if err := <-scanErrCh; err != nil {
					return errs.NewTransientLinkError("read", err)
				}
				return errs.NewTransientLinkError("read", fmt.Errorf("connection closed"))
			}
			if !deadman.Stop() {
				select {
				case <-deadman.C:
				default:
				}
			}
			deadman.Reset(l.cfg.DeadMan)

			if len(line) == 0 {
				continue
			}
			select {
			case l.inbound <- line:
			case <-ctx.Done():
				conn.Close()
				return ctx.Err()
			}
		}
	}
}

func (l *PanelLink) writeLoop(ctx context.Context, conn net.Conn) error {
	keepalive := time.NewTimer(l.cfg.KeepAliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.sendReady:
			for {
				frame, ok := l.popSend()
				if !ok {
					break
				}
				if err := writeFrame(conn, frame); err != nil {
					return errs.NewTransientLinkError("write", err)
				}
				resetTimer(keepalive, l.cfg.KeepAliveInterval)
			}
		case <-keepalive.C:
			frame, err := l.keepAlive()
			if err != nil {
				l.logger.Warn("panel link: building keepalive frame failed", "error", err)
				resetTimer(keepalive, l.cfg.KeepAliveInterval)
				continue
			}
			if err := writeFrame(conn, frame); err != nil {
				return errs.NewTransientLinkError("write", err)
			}
			resetTimer(keepalive, l.cfg.KeepAliveInterval)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func writeFrame(conn net.Conn, frame []byte) error {
	if _, err := conn.Write(frame); err != nil {
		return err
	}
	_, err := conn.Write([]byte("\n"))
	return err
}

// counter and stateBox are tiny atomic wrappers kept local to this
// package so PanelLink's exported surface stays free of sync types.
type counter struct {
	mu sync.Mutex
	n  int64
}

func (c *counter) add(delta int64) {
	c.mu.Lock()
	c.n += delta
	c.mu.Unlock()
}

func (c *counter) get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *counter) reset() {
	c.mu.Lock()
	c.n = 0
	c.mu.Unlock()
}

type stateBox struct {
	mu sync.Mutex
	s  State
}

func (b *stateBox) set(s State) {
	b.mu.Lock()
	b.s = s
	b.mu.Unlock()
}

func (b *stateBox) get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}
