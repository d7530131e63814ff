/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package source implements the connection lifecycle of a line source that may vanish and
// return: a serial device node, a UDP socket or a polled TCP instrument.
package source

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the presence polling cadence
const DefaultPollInterval = time.Second

// State is the lifecycle state of a Connection
type State int32

const (
	Absent State = iota
	Connecting
	Connected
	Lost
)

func (s State) String() string {
	switch s {
	case Absent:
		return "ABSENT"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Lost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

type (
	// Line is one newline delimited record read from a source. Reply is set by the
	// Connection and answers on the stream the line arrived on.
	Line struct {
		Text     string
		Peer     net.Addr
		Received time.Time
		Reply    func(text string) error
	}

	// Stream is an open source. ReadLine blocks and returns an error once the source is
	// gone. Close must be safe to call more than once.
	Stream interface {
		ReadLine() (Line, error)
		Reply(to Line, text string) error
		Close() error
	}

	// Endpoint knows how to find and open a source
	Endpoint interface {
		String() string
		WaitForPresence(ctx context.Context) error
		ConfigureAndOpen(ctx context.Context) (Stream, error)
	}

	// Watched streams can tell whether the underlying source is still the one they opened
	Watched interface {
		StillPresent() bool
	}

	// Connection drives an Endpoint through ABSENT, CONNECTING, CONNECTED and LOST until
	// its context is cancelled.
	Connection struct {
		state        int32 // atomically
		endpoint     Endpoint
		logger       *zerolog.Logger
		pollInterval time.Duration
		onState      func(State)
	}

	ConnectionOption func(*Connection)
)

// WithPollInterval overrides the presence polling cadence
func WithPollInterval(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.pollInterval = d
	}
}

// WithStateHook registers a callback invoked on every state transition
func WithStateHook(f func(State)) ConnectionOption {
	return func(c *Connection) {
		c.onState = f
	}
}

// NewConnection creates a Connection for endpoint
func NewConnection(endpoint Endpoint, logger *zerolog.Logger, opts ...ConnectionOption) *Connection {
	c := &Connection{
		endpoint:     endpoint,
		logger:       logger,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state
func (c *Connection) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Ping satisfies the health.Pinger interface. It fails unless the source is connected
func (c *Connection) Ping(_ context.Context) error {
	if c.State() != Connected {
		return e.Wrapf(errors.ErrSourceLost, "%s is %v", c.endpoint, c.State())
	}
	return nil
}

func (c *Connection) setState(s State) {
	old := State(atomic.SwapInt32(&c.state, int32(s)))
	if old != s {
		c.logger.Debug().Msgf("%s: %v -> %v", c.endpoint, old, s)
	}
	if c.onState != nil {
		c.onState(s)
	}
}

// Run cycles through the connection lifecycle, passing every line to handle. It returns
// nil when ctx is cancelled and an error only for unrecoverable endpoint failures.
func (c *Connection) Run(ctx context.Context, handle func(Line)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(Absent)
		if err := c.endpoint.WaitForPresence(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.setState(Connecting)
		stream, err := c.endpoint.ConfigureAndOpen(ctx)
		if err != nil {
			if e.Cause(err) == errors.ErrFatalSource {
				c.logger.Error().Msgf("Could not open %s: %v", c.endpoint, err)
				return err
			}
			c.logger.Error().Msgf("Could not configure %s: %v", c.endpoint, err)
			if !c.pause(ctx) {
				return nil
			}
			continue
		}
		c.setState(Connected)
		c.logger.Info().Msgf("Connected to %s", c.endpoint)
		c.serve(ctx, stream, handle)
		if ctx.Err() != nil {
			return nil
		}
		c.setState(Lost)
		c.logger.Warn().Msgf("Lost %s, waiting for it to return", c.endpoint)
		if !c.pause(ctx) {
			return nil
		}
	}
}

// serve reads until the stream fails or ctx is cancelled. The stream is always closed.
func (c *Connection) serve(ctx context.Context, stream Stream, handle func(Line)) {
	done := make(chan struct{})
	defer close(done)
	defer stream.Close()
	go func() {
		select {
		case <-ctx.Done():
			stream.Close()
		case <-done:
		}
	}()
	if w, ok := stream.(Watched); ok {
		go c.watch(w, stream, done)
	}
	for {
		line, err := stream.ReadLine()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug().Msgf("Read from %s failed: %v", c.endpoint, err)
			}
			return
		}
		line.Reply = func(text string) error {
			return stream.Reply(line, text)
		}
		handle(line)
	}
}

func (c *Connection) watch(w Watched, stream Stream, done chan struct{}) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !w.StillPresent() {
				c.logger.Warn().Msgf("%s is no longer present", c.endpoint)
				stream.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Connection) pause(ctx context.Context) bool {
	t := time.NewTimer(c.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
