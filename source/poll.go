/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package source

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	NoResponse         = "NORESPONSE"
	DefaultPollCommand = "M"
	DefaultPollPeriod  = 10 * time.Second
	DefaultPollGrace   = 200 * time.Millisecond
	DefaultDialTimeout = 5 * time.Second
)

// PollEndpoint is a TCP instrument that only answers when polled. The poll loop runs
// independently of the reader; a read that outlasts the poll period plus the grace
// period yields NoResponse.
type PollEndpoint struct {
	Addr         string
	Command      string
	Period       time.Duration
	Grace        time.Duration
	PollInterval time.Duration
	Logger       *zerolog.Logger
	mu           sync.Mutex
	conn         net.Conn
}

// A compile time check to make sure that PollEndpoint fully implements the Endpoint interface
var _ Endpoint = (*PollEndpoint)(nil)

func (p *PollEndpoint) String() string {
	return "tcp://" + p.Addr
}

// WaitForPresence dials until the instrument accepts a connection
func (p *PollEndpoint) WaitForPresence(ctx context.Context) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	logged := false
	for {
		conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
		if err == nil {
			p.mu.Lock()
			p.conn = conn
			p.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !logged && p.Logger != nil {
			p.Logger.Info().Msgf("Waiting for %s: %v", p.Addr, err)
			logged = true
		}
		t := time.NewTimer(interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// ConfigureAndOpen starts polling over the connection made by WaitForPresence
func (p *PollEndpoint) ConfigureAndOpen(_ context.Context) (Stream, error) {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn == nil {
		return nil, e.Wrapf(errors.ErrSourceConfig, "%s is not connected", p.Addr)
	}
	period := p.Period
	if period <= 0 {
		period = DefaultPollPeriod
	}
	grace := p.Grace
	if grace <= 0 {
		grace = DefaultPollGrace
	}
	command := p.Command
	if command == "" {
		command = DefaultPollCommand
	}
	s := &pollStream{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		command: command,
		period:  period,
		timeout: period + grace,
		logger:  p.Logger,
		quit:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.poll()
	return s, nil
}

type pollStream struct {
	conn    net.Conn
	reader  *bufio.Reader
	command string
	period  time.Duration
	timeout time.Duration
	partial string
	logger  *zerolog.Logger
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func (s *pollStream) poll() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		if _, err := io.WriteString(s.conn, s.command+"\r\n"); err != nil {
			if s.logger != nil {
				s.logger.Debug().Msgf("Could not poll %v: %v", s.conn.RemoteAddr(), err)
			}
			return
		}
		select {
		case <-ticker.C:
		case <-s.quit:
			return
		}
	}
}

// ReadLine returns the next response, or NoResponse if none arrived in time
func (s *pollStream) ReadLine() (Line, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return Line{}, e.Wrapf(errors.ErrSourceLost, "%v", err)
	}
	text, err := s.reader.ReadString('\n')
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.partial += text
			return Line{Text: NoResponse, Peer: s.conn.RemoteAddr(), Received: time.Now()}, nil
		}
		return Line{}, e.Wrapf(errors.ErrSourceLost, "%v", err)
	}
	text = s.partial + text
	s.partial = ""
	return Line{Text: strings.TrimRight(text, "\r\n"), Peer: s.conn.RemoteAddr(), Received: time.Now()}, nil
}

// Reply writes text to the instrument
func (s *pollStream) Reply(_ Line, text string) error {
	_, err := io.WriteString(s.conn, text+"\r\n")
	return err
}

// Close stops polling and closes the connection once
func (s *pollStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
