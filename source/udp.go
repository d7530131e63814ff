/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package source

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	e "github.com/pkg/errors"
)

const maxDatagramSize = 65535

// UDPEndpoint is a receive socket bound once. It is always present and a bind failure
// cannot be recovered from.
type UDPEndpoint struct {
	Addr  string
	mu    sync.Mutex
	bound net.Addr
}

// A compile time check to make sure that UDPEndpoint fully implements the Endpoint interface
var _ Endpoint = (*UDPEndpoint)(nil)

func (u *UDPEndpoint) String() string {
	return "udp://" + u.Addr
}

// WaitForPresence returns immediately
func (u *UDPEndpoint) WaitForPresence(ctx context.Context) error {
	return ctx.Err()
}

// ConfigureAndOpen binds the socket
func (u *UDPEndpoint) ConfigureAndOpen(_ context.Context) (Stream, error) {
	conn, err := net.ListenPacket("udp", u.Addr)
	if err != nil {
		return nil, e.Wrapf(errors.ErrFatalSource, "could not bind %s: %v", u.Addr, err)
	}
	u.mu.Lock()
	u.bound = conn.LocalAddr()
	u.mu.Unlock()
	return &udpStream{conn: conn, buf: make([]byte, maxDatagramSize)}, nil
}

// Bound returns the local address of the most recently bound socket
func (u *UDPEndpoint) Bound() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bound
}

type udpStream struct {
	conn    net.PacketConn
	buf     []byte
	pending []Line
	once    sync.Once
}

// ReadLine returns the next line. A datagram may carry several lines.
func (s *udpStream) ReadLine() (Line, error) {
	for len(s.pending) == 0 {
		n, peer, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			return Line{}, e.Wrapf(errors.ErrSourceLost, "%v", err)
		}
		now := time.Now()
		for _, text := range strings.Split(string(s.buf[:n]), "\n") {
			text = strings.TrimRight(text, "\r")
			if text == "" {
				continue
			}
			s.pending = append(s.pending, Line{Text: text, Peer: peer, Received: now})
		}
	}
	l := s.pending[0]
	s.pending = s.pending[1:]
	return l, nil
}

// Reply sends text to the sender of to
func (s *udpStream) Reply(to Line, text string) error {
	if to.Peer == nil {
		return e.New("no peer to reply to")
	}
	_, err := s.conn.WriteTo([]byte(text+"\r\n"), to.Peer)
	return err
}

// Close closes the socket once
func (s *udpStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}
