/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package main

import (
	"context"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/SSSOC-CAN/bdlog/command"
	e "github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Sender transmits command sentences to a daemon, or every daemon on a subnet, and collects status replies
type Sender struct {
	Addr      string
	Broadcast bool
	Timeout   time.Duration
}

// listen opens the local socket, with SO_BROADCAST set when requested
func (s *Sender) listen(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{}
	if s.Broadcast {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}
	return lc.ListenPacket(ctx, "udp4", ":0")
}

// Send builds the sentence and transmits it once
func (s *Sender) Send(ctx context.Context, token string, fields ...string) error {
	_, err := s.exchange(ctx, false, token, fields...)
	return err
}

// Query transmits a status query and returns every valid reply received before the timeout
func (s *Sender) Query(ctx context.Context, fields ...string) ([]command.Status, error) {
	return s.exchange(ctx, true, command.StatusToken, fields...)
}

func (s *Sender) exchange(ctx context.Context, wait bool, token string, fields ...string) ([]command.Status, error) {
	raw, err := command.Build(token, fields...)
	if err != nil {
		return nil, err
	}
	addr, err := net.ResolveUDPAddr("udp4", s.Addr)
	if err != nil {
		return nil, e.Wrapf(err, "could not resolve %s", s.Addr)
	}
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, e.Wrap(err, "could not open socket")
	}
	defer conn.Close()
	if _, err := conn.WriteTo([]byte(raw+"\r\n"), addr); err != nil {
		return nil, e.Wrapf(err, "could not send to %s", s.Addr)
	}
	if !wait {
		return nil, nil
	}
	deadline := time.Now().Add(s.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	var replies []command.Status
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return replies, nil
			}
			return replies, err
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, command.StatusReplyToken) {
				continue
			}
			status, err := command.ParseStatus(line)
			if err != nil {
				continue
			}
			replies = append(replies, status)
		}
		// a unicast query has only one daemon to answer
		if !s.Broadcast && len(replies) > 0 {
			return replies, nil
		}
	}
}
