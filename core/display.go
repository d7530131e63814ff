/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package core

import (
	"net"

	"github.com/SSSOC-CAN/bdlog/drivers"
	"github.com/rs/zerolog"
)

// displaySink forwards routed records to a live display over UDP
type displaySink struct {
	conn   net.Conn
	logger *zerolog.Logger
}

// A compile time check to make sure that displaySink fully implements the drivers.Display interface
var _ drivers.Display = (*displaySink)(nil)

func newDisplaySink(addr string, logger *zerolog.Logger) (*displaySink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &displaySink{conn: conn, logger: logger}, nil
}

// Show sends one record. Failures are logged and otherwise ignored.
func (d *displaySink) Show(stream, record string) {
	if _, err := d.conn.Write([]byte(record + "\r\n")); err != nil {
		d.logger.Debug().Msgf("Could not send %s record to display: %v", stream, err)
	}
}

func (d *displaySink) Close() error {
	return d.conn.Close()
}
