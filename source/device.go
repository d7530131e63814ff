/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"golang.org/x/sys/unix"
)

// Preset is a character size, parity and stop bit combination
type Preset string

const (
	Preset8N1 Preset = "8N1"
	Preset7N1 Preset = "7N1"
	Preset7N2 Preset = "7N2"
	Preset7E1 Preset = "7E1"
	Preset7E2 Preset = "7E2"
	Preset7O1 Preset = "7O1"
	Preset7O2 Preset = "7O2"

	DefaultBaudRate = 9600
)

var presetModes = map[Preset]serial.Mode{
	Preset8N1: {DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
	Preset7N1: {DataBits: 7, Parity: serial.NoParity, StopBits: serial.OneStopBit},
	Preset7N2: {DataBits: 7, Parity: serial.NoParity, StopBits: serial.TwoStopBits},
	Preset7E1: {DataBits: 7, Parity: serial.EvenParity, StopBits: serial.OneStopBit},
	Preset7E2: {DataBits: 7, Parity: serial.EvenParity, StopBits: serial.TwoStopBits},
	Preset7O1: {DataBits: 7, Parity: serial.OddParity, StopBits: serial.OneStopBit},
	Preset7O2: {DataBits: 7, Parity: serial.OddParity, StopBits: serial.TwoStopBits},
}

// ParsePreset returns the preset named by s, falling back to 8N1
func ParsePreset(s string) Preset {
	p := Preset(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := presetModes[p]; ok {
		return p
	}
	return Preset8N1
}

// Mode returns the serial mode of the preset at the given baud rate
func (p Preset) Mode(baud int) *serial.Mode {
	m, ok := presetModes[p]
	if !ok {
		m = presetModes[Preset8N1]
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	m.BaudRate = baud
	return &m
}

// OpenFunc opens a configured device
type OpenFunc func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

// OpenSerial opens path as a serial port with mode
func OpenSerial(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	return serial.Open(path, mode)
}

type deviceID struct {
	rdev uint64
	ino  uint64
}

// DeviceEndpoint is a character device that is polled for until it appears
type DeviceEndpoint struct {
	Path         string
	BaudRate     int
	Preset       Preset
	PollInterval time.Duration
	Open         OpenFunc
	Logger       *zerolog.Logger
}

// A compile time check to make sure that DeviceEndpoint fully implements the Endpoint interface
var _ Endpoint = (*DeviceEndpoint)(nil)

func (d *DeviceEndpoint) String() string {
	return fmt.Sprintf("%s@%d/%s", d.Path, d.BaudRate, d.Preset)
}

// WaitForPresence blocks until the path is a readable character device. It never times out.
func (d *DeviceEndpoint) WaitForPresence(ctx context.Context) error {
	interval := d.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logged := false
	for {
		if _, ok := charDevice(d.Path); ok {
			return nil
		}
		if !logged && d.Logger != nil {
			d.Logger.Info().Msgf("Waiting for %s to appear", d.Path)
			logged = true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ConfigureAndOpen applies the line discipline and binds a read handle
func (d *DeviceEndpoint) ConfigureAndOpen(_ context.Context) (Stream, error) {
	id, ok := charDevice(d.Path)
	if !ok {
		return nil, e.Wrapf(errors.ErrSourceConfig, "%s vanished before it could be opened", d.Path)
	}
	open := d.Open
	if open == nil {
		open = OpenSerial
	}
	port, err := open(d.Path, d.Preset.Mode(d.BaudRate))
	if err != nil {
		return nil, e.Wrapf(errors.ErrSourceConfig, "%s: %v", d.Path, err)
	}
	return &deviceStream{
		port:   port,
		reader: bufio.NewReader(port),
		path:   d.Path,
		id:     id,
	}, nil
}

type deviceStream struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	path   string
	id     deviceID
	once   sync.Once
}

// ReadLine returns the next newline terminated record
func (s *deviceStream) ReadLine() (Line, error) {
	text, err := s.reader.ReadString('\n')
	if err != nil {
		return Line{}, e.Wrapf(errors.ErrSourceLost, "%s: %v", s.path, err)
	}
	return Line{Text: strings.TrimRight(text, "\r\n"), Received: time.Now()}, nil
}

// Reply writes text back to the device
func (s *deviceStream) Reply(_ Line, text string) error {
	_, err := io.WriteString(s.port, text+"\r\n")
	return err
}

// Close closes the port once
func (s *deviceStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.port.Close()
	})
	return err
}

// StillPresent reports whether the path still names the device that was opened
func (s *deviceStream) StillPresent() bool {
	id, ok := charDevice(s.path)
	return ok && id == s.id
}

// charDevice returns the identity of path if it is a readable character device
func charDevice(path string) (deviceID, bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return deviceID{}, false
	}
	if uint32(st.Mode)&unix.S_IFMT != unix.S_IFCHR {
		return deviceID{}, false
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return deviceID{}, false
	}
	return deviceID{rdev: uint64(st.Rdev), ino: uint64(st.Ino)}, true
}
