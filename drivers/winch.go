/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package drivers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/SSSOC-CAN/bdlog/checksum"
	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/router"
	e "github.com/pkg/errors"
)

const WinchStream = "winch"

var winchToken = regexp.MustCompile(`^\d{2}RD$`)

// Winch logs LCI-90 readout sentences of the form
// NNRD,<iso time>,<make>,<tension>,<speed>,<payout>,<checksum>
type Winch struct {
	*Base
}

// A compile time check to make sure that Winch fully implements the Driver interface
var _ Driver = (*Winch)(nil)

// Register binds every NNRD token
func (w *Winch) Register(r *router.Router) {
	r.RegisterMatch(WinchStream, winchToken.MatchString, router.HandlerFunc(w.handle))
}

// Stream returns WinchStream for every NNRD token
func (w *Winch) Stream(token string) string {
	if winchToken.MatchString(token) {
		return WinchStream
	}
	return ""
}

// WinchReading is one decoded readout
type WinchReading struct {
	ID      string
	Tension int
	Speed   float64
	Payout  float64
}

// Fields returns the record columns of the reading
func (r WinchReading) Fields() []string {
	return []string{
		r.ID,
		fmt.Sprintf("%07d", r.Tension),
		fmt.Sprintf("%06.1f", r.Speed),
		fmt.Sprintf("%07.1f", r.Payout),
	}
}

// ParseWinch decodes the fields of a verified readout
func ParseWinch(fields []string) (WinchReading, error) {
	if len(fields) < 7 {
		return WinchReading{}, e.Wrapf(errors.ErrMalformedSentence, "expected 7 winch fields, found %d", len(fields))
	}
	tension, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return WinchReading{}, e.Wrapf(errors.ErrMalformedSentence, "tension %q", fields[3])
	}
	speed, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return WinchReading{}, e.Wrapf(errors.ErrMalformedSentence, "speed %q", fields[4])
	}
	payout, err := strconv.ParseFloat(strings.TrimSpace(fields[5]), 64)
	if err != nil {
		return WinchReading{}, e.Wrapf(errors.ErrMalformedSentence, "payout %q", fields[5])
	}
	return WinchReading{
		ID:      strings.TrimSuffix(fields[0], "RD"),
		Tension: tension,
		Speed:   speed,
		Payout:  payout,
	}, nil
}

func (w *Winch) handle(s *router.Sentence) error {
	if !checksum.Verify(checksum.LCIAdditive, s.Raw) {
		return errors.ErrBadChecksum
	}
	reading, err := ParseWinch(s.Fields)
	if err != nil {
		return err
	}
	if err := w.Emit(s, WinchStream, reading.Fields()...); err != nil {
		return err
	}
	w.mirror(WinchStream,
		map[string]string{"winch": reading.ID},
		map[string]interface{}{"tension": reading.Tension, "speed": reading.Speed, "payout": reading.Payout},
		s.Time,
	)
	return nil
}
