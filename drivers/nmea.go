/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package drivers

import (
	"strings"

	"github.com/SSSOC-CAN/bdlog/checksum"
	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/router"
)

// NMEA logs every line from a serial instrument under the instrument's name. Lines
// carrying a checksum trailer must verify.
type NMEA struct {
	*Base
	Name            string
	RequireChecksum bool
}

// A compile time check to make sure that NMEA fully implements the Driver interface
var _ Driver = (*NMEA)(nil)

// Register binds the driver to every token
func (n *NMEA) Register(r *router.Router) {
	r.RegisterMatch(n.Name, func(string) bool { return true }, router.HandlerFunc(n.handle))
}

// Stream returns the configured stream for every token
func (n *NMEA) Stream(string) string {
	return strings.ToLower(n.Name)
}

func (n *NMEA) handle(s *router.Sentence) error {
	if strings.LastIndexByte(s.Raw, '*') > 0 {
		if !checksum.Verify(checksum.XOR, s.Raw) {
			return errors.ErrBadChecksum
		}
	} else if n.RequireChecksum {
		return errors.ErrBadChecksum
	}
	return n.Emit(s, n.Name, s.Raw)
}
