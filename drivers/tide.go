/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package drivers

import (
	"strconv"
	"strings"

	"github.com/SSSOC-CAN/bdlog/checksum"
	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/router"
	"github.com/SSSOC-CAN/bdlog/source"
)

const TideStream = "tide"

// Tide logs polled tide gauge responses, including the NORESPONSE sentinel
type Tide struct {
	*Base
}

// A compile time check to make sure that Tide fully implements the Driver interface
var _ Driver = (*Tide)(nil)

// Register binds the driver to every token of the poll stream
func (d *Tide) Register(r *router.Router) {
	r.RegisterMatch(TideStream, func(string) bool { return true }, router.HandlerFunc(d.handle))
}

// Stream returns TideStream for every token
func (d *Tide) Stream(string) string {
	return TideStream
}

func (d *Tide) handle(s *router.Sentence) error {
	value := strings.TrimSpace(s.Raw)
	if strings.HasPrefix(value, "$") && strings.LastIndexByte(value, '*') > 0 {
		if !checksum.Verify(checksum.XOR, value) {
			return errors.ErrBadChecksum
		}
	}
	if err := d.Emit(s, TideStream, value); err != nil {
		return err
	}
	if value == source.NoResponse {
		return nil
	}
	if level, err := strconv.ParseFloat(value, 64); err == nil {
		d.mirror(TideStream, nil, map[string]interface{}{"level": level}, s.Time)
	}
	return nil
}
