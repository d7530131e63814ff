/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package drivers

import (
	"github.com/SSSOC-CAN/bdlog/checksum"
	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/router"
)

const AISStream = "ais"

// AISTokens are the encapsulated AIS sentence types that are logged
var AISTokens = []string{"!AIVDM", "!AIVDO", "!BSVDM", "!ABVDM"}

// AIS logs encapsulated AIS sentences verbatim
type AIS struct {
	*Base
}

// A compile time check to make sure that AIS fully implements the Driver interface
var _ Driver = (*AIS)(nil)

// Register binds every AIS token
func (a *AIS) Register(r *router.Router) {
	for _, t := range AISTokens {
		r.Register(t, router.HandlerFunc(a.handle))
	}
}

// Stream returns AISStream for every AIS token
func (a *AIS) Stream(token string) string {
	for _, t := range AISTokens {
		if t == token {
			return AISStream
		}
	}
	return ""
}

func (a *AIS) handle(s *router.Sentence) error {
	if !checksum.Verify(checksum.XOR, s.Raw) {
		return errors.ErrBadChecksum
	}
	return a.Emit(s, AISStream, s.Raw)
}
