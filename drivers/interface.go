/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package drivers holds the per-instrument sentence handlers that turn verified sentences
// into log records.
package drivers

import (
	"strings"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/output"
	"github.com/SSSOC-CAN/bdlog/router"
	"github.com/SSSOC-CAN/bdlog/sentence"
	"github.com/SSSOC-CAN/bdlog/state"
	"github.com/rs/zerolog"
)

// DisplayAll routes every stream to the display
const DisplayAll = "ALL"

type (
	// RecordWriter appends a record to the output resource of a key
	RecordWriter interface {
		Write(k output.Key, record string) error
	}

	// Display receives records of the stream currently routed to it
	Display interface {
		Show(stream, record string)
	}

	// Mirror receives numeric readings for a time series database
	Mirror interface {
		Mirror(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time)
	}

	// Driver registers its handlers with a router. Stream names the output stream a
	// leading token is written to, or "" when the driver does not handle the token.
	Driver interface {
		Register(r *router.Router)
		Stream(token string) string
	}
)

// Base is what every driver needs to emit a record
type Base struct {
	Session     *state.Store
	Output      RecordWriter
	Display     Display
	Mirror      Mirror
	InstallYear int
	Logger      *zerolog.Logger
}

// Emit formats a record for stream and writes it under the current dataset. Sentences with
// an implausible clock are rejected and nothing is written while logging is disabled.
func (b *Base) Emit(s *router.Sentence, stream string, fields ...string) error {
	installYear := b.InstallYear
	if installYear == 0 {
		installYear = sentence.DefaultInstallYear
	}
	if !s.Time.Plausible(installYear) {
		return errors.ErrImplausibleClock
	}
	stream = strings.ToLower(stream)
	snap := b.Session.Snapshot()
	record := sentence.Record(s.Time, stream, fields...)
	if b.Display != nil && (strings.EqualFold(snap.Display, stream) || strings.EqualFold(snap.Display, DisplayAll)) {
		b.Display.Show(stream, record)
	}
	if !snap.Logging {
		return nil
	}
	return b.Output.Write(output.Key{Dataset: snap.Dataset, Stream: stream, Day: s.Time.DayOfYear}, record)
}

// mirror forwards a reading when a Mirror is configured
func (b *Base) mirror(measurement string, tags map[string]string, fields map[string]interface{}, ts sentence.Timestamp) {
	if b.Mirror == nil {
		return
	}
	b.Mirror.Mirror(measurement, tags, fields, ts.Time())
}
