/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package errors holds the error values shared by every bdlog subsystem
package errors

import (
	bg "github.com/SSSOCPaulCote/blunderguard"
)

const (
	ErrInvalidType           = bg.Error("invalid type")
	ErrInvalidAction         = bg.Error("invalid action")
	ErrServiceAlreadyStarted = bg.Error("service already started")
	ErrServiceAlreadyStopped = bg.Error("service already stopped")
	ErrBadChecksum           = bg.Error("bad checksum")
	ErrUnknownSentence       = bg.Error("unrecognized sentence")
	ErrMalformedSentence     = bg.Error("malformed sentence")
	ErrImplausibleClock      = bg.Error("system clock is earlier than installation year")
	ErrSourceLost            = bg.Error("source lost")
	ErrSourceConfig          = bg.Error("could not configure source")
	ErrFatalSource           = bg.Error("unrecoverable source failure")
	ErrWriteTimeout          = bg.Error("output resource never became ready")
	ErrLoggingDisabled       = bg.Error("logging is disabled")
)
