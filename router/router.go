/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package router classifies raw sentences by their leading token and dispatches them to
// registered handlers.
package router

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/sentence"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultDelimiters = ",*"
	CommandDelimiters = ", *"
)

// Outcome is the result of dispatching one sentence
type Outcome int

const (
	Accepted Outcome = iota
	Unknown
	BadChecksum
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Unknown:
		return "unknown"
	case BadChecksum:
		return "bad_checksum"
	default:
		return "failed"
	}
}

type (
	// ReplyFunc transmits a reply on the transport the sentence arrived on
	ReplyFunc func(string) error

	// Sentence is one classified line. It only lives for a single handler call.
	Sentence struct {
		Raw    string
		Fields []string
		Token  string
		Time   sentence.Timestamp
		Reply  ReplyFunc
	}

	// Handler processes a classified sentence. Returning errors.ErrBadChecksum marks the
	// sentence as corrupted.
	Handler interface {
		Handle(*Sentence) error
	}

	HandlerFunc func(*Sentence) error

	// Observer is notified of every dispatch outcome
	Observer func(outcome Outcome, token string)

	Stats struct {
		Accepted    uint64
		Unknown     uint64
		BadChecksum uint64
		Failed      uint64
	}

	matcher struct {
		name    string
		match   func(string) bool
		handler Handler
	}

	Router struct {
		accepted    uint64 // atomic
		unknown     uint64 // atomic
		badChecksum uint64 // atomic
		failed      uint64 // atomic
		logger      *zerolog.Logger
		delimiters  string
		observer    Observer
		mu          sync.RWMutex
		handlers    map[string]Handler
		matchers    []matcher
	}

	Option func(*Router)
)

// Handle satisfies the Handler interface
func (f HandlerFunc) Handle(s *Sentence) error {
	return f(s)
}

// WithDelimiters sets the field delimiter set
func WithDelimiters(d string) Option {
	return func(r *Router) {
		r.delimiters = d
	}
}

// WithObserver registers a callback for dispatch outcomes
func WithObserver(o Observer) Option {
	return func(r *Router) {
		r.observer = o
	}
}

// New creates a Router with no registered handlers
func New(logger *zerolog.Logger, opts ...Option) *Router {
	r := &Router{
		logger:     logger,
		delimiters: DefaultDelimiters,
		handlers:   make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a handler to an exact, case-sensitive leading token
func (r *Router) Register(token string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[token] = h
}

// RegisterMatch binds a handler to every token accepted by match. Exact registrations
// take precedence; matchers are tried in registration order.
func (r *Router) RegisterMatch(name string, match func(string) bool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matchers = append(r.matchers, matcher{name: name, match: match, handler: h})
}

// Token returns the leading token of raw after stripping control characters
func (r *Router) Token(raw string) string {
	clean := Strip(raw)
	if i := strings.IndexAny(clean, r.delimiters); i >= 0 {
		return clean[:i]
	}
	return clean
}

// Dispatch strips, splits and classifies raw and invokes the matching handler. Rejections
// are logged and counted, never fatal.
func (r *Router) Dispatch(raw string, received time.Time, reply ReplyFunc) error {
	clean := Strip(raw)
	if clean == "" {
		return nil
	}
	fields := Split(clean, r.delimiters)
	s := &Sentence{
		Raw:    clean,
		Fields: fields,
		Token:  fields[0],
		Time:   sentence.FromTime(received),
		Reply:  reply,
	}
	h := r.lookup(s.Token)
	if h == nil {
		r.record(Unknown, s.Token)
		r.logger.Debug().Str("sentence", clean).Msg("Rejected unrecognized sentence")
		return errors.ErrUnknownSentence
	}
	err := h.Handle(s)
	switch {
	case err == nil:
		r.record(Accepted, s.Token)
	case e.Cause(err) == errors.ErrBadChecksum:
		r.record(BadChecksum, s.Token)
		r.logger.Warn().Str("sentence", clean).Msg("bad checksum")
	default:
		r.record(Failed, s.Token)
		r.logger.Error().Str("sentence", clean).Msgf("Could not handle sentence: %v", err)
	}
	return err
}

// Stats returns a snapshot of the dispatch counters
func (r *Router) Stats() Stats {
	return Stats{
		Accepted:    atomic.LoadUint64(&r.accepted),
		Unknown:     atomic.LoadUint64(&r.unknown),
		BadChecksum: atomic.LoadUint64(&r.badChecksum),
		Failed:      atomic.LoadUint64(&r.failed),
	}
}

func (r *Router) lookup(token string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[token]; ok {
		return h
	}
	for _, m := range r.matchers {
		if m.match(token) {
			return m.handler
		}
	}
	return nil
}

func (r *Router) record(o Outcome, token string) {
	switch o {
	case Accepted:
		atomic.AddUint64(&r.accepted, 1)
	case Unknown:
		atomic.AddUint64(&r.unknown, 1)
	case BadChecksum:
		atomic.AddUint64(&r.badChecksum, 1)
	default:
		atomic.AddUint64(&r.failed, 1)
	}
	if r.observer != nil {
		r.observer(o, token)
	}
}

// Strip removes every byte outside printable ASCII
func Strip(raw string) string {
	clean := true
	for i := 0; i < len(raw); i++ {
		if raw[i] < 0x20 || raw[i] > 0x7e {
			clean = false
			break
		}
	}
	if clean {
		return raw
	}
	b := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= 0x20 && raw[i] <= 0x7e {
			b = append(b, raw[i])
		}
	}
	return string(b)
}

// Split splits s at every byte in delimiters, keeping empty fields
func Split(s, delimiters string) []string {
	fields := make([]string, 0, 8)
	start := 0
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(delimiters, s[i]) >= 0 {
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	return append(fields, s[start:])
}
