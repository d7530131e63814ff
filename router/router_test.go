package router

import (
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// newTestRouter returns a router logging to stderr
func newTestRouter(opts ...Option) *Router {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return New(&log, opts...)
}

// TestSplit tests that empty fields are kept
func TestSplit(t *testing.T) {
	cases := []struct {
		in     string
		delims string
		want   []string
	}{
		{"$BDCID,cruise42*4F", CommandDelimiters, []string{"$BDCID", "cruise42", "4F"}},
		{"$BDLOG ALL,1*00", CommandDelimiters, []string{"$BDLOG", "ALL", "1", "00"}},
		{"!AIVDM,1,1,,A,x,0*5C", DefaultDelimiters, []string{"!AIVDM", "1", "1", "", "A", "x", "0", "5C"}},
		{"token", DefaultDelimiters, []string{"token"}},
	}
	for _, c := range cases {
		got := Split(c.in, c.delims)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Split(%q): expected %q, received %q", c.in, c.want, got)
		}
	}
}

// TestStrip tests that control characters are removed
func TestStrip(t *testing.T) {
	if got := Strip("\x00$GPGGA,1\r\n"); got != "$GPGGA,1" {
		t.Errorf("Unexpected strip result: %q", got)
	}
	if got := Strip("plain"); got != "plain" {
		t.Errorf("Unexpected strip result: %q", got)
	}
}

// TestDispatch tests handler routing, rejection and checksum failure accounting
func TestDispatch(t *testing.T) {
	var observed []Outcome
	var mu sync.Mutex
	r := newTestRouter(WithObserver(func(o Outcome, _ string) {
		mu.Lock()
		observed = append(observed, o)
		mu.Unlock()
	}))
	var got *Sentence
	r.Register("$BDCID", HandlerFunc(func(s *Sentence) error {
		got = s
		return nil
	}))
	r.Register("$BAD", HandlerFunc(func(s *Sentence) error {
		return e.Wrap(errors.ErrBadChecksum, "command")
	}))
	r.Register("$FAIL", HandlerFunc(func(s *Sentence) error {
		return errors.ErrMalformedSentence
	}))
	now := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	t.Run("matched", func(t *testing.T) {
		if err := r.Dispatch("$BDCID,cruise42*4F\r\n", now, nil); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got == nil || got.Token != "$BDCID" || got.Fields[1] != "cruise42" || got.Raw != "$BDCID,cruise42*4F" {
			t.Errorf("Unexpected sentence: %+v", got)
		}
		if got.Time.Year != 2023 || got.Time.DayOfYear != 60 {
			t.Errorf("Unexpected timestamp: %+v", got.Time)
		}
	})
	t.Run("unmatched", func(t *testing.T) {
		if err := r.Dispatch("$NOPE,1", now, nil); err != errors.ErrUnknownSentence {
			t.Errorf("Unexpected error: %v", err)
		}
	})
	t.Run("bad checksum", func(t *testing.T) {
		if err := r.Dispatch("$BAD,1*00", now, nil); e.Cause(err) != errors.ErrBadChecksum {
			t.Errorf("Unexpected error: %v", err)
		}
	})
	t.Run("handler failure", func(t *testing.T) {
		if err := r.Dispatch("$FAIL", now, nil); err != errors.ErrMalformedSentence {
			t.Errorf("Unexpected error: %v", err)
		}
	})
	t.Run("empty line", func(t *testing.T) {
		if err := r.Dispatch("\r\n", now, nil); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
	stats := r.Stats()
	want := Stats{Accepted: 1, Unknown: 1, BadChecksum: 1, Failed: 1}
	if stats != want {
		t.Errorf("Expected stats %+v, received %+v", want, stats)
	}
	if !reflect.DeepEqual(observed, []Outcome{Accepted, Unknown, BadChecksum, Failed}) {
		t.Errorf("Unexpected observed outcomes: %v", observed)
	}
}

// TestRegisterMatch tests pattern handlers and exact token precedence
func TestRegisterMatch(t *testing.T) {
	r := newTestRouter()
	var which string
	r.RegisterMatch("any-rd", func(tok string) bool { return len(tok) == 4 && tok[2:] == "RD" }, HandlerFunc(func(s *Sentence) error {
		which = "match"
		return nil
	}))
	r.Register("99RD", HandlerFunc(func(s *Sentence) error {
		which = "exact"
		return nil
	}))
	now := time.Now()
	_ = r.Dispatch("01RD,1,2", now, nil)
	if which != "match" {
		t.Errorf("Expected matcher, received %q", which)
	}
	_ = r.Dispatch("99RD,1,2", now, nil)
	if which != "exact" {
		t.Errorf("Expected exact handler, received %q", which)
	}
	if tok := r.Token("\x0201RD,1,2"); tok != "01RD" {
		t.Errorf("Unexpected token: %q", tok)
	}
}
