/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package command implements the in-band control sentences that mutate the session of a
// running daemon. Every handler verifies the XOR checksum before doing anything else.
package command

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/SSSOC-CAN/bdlog/checksum"
	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/router"
	"github.com/SSSOC-CAN/bdlog/state"
	"github.com/SSSOC-CAN/bdlog/utils"
	bg "github.com/SSSOCPaulCote/blunderguard"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Leading tokens. These spellings are shared with peer instances and must not change.
const (
	SetDatasetToken  = "$BDCID"
	SetLoggingToken  = "$BDLOG"
	RebootToken      = "$BDRBT"
	ShutdownToken    = "$BDSHD"
	DisplayToken     = "$BDDSP"
	StatusToken      = "$BDSTS"
	StatusReplyToken = "$BDACK"

	Broadcast  = "ALL"
	Logging    = "LOGGING"
	NotLogging = "NOTLOGGING"

	ErrNoActions  = bg.Error("no system actions configured")
	ErrBadFlag    = bg.Error("logging flag must be 1/0, ON/OFF or START/STOP")
	ErrNotAStatus = bg.Error("sentence is not a status reply")
)

// SystemActions are the process level effects a command may trigger. A successful call
// is not expected to return.
type SystemActions interface {
	Reboot() error
	Shutdown() error
}

// ExecActions invokes the system shutdown binary
type ExecActions struct {
	Binary string
}

// A compile time check to make sure that ExecActions fully implements the SystemActions interface
var _ SystemActions = (*ExecActions)(nil)

func (a *ExecActions) run(flag string) error {
	bin := a.Binary
	if bin == "" {
		bin = "shutdown"
	}
	out, err := exec.Command(bin, flag, "now").CombinedOutput()
	if err != nil {
		return e.Wrapf(err, "%s %s now: %s", bin, flag, strings.TrimSpace(string(out)))
	}
	return nil
}

// Reboot runs shutdown -r now
func (a *ExecActions) Reboot() error {
	return a.run("-r")
}

// Shutdown runs shutdown -h now
func (a *ExecActions) Shutdown() error {
	return a.run("-h")
}

// Protocol holds what the command handlers need to act on this instance
type Protocol struct {
	identity string
	store    *state.Store
	actions  SystemActions
	diskPath string
	address  func() string
	logger   *zerolog.Logger
}

// NewProtocol creates a Protocol. An empty identity defaults to the short hostname and
// diskPath is the filesystem whose usage is reported in status replies.
func NewProtocol(identity string, store *state.Store, actions SystemActions, diskPath string, logger *zerolog.Logger) *Protocol {
	if identity == "" {
		identity = utils.ShortHostname()
	}
	return &Protocol{
		identity: identity,
		store:    store,
		actions:  actions,
		diskPath: diskPath,
		address:  utils.HostAddress,
		logger:   logger,
	}
}

// Identity returns the name this instance answers to
func (p *Protocol) Identity() string {
	return p.identity
}

// Register binds every command token to r. r should split on router.CommandDelimiters.
func (p *Protocol) Register(r *router.Router) {
	r.Register(SetDatasetToken, p.verified(p.setDataset))
	r.Register(SetLoggingToken, p.verified(p.setLogging))
	r.Register(RebootToken, p.verified(p.reboot))
	r.Register(ShutdownToken, p.verified(p.shutdown))
	r.Register(DisplayToken, p.verified(p.setDisplay))
	r.Register(StatusToken, p.verified(p.status))
}

// Addressed reports whether target names this instance or every instance
func (p *Protocol) Addressed(target string) bool {
	return strings.EqualFold(target, Broadcast) || strings.EqualFold(target, p.identity)
}

// verified gates h behind the checksum and hands it the fields between token and checksum
func (p *Protocol) verified(h func(s *router.Sentence, args []string) error) router.Handler {
	return router.HandlerFunc(func(s *router.Sentence) error {
		if !checksum.Verify(checksum.XOR, s.Raw) {
			return errors.ErrBadChecksum
		}
		args := make([]string, 0, len(s.Fields))
		for _, f := range s.Fields[1 : len(s.Fields)-1] {
			if f != "" {
				args = append(args, f)
			}
		}
		return h(s, args)
	})
}

func (p *Protocol) setDataset(_ *router.Sentence, args []string) error {
	if len(args) < 1 {
		return e.Wrap(errors.ErrMalformedSentence, "dataset id missing")
	}
	if err := p.store.SetDataset(args[0]); err != nil {
		return err
	}
	p.logger.Info().Msgf("Dataset set to %s", args[0])
	return nil
}

func (p *Protocol) setLogging(_ *router.Sentence, args []string) error {
	if len(args) < 2 {
		return e.Wrap(errors.ErrMalformedSentence, "expected target and flag")
	}
	if !p.Addressed(args[0]) {
		return nil
	}
	on, err := ParseFlag(args[1])
	if err != nil {
		return err
	}
	if err := p.store.SetLogging(on); err != nil {
		return err
	}
	p.logger.Info().Msgf("Logging enabled: %v", on)
	return nil
}

func (p *Protocol) setDisplay(_ *router.Sentence, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	switch strings.ToUpper(name) {
	case "OFF", "NONE":
		name = ""
	}
	if err := p.store.SetDisplay(name); err != nil {
		return err
	}
	p.logger.Info().Msgf("Display route set to %q", name)
	return nil
}

func (p *Protocol) reboot(_ *router.Sentence, args []string) error {
	return p.terminal(args, "reboot", func(a SystemActions) error { return a.Reboot() })
}

func (p *Protocol) shutdown(_ *router.Sentence, args []string) error {
	return p.terminal(args, "shutdown", func(a SystemActions) error { return a.Shutdown() })
}

func (p *Protocol) terminal(args []string, name string, act func(SystemActions) error) error {
	if len(args) < 1 {
		return e.Wrapf(errors.ErrMalformedSentence, "%s target missing", name)
	}
	if !p.Addressed(args[0]) {
		return nil
	}
	if err := p.store.SetLogging(false); err != nil {
		return err
	}
	if err := p.store.Persist(); err != nil {
		p.logger.Error().Msgf("Could not persist session before %s: %v", name, err)
	}
	if p.actions == nil {
		return ErrNoActions
	}
	p.logger.Warn().Msgf("Received %s command, logging disabled", name)
	return act(p.actions)
}

func (p *Protocol) status(s *router.Sentence, args []string) error {
	if len(args) > 0 && !p.Addressed(args[0]) {
		return nil
	}
	reply, err := p.StatusReply()
	if err != nil {
		return err
	}
	if s.Reply == nil {
		return e.New("transport cannot carry a reply")
	}
	return s.Reply(reply)
}

// StatusReply composes the checksummed $BDACK sentence for this instance
func (p *Protocol) StatusReply() (string, error) {
	snap := p.store.Snapshot()
	disk, err := utils.DiskUsagePercent(p.diskPath)
	if err != nil {
		p.logger.Error().Msgf("Could not read disk usage of %s: %v", p.diskPath, err)
	}
	logging := NotLogging
	if snap.Logging {
		logging = Logging
	}
	return Build(StatusReplyToken, p.identity, p.address(), snap.Dataset, strconv.Itoa(disk), logging)
}

// Build joins token and fields with commas and appends the XOR checksum
func Build(token string, fields ...string) (string, error) {
	body := token
	if len(fields) > 0 {
		body += "," + strings.Join(fields, ",")
	}
	return checksum.Generate(checksum.XOR, body)
}

// ParseFlag interprets a logging flag
func ParseFlag(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "ON", "START":
		return true, nil
	case "0", "OFF", "STOP":
		return false, nil
	}
	return false, ErrBadFlag
}

// Status is a decoded $BDACK reply
type Status struct {
	Host        string
	Address     string
	Dataset     string
	DiskPercent int
	Logging     bool
}

func (s Status) String() string {
	logging := NotLogging
	if s.Logging {
		logging = Logging
	}
	return fmt.Sprintf("%s (%s) dataset=%s disk=%d%% %s", s.Host, s.Address, s.Dataset, s.DiskPercent, logging)
}

// ParseStatus verifies and decodes a $BDACK sentence
func ParseStatus(raw string) (Status, error) {
	clean := router.Strip(raw)
	if !checksum.Verify(checksum.XOR, clean) {
		return Status{}, errors.ErrBadChecksum
	}
	fields := router.Split(clean, router.DefaultDelimiters)
	if fields[0] != StatusReplyToken {
		return Status{}, ErrNotAStatus
	}
	if len(fields) != 7 {
		return Status{}, e.Wrapf(errors.ErrMalformedSentence, "expected 5 status fields, found %d", len(fields)-2)
	}
	disk, err := strconv.Atoi(fields[4])
	if err != nil {
		return Status{}, e.Wrapf(errors.ErrMalformedSentence, "disk usage %q", fields[4])
	}
	return Status{
		Host:        fields[1],
		Address:     fields[2],
		Dataset:     fields[3],
		DiskPercent: disk,
		Logging:     fields[5] == Logging,
	}, nil
}

// IsCommand reports whether raw carries one of the control tokens
func IsCommand(raw string) bool {
	return strings.HasPrefix(router.Strip(raw), "$BD")
}
