/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package core

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

const defaultWatchdogTick = 5 * time.Second

// Notifier reports service state to the init system
type Notifier interface {
	Notify(state string)
}

// systemdNotifier talks to systemd over NOTIFY_SOCKET. It does nothing when the daemon
// was not started by systemd.
type systemdNotifier struct {
	logger *zerolog.Logger
}

// Notify sends state
func (n *systemdNotifier) Notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn().Msgf("Could not notify systemd of %s: %v", state, err)
		return
	}
	if sent {
		n.logger.Trace().Msgf("Notified systemd: %s", state)
	}
}

// watchdogInterval returns how often WATCHDOG=1 should be sent, or 0 if systemd does
// not expect it
func watchdogInterval() time.Duration {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return 0
	}
	if tick := interval / 2; tick < defaultWatchdogTick {
		return tick
	}
	return defaultWatchdogTick
}
