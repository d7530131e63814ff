/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package core

import (
	"fmt"
	"os"

	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/intercept"
	flags "github.com/jessevdk/go-flags"
	e "github.com/pkg/errors"
)

// Exit statuses
const (
	ExitClean        = 0
	ExitInitFailure  = 1
	ExitSourceConfig = 2
)

// Main is the true entry point of every daemon. It's called in a nested manner for proper defer execution
func Main(interceptor *intercept.Interceptor, d *Daemon) (int, error) {
	if err := d.Start(); err != nil {
		d.logger.Error().Msgf("Could not start daemon: %v", err)
		return ExitInitFailure, err
	}
	defer d.Stop()
	err := d.Run(interceptor.Context())
	switch {
	case err == nil:
		return ExitClean, nil
	case e.Cause(err) == errors.ErrFatalSource:
		d.logger.Error().Msgf("Source configuration failed: %v", err)
		return ExitSourceConfig, err
	default:
		d.logger.Error().Msgf("Daemon stopped: %v", err)
		return ExitInitFailure, err
	}
}

// Run loads the configuration of mode, sets up logging and runs the daemon until shutdown.
// It returns the process exit status.
func Run(mode Mode) int {
	config, err := InitConfig(mode, false)
	if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
		return ExitClean
	} else if err != nil {
		printErr(err)
		return ExitInitFailure
	}
	log, err := InitLogger(&config)
	if err != nil {
		printErr(err)
		return ExitInitFailure
	}
	interceptor, err := intercept.InitInterceptor(&log)
	if err != nil {
		printErr(err)
		return ExitInitFailure
	}
	d, err := NewDaemon(&config, &log)
	if err != nil {
		log.Error().Msgf("Could not initialize daemon: %v", err)
		return ExitInitFailure
	}
	code, err := Main(interceptor, d)
	if err != nil {
		printErr(err)
	}
	return code
}

func printErr(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
}
