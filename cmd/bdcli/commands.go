/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/SSSOC-CAN/bdlog/command"
	"github.com/SSSOC-CAN/bdlog/intercept"
	"github.com/urfave/cli"
)

// getContext spins up a go routine to monitor for shutdown requests and returns a context object
func getContext() context.Context {
	shutdownInterceptor, err := intercept.InitInterceptor(nil)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return shutdownInterceptor.Context()
}

// targetArg returns the first argument or the broadcast identity
func targetArg(ctx *cli.Context) string {
	if ctx.NArg() > 0 {
		return ctx.Args().First()
	}
	return command.Broadcast
}

var setDatasetCommand = cli.Command{
	Name:      "set-dataset",
	Usage:     "Switch every listening daemon to a new dataset",
	ArgsUsage: "dataset-id",
	Description: `
	Sends a $BDCID sentence. New records are written under the given dataset id and the id is persisted for the next start.`,
	Action: setDataset,
}

// setDataset is the proxy command for $BDCID
func setDataset(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "set-dataset")
	}
	return getSender(ctx).Send(getContext(), command.SetDatasetToken, ctx.Args().First())
}

var setLoggingCommand = cli.Command{
	Name:      "logging",
	Usage:     "Start or stop writing records",
	ArgsUsage: "target on|off",
	Description: `
	Sends a $BDLOG sentence. The target is a daemon identity or ALL.`,
	Action: setLogging,
}

// setLogging is the proxy command for $BDLOG
func setLogging(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "logging")
	}
	on, err := command.ParseFlag(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	flag := "0"
	if on {
		flag = "1"
	}
	return getSender(ctx).Send(getContext(), command.SetLoggingToken, ctx.Args().First(), flag)
}

var setDisplayCommand = cli.Command{
	Name:      "display",
	Usage:     "Select the stream echoed to the display",
	ArgsUsage: "stream|ALL|OFF",
	Action:    setDisplay,
}

// setDisplay is the proxy command for $BDDSP
func setDisplay(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "display")
	}
	return getSender(ctx).Send(getContext(), command.DisplayToken, ctx.Args().First())
}

var rebootCommand = cli.Command{
	Name:      "reboot",
	Usage:     "Reboot the host of a daemon",
	ArgsUsage: "target",
	Description: `
	Sends a $BDRBT sentence. The addressed daemon stops logging, persists its session and reboots its host.`,
	Action: reboot,
}

// reboot is the proxy command for $BDRBT
func reboot(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "reboot")
	}
	return getSender(ctx).Send(getContext(), command.RebootToken, ctx.Args().First())
}

var shutdownCommand = cli.Command{
	Name:      "shutdown",
	Usage:     "Power off the host of a daemon",
	ArgsUsage: "target",
	Action:    shutdown,
}

// shutdown is the proxy command for $BDSHD
func shutdown(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "shutdown")
	}
	return getSender(ctx).Send(getContext(), command.ShutdownToken, ctx.Args().First())
}

var statusCommand = cli.Command{
	Name:      "status",
	Usage:     "Query daemon status",
	ArgsUsage: "[target]",
	Description: `
	Sends a $BDSTS sentence and prints every $BDACK reply received before the timeout.`,
	Action: status,
}

// status is the proxy command for $BDSTS
func status(ctx *cli.Context) error {
	var fields []string
	if t := targetArg(ctx); t != command.Broadcast {
		fields = append(fields, t)
	}
	replies, err := getSender(ctx).Query(getContext(), fields...)
	if err != nil {
		return err
	}
	if len(replies) == 0 {
		return fmt.Errorf("no replies from %s", ctx.GlobalString("addr"))
	}
	printStatus(os.Stdout, replies)
	return nil
}

// printStatus writes one line per reply
func printStatus(w io.Writer, replies []command.Status) {
	for _, r := range replies {
		state := "Not logging"
		if r.Logging {
			state = "Logging"
		}
		fmt.Fprintf(w, "%-12s %-15s %-20s disk %3d%%  %s\n", r.Host, r.Address, r.Dataset, r.DiskPercent, state)
	}
}
