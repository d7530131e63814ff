/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"
)

var (
	defaultTarget        = "localhost:10110"
	defaultTimeout int64 = 2
)

// fatal exits the process and prints out error information
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[bdcli] %v\n", err)
	os.Exit(1)
}

// getSender returns the Sender configured by the global flags
func getSender(ctx *cli.Context) *Sender {
	return &Sender{
		Addr:      ctx.GlobalString("addr"),
		Broadcast: ctx.GlobalBool("broadcast"),
		Timeout:   time.Duration(ctx.GlobalInt64("timeout")) * time.Second,
	}
}

// main is the entrypoint for bdcli
func main() {
	app := cli.NewApp()
	app.Name = "bdcli"
	app.Usage = "Control panel for the shipboard data logging daemons"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr",
			Value: defaultTarget,
			Usage: "The host:port the command sentence is sent to",
		},
		cli.BoolFlag{
			Name:  "broadcast",
			Usage: "Allow sending to a broadcast address",
		},
		cli.Int64Flag{
			Name:  "timeout",
			Value: defaultTimeout,
			Usage: "Seconds to wait for status replies",
		},
	}
	app.Commands = []cli.Command{
		setDatasetCommand,
		setLoggingCommand,
		setDisplayCommand,
		rebootCommand,
		shutdownCommand,
		statusCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
