/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package main

import (
	"os"

	"github.com/SSSOC-CAN/bdlog/core"
)

// main is the entry point for the AIS logging daemon
func main() {
	os.Exit(core.Run(core.ModeAIS))
}
