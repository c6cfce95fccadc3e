// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"flag"

	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Target flags
	familyName string
	flashBaud  int
	noReset    bool
	retries    int
	simulate   bool
)

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "BK7231 / T5 firmware flasher",
	Long: `Kiln - A CLI tool for flashing firmware onto BK7231 and T5 modules
through their boot ROM, and onto YModem bootloaders.

The chip is reset into its boot ROM through the RTS line, the flash part is
identified, and images are erased, written and verified sector by sector
with automatic recovery from transient link errors.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

For WebSocket authentication, the password is read from the KILN_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Logging is controlled with the glog flags, e.g. --logtostderr -v 1.`,
	Version: "1.0.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// glog reads its flags from the standard flag set
		return flag.CommandLine.Parse(nil)
	},
	SilenceUsage: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Initial baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Target flags
	rootCmd.PersistentFlags().StringVarP(&familyName, "family", "f", "bk7231", "Chip family (bk7231, t5, ymodem)")
	rootCmd.PersistentFlags().IntVar(&flashBaud, "flash-baud", 921600, "Baud rate used once the boot ROM answers (0 keeps --baud)")
	rootCmd.PersistentFlags().BoolVar(&noReset, "no-reset", false, "Do not pulse RTS; the chip is already in its boot ROM")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 5, "Recovery attempts per sector")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Run against a simulated boot ROM instead of a device")

	// glog flags (-v, --logtostderr, ...)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
