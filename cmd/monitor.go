// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/transport"
)

var monitorHex bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display raw serial output from the chip",
	Long: `Print whatever the chip sends, for watching an application boot after
flashing.

Bytes are copied to stdout as they arrive, or shown as a hex dump with --hex.
Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Show a hex dump instead of raw text")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	t, connInfo, err := OpenTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Printf("Kiln - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	offset := 0
	for ctx.Err() == nil {
		data, err := t.Read(256, 100*time.Millisecond)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || flasherr.IsDisconnected(err) {
				glog.Infof("connection closed")
				return nil
			}
			glog.Warningf("read error: %v", err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		if monitorHex {
			offset = printHexDump(offset, data)
		} else {
			os.Stdout.Write(data)
		}
	}
	return nil
}

// printHexDump writes data in 16-byte rows and returns the next offset
func printHexDump(offset int, data []byte) int {
	for i := 0; i < len(data); i += 16 {
		end := min(i+16, len(data))
		fmt.Printf("%08X  % X\n", offset+i, data[i:end])
	}
	return offset + len(data)
}
