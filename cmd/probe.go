// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/link"
)

var (
	probeTimeout int
	probeReset   bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a boot ROM link check reply",
	Long: `Send link checks until the boot ROM answers or the timeout expires.

The chip must already be in its boot ROM unless --reset is given, in which
case it is reset through RTS first.

Exit codes:
  0 - Boot ROM answered
  1 - No valid answer (device absent or busy)
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 2, "Timeout in seconds to wait for a reply")
	probeCmd.Flags().BoolVar(&probeReset, "reset", false, "Reset the chip into its boot ROM first")
}

func runProbe(cmd *cobra.Command, args []string) error {
	family, err := selectedFamily()
	if err != nil {
		return err
	}
	codec, err := bootrom.NewCodec(family)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	t, connInfo, err := OpenTransport(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	fmt.Printf("Kiln - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Family: %s\n", codec.Profile().Name)
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	exec := link.NewExecutor(t, codec)
	start := time.Now()
	if probeReset {
		err = exec.EnterBootloader(ctx)
	} else {
		attempts := int(time.Duration(probeTimeout) * time.Second / link.LinkCheckTimeout)
		err = exec.LinkCheck(ctx, attempts, link.LinkCheckTimeout)
	}

	switch {
	case err == nil:
		fmt.Printf("SUCCESS: Boot ROM answered after %v\n", time.Since(start).Round(time.Millisecond))
		os.Exit(0)
	case errors.Is(err, link.ErrDeviceBusy):
		fmt.Fprintf(os.Stderr, "BUSY: %v\n", err)
		os.Exit(1)
	case errors.Is(err, link.ErrDeviceAbsent):
		fmt.Fprintf(os.Stderr, "TIMEOUT: %v\n", err)
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	return nil
}
