// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kiln/pkg/firmware"
	"github.com/Thermoquad/kiln/pkg/flash"
)

var (
	readAddress uint32
	readLength  uint32
	readNoTUI   bool
)

var readCmd = &cobra.Command{
	Use:   "read <output>",
	Short: "Dump a flash range to a file",
	Long: `Read a range of flash into a file, 4 KiB at a time.

The output is written as Intel HEX when its name ends in .hex or .ihex, and
as raw bytes otherwise. A --length of 0 reads the whole flash part.`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().Uint32VarP(&readAddress, "address", "a", 0, "Start address")
	readCmd.Flags().Uint32VarP(&readLength, "length", "l", 0, "Number of bytes (0 = to the end of flash)")
	readCmd.Flags().BoolVar(&readNoTUI, "no-tui", false, "Print progress lines instead of the full screen view")
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	f, closeFn, err := connectFlasher(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	length := readLength
	if length == 0 {
		if readAddress >= f.Descriptor().SizeBytes {
			return fmt.Errorf("address 0x%08X is past the end of flash", readAddress)
		}
		length = f.Descriptor().SizeBytes - readAddress
	}

	var data []byte
	err = runJob(ctx, "read", f.Descriptor().String(), useTUI(readNoTUI), func(ctx context.Context, obs flash.Observer) (string, error) {
		var err error
		data, err = f.Read(ctx, readAddress, length, obs)
		return f.Statistics().String(), err
	})
	if err != nil {
		return err
	}
	if err := firmware.Save(args[0], readAddress, data); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes from 0x%08X to %s\n", len(data), readAddress, args[0])
	return nil
}
