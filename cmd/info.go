// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Identify the chip and its flash part",
	Long: `Connect to the boot ROM and print the chip ID, the flash part and
the state of its write protection.`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	f, closeFn, err := connectFlasher(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	chipID, err := f.Executor().ChipID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chip ID: %w", err)
	}
	sr, err := f.ReadStatusRegister(ctx)
	if err != nil {
		return err
	}
	protected, err := f.Protected(ctx)
	if err != nil {
		return err
	}

	d := f.Descriptor()
	profile := f.Executor().Codec().Profile()
	fmt.Printf("\n")
	fmt.Printf("Chip:            %s (ID 0x%08X)\n", profile.Name, chipID)
	fmt.Printf("Flash:           %s %s\n", d.Vendor, d.Name)
	fmt.Printf("Manufacturer ID: 0x%06X\n", d.ManufacturerID)
	fmt.Printf("Size:            %d KiB\n", d.SizeBytes/1024)
	fmt.Printf("Status register: 0x%04X (%d bytes)\n", sr, d.StatusRegisterBytes)
	fmt.Printf("Protected:       %t\n", protected)
	return nil
}
