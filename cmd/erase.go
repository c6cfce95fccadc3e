// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kiln/pkg/flash"
)

var (
	eraseAddress uint32
	eraseLength  uint32
	eraseAll     bool
	eraseDryRun  bool
)

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase a flash range or the whole chip",
	Long: `Erase the sectors lying fully inside --address/--length, using 64 KiB
block erases where the range allows it. Partial sectors at either end are
left untouched.

--dry-run prints the erase plan without connecting.`,
	RunE: runErase,
}

func init() {
	rootCmd.AddCommand(eraseCmd)
	eraseCmd.Flags().Uint32VarP(&eraseAddress, "address", "a", 0, "Start address")
	eraseCmd.Flags().Uint32VarP(&eraseLength, "length", "l", 0, "Number of bytes")
	eraseCmd.Flags().BoolVar(&eraseAll, "all", false, "Erase the entire flash")
	eraseCmd.Flags().BoolVar(&eraseDryRun, "dry-run", false, "Print the erase plan and exit")
}

func runErase(cmd *cobra.Command, args []string) error {
	if !eraseAll && eraseLength == 0 {
		return fmt.Errorf("either --length or --all must be specified")
	}

	if eraseDryRun {
		if eraseAll {
			fmt.Printf("Chip erase: 1 command\n")
			return nil
		}
		printErasePlan(eraseAddress, eraseLength)
		return nil
	}

	ctx, stop := signalContext()
	defer stop()

	f, closeFn, err := connectFlasher(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := f.Unprotect(ctx); err != nil {
		return err
	}
	return runJob(ctx, "erase", f.Descriptor().String(), false, func(ctx context.Context, obs flash.Observer) (string, error) {
		if eraseAll {
			return "", f.EraseChip(ctx, obs)
		}
		return f.Statistics().String(), f.Erase(ctx, eraseAddress, eraseLength, obs)
	})
}

func printErasePlan(addr, length uint32) {
	start, end := flash.EraseWindow(addr, length)
	blocks, sectors := flash.EraseTotals(addr, length)
	fmt.Printf("Erase window: 0x%08X - 0x%08X (%d bytes)\n", start, end, end-start)
	for _, op := range flash.PlanErase(addr, length) {
		fmt.Printf("  %s\n", op)
	}
	fmt.Printf("Total: %d blocks, %d sectors\n", blocks, sectors)
}
