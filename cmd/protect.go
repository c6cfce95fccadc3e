// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var protectCmd = &cobra.Command{
	Use:   "protect",
	Short: "Set the flash block protection bits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProtection(true)
	},
}

var unprotectCmd = &cobra.Command{
	Use:   "unprotect",
	Short: "Clear the flash block protection bits",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProtection(false)
	},
}

func init() {
	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(unprotectCmd)
}

func runProtection(enable bool) error {
	ctx, stop := signalContext()
	defer stop()

	f, closeFn, err := connectFlasher(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if enable {
		err = f.Protect(ctx)
	} else {
		err = f.Unprotect(ctx)
	}
	if err != nil {
		return err
	}

	sr, err := f.ReadStatusRegister(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Status register: 0x%04X\n", sr)
	return nil
}
