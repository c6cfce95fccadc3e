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
	verifyAddress     uint32
	verifyMaxFailures int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <image>",
	Short: "Compare flash contents with an image",
	Long: `Compare an image with flash using the boot ROM CRC, 4 KiB at a time.
Blank (all 0xFF) windows of the image are not checked.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().Uint32VarP(&verifyAddress, "address", "a", 0x11000, "Flash address of a raw image")
	verifyCmd.Flags().IntVar(&verifyMaxFailures, "max-failures", 0, "Tolerate up to N mismatching sectors")
}

func runVerify(cmd *cobra.Command, args []string) error {
	img, err := firmware.Load(args[0], verifyAddress)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	var opts []flash.Option
	if verifyMaxFailures > 0 {
		opts = append(opts, flash.WithPartialFailure(verifyMaxFailures))
	}
	f, closeFn, err := connectFlasher(ctx, opts...)
	if err != nil {
		return err
	}
	defer closeFn()

	var report *flash.VerifyReport
	err = runJob(ctx, "verify", f.Descriptor().String(), false, func(ctx context.Context, obs flash.Observer) (string, error) {
		var err error
		report, err = f.VerifyImage(ctx, img, obs)
		return "", err
	})
	if report != nil {
		fmt.Printf("Checked %d windows, skipped %d blank\n", len(report.Regions), report.Skipped)
		if len(report.Failed) > 0 {
			fmt.Print(formatFailedRegions(report))
		}
	}
	if err != nil {
		return err
	}
	fmt.Printf("Verification passed\n")
	return nil
}
