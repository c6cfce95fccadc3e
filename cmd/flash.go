// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/firmware"
	"github.com/Thermoquad/kiln/pkg/flash"
)

var (
	flashAddress     uint32
	flashNoReboot    bool
	flashNoVerify    bool
	flashNoProtect   bool
	flashMaxFailures int
	flashNoTUI       bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <image>",
	Short: "Erase, write and verify a firmware image",
	Long: `Flash a firmware image through the boot ROM.

Raw binaries (.bin) are written at --address. Intel HEX files (.hex, .ihex)
carry their own addresses and --address is ignored.

The flash is unprotected, the image range erased with 64 KiB blocks where
possible, every sector written and checked against the device CRC, the
whole image verified, and protection restored. Sectors that fail their
check are erased and rewritten up to --retries times.

With --family ymodem the image is sent over YModem instead.

Examples:
  kiln flash -p /dev/ttyUSB0 app.bin --address 0x11000
  kiln flash -p /dev/ttyUSB0 -f t5 app.hex
  kiln flash --simulate app.bin --max-failures 2`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().Uint32VarP(&flashAddress, "address", "a", 0x11000, "Flash address of a raw image")
	flashCmd.Flags().BoolVar(&flashNoReboot, "no-reboot", false, "Stay in the boot ROM when done")
	flashCmd.Flags().BoolVar(&flashNoVerify, "no-verify", false, "Skip the final image verification")
	flashCmd.Flags().BoolVar(&flashNoProtect, "no-protect", false, "Leave the flash unprotected when done")
	flashCmd.Flags().IntVar(&flashMaxFailures, "max-failures", 0, "Tolerate up to N sectors failing verification")
	flashCmd.Flags().BoolVar(&flashNoTUI, "no-tui", false, "Print progress lines instead of the full screen view")
}

func runFlash(cmd *cobra.Command, args []string) error {
	family, err := selectedFamily()
	if err != nil {
		return err
	}
	img, err := firmware.Load(args[0], flashAddress)
	if err != nil {
		return err
	}
	fmt.Printf("Kiln - Flash\n")
	fmt.Printf("Image: %s\n", img)

	ctx, stop := signalContext()
	defer stop()

	if family == bootrom.FamilyYModem {
		return sendYModem(ctx, img)
	}

	opts := []flash.Option{
		flash.WithVerify(!flashNoVerify),
		flash.WithProtect(!flashNoProtect),
	}
	if flashMaxFailures > 0 {
		opts = append(opts, flash.WithPartialFailure(flashMaxFailures))
	}
	f, closeFn, err := connectFlasher(ctx, opts...)
	if err != nil {
		return err
	}
	defer closeFn()

	err = runJob(ctx, "flash", f.Descriptor().String(), useTUI(flashNoTUI), func(ctx context.Context, obs flash.Observer) (string, error) {
		res, err := f.FlashImage(ctx, img, obs)
		summary := f.Statistics().String()
		if res != nil && res.Verify != nil && len(res.Verify.Failed) > 0 {
			summary += formatFailedRegions(res.Verify)
		}
		return summary, err
	})
	if err != nil {
		return err
	}

	if !flashNoReboot {
		if err := f.Reboot(ctx); err != nil {
			return fmt.Errorf("failed to reboot: %w", err)
		}
		fmt.Printf("Rebooted into application\n")
	}
	return nil
}

func formatFailedRegions(r *flash.VerifyReport) string {
	out := fmt.Sprintf("%d sectors failed verification:\n", len(r.Failed))
	for _, region := range r.Failed {
		out += fmt.Sprintf("  0x%08X+0x%X: expected 0x%08X, device 0x%08X\n",
			region.Address, region.Length, region.Expected, region.Actual)
	}
	return out
}
