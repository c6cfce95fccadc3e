// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/kiln/pkg/firmware"
	"github.com/Thermoquad/kiln/pkg/flash"
	"github.com/Thermoquad/kiln/pkg/ymodem"
)

var (
	ymodemBlockSize int
	ymodemNoTUI     bool
)

var ymodemCmd = &cobra.Command{
	Use:   "ymodem <image>",
	Short: "Send an image to a YModem bootloader",
	Long: `Send an image over YModem with CRC16 packets.

The receiver must already be waiting (sending 'C'). Intel HEX images are
flattened with 0xFF fill before sending.

Examples:
  kiln ymodem -p /dev/ttyUSB0 app.bin
  kiln ymodem -p /dev/ttyUSB0 --block-size 16384 app.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runYModem,
}

func init() {
	rootCmd.AddCommand(ymodemCmd)
	ymodemCmd.Flags().IntVar(&ymodemBlockSize, "block-size", ymodem.BlockSize1K, "Data packet size (1024 or 16384)")
	ymodemCmd.Flags().BoolVar(&ymodemNoTUI, "no-tui", false, "Print progress lines instead of the full screen view")
}

func runYModem(cmd *cobra.Command, args []string) error {
	img, err := firmware.Load(args[0], 0)
	if err != nil {
		return err
	}
	fmt.Printf("Kiln - YModem\n")
	fmt.Printf("Image: %s\n", img)

	ctx, stop := signalContext()
	defer stop()
	return sendYModem(ctx, img)
}

// sendYModem streams img to a YModem receiver, reporting progress through
// the same views as the boot ROM commands
func sendYModem(ctx context.Context, img *firmware.Image) error {
	t, info, err := OpenTransport(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil {
			glog.Warningf("failed to close transport: %v", err)
		}
	}()

	_, data := img.Flatten(0xFF)
	name := filepath.Base(img.Name)

	return runJob(ctx, "ymodem", info, useTUI(ymodemNoTUI), func(ctx context.Context, obs flash.Observer) (string, error) {
		s := ymodem.NewSender(t,
			ymodem.WithBlockSize(ymodemBlockSize),
			ymodem.WithProgress(func(sent, total int) {
				pct := 0.0
				if total > 0 {
					pct = float64(sent) * 100 / float64(total)
				}
				obs.Progress(flash.Progress{
					Phase:      flash.PhaseWrite,
					Current:    sent,
					Total:      total,
					Bytes:      sent,
					Percentage: pct,
				})
			}),
		)
		err := s.Send(ctx, name, data)
		summary := fmt.Sprintf("Sent %s (%d bytes), %d packets resent, final state %s\n",
			name, len(data), s.Resends, s.State())
		return summary, err
	})
}
