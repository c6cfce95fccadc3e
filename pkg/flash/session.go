// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/firmware"
)

// Result summarizes a Flash run
type Result struct {
	Image  string
	Bytes  int
	Verify *VerifyReport // nil when verification is disabled
}

// Flash programs data at addr. See FlashImage.
func (f *Flasher) Flash(ctx context.Context, addr uint32, data []byte, obs Observer) (*Result, error) {
	img := &firmware.Image{
		Name:     fmt.Sprintf("0x%08X", addr),
		Segments: []firmware.Segment{{Address: addr, Data: data}},
	}
	return f.FlashImage(ctx, img, obs)
}

// FlashImage runs a complete flashing session: unprotect, then erase and
// write every segment, verify the whole image when VerifyAfterFlash is
// set, and finally restore protection when ProtectAfterWrite is set.
// Protection is left cleared if any step fails so the caller can retry.
func (f *Flasher) FlashImage(ctx context.Context, img *firmware.Image, obs Observer) (*Result, error) {
	res := &Result{Image: img.Name, Bytes: img.Size()}
	for _, s := range img.Segments {
		if err := f.checkRange("flash", s.Address, len(s.Data)); err != nil {
			return res, err
		}
	}
	glog.Infof("flashing %s", img)

	newReporter(obs, PhaseUnprotect, 1).report(0, 0, 0)
	if err := f.Unprotect(ctx); err != nil {
		return res, fmt.Errorf("failed to unprotect flash: %w", err)
	}

	for _, s := range img.Segments {
		if err := f.Erase(ctx, s.Address, uint32(len(s.Data)), obs); err != nil {
			return res, err
		}
		if err := f.write(ctx, s.Address, s.Data, obs); err != nil {
			return res, err
		}
	}

	if f.cfg.VerifyAfterFlash {
		report, err := f.VerifyImage(ctx, img, obs)
		res.Verify = report
		if err != nil {
			return res, err
		}
	}

	if f.cfg.ProtectAfterWrite {
		newReporter(obs, PhaseProtect, 1).report(0, 0, 0)
		if err := f.Protect(ctx); err != nil {
			return res, fmt.Errorf("failed to protect flash: %w", err)
		}
	}

	newReporter(obs, PhaseComplete, 1).report(1, 0, res.Bytes)
	glog.Infof("flashed %d bytes", res.Bytes)
	return res, nil
}
