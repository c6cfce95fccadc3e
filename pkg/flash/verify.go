// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"context"
	"errors"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/crc"
	"github.com/Thermoquad/kiln/pkg/firmware"
	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/link"
)

// CRCRegion is the outcome of checking one window
type CRCRegion struct {
	Address  uint32
	Length   uint32
	Expected uint32
	Actual   uint32
	Matched  bool
}

// VerifyReport is the outcome of a full image verification
type VerifyReport struct {
	Regions []CRCRegion
	Failed  []CRCRegion
	Skipped int // blank windows, never written and so not checked
	Success bool
}

// DeviceCRC asks the ROM for the CRC32 register value over a range. The
// extended command is used on parts larger than 256 MiB.
func (f *Flasher) DeviceCRC(ctx context.Context, addr, length uint32) (uint32, error) {
	cmd := bootrom.CheckCRC{Start: addr, Length: length, Extended: f.desc.NeedsExtendedCRC()}
	fields, err := f.exec.Execute(ctx, cmd, link.TimeoutFor(cmd))
	if err != nil {
		return 0, err
	}
	f.stats.CRCChecks++
	return fields.CRC, nil
}

// compareCRC checks data against the device CRC of the same range
func (f *Flasher) compareCRC(ctx context.Context, addr uint32, data []byte) (CRCRegion, error) {
	r := CRCRegion{
		Address:  addr,
		Length:   uint32(len(data)),
		Expected: crc.CalculateCRC32(data),
	}
	actual, err := f.DeviceCRC(ctx, addr, r.Length)
	if err != nil {
		return r, err
	}
	r.Actual = actual
	r.Matched = actual == r.Expected
	if !r.Matched {
		return r, &CRCMismatchError{Address: addr, Length: r.Length, Expected: r.Expected, Actual: actual}
	}
	return r, nil
}

// checkRegion compares one window, re-asking under the retry policy of
// whatever went wrong. A persistent mismatch is a result, not an error.
func (f *Flasher) checkRegion(ctx context.Context, addr uint32, data []byte) (CRCRegion, error) {
	var region CRCRegion
	err := f.do(ctx, "verify", addr, func(ctx context.Context) error {
		var err error
		region, err = f.compareCRC(ctx, addr, data)
		return err
	})
	if err == nil {
		return region, nil
	}
	var mismatch *CRCMismatchError
	if errors.As(err, &mismatch) && flasherr.KindOf(err) == flasherr.KindCrcMismatch {
		return region, nil
	}
	return region, err
}

// Verify compares data with flash at addr. See VerifyImage.
func (f *Flasher) Verify(ctx context.Context, addr uint32, data []byte, obs Observer) (*VerifyReport, error) {
	return f.VerifyImage(ctx, &firmware.Image{
		Segments: []firmware.Segment{{Address: addr, Data: data}},
	}, obs)
}

// VerifyImage compares every segment of img with flash in 4 KiB windows.
// Failed windows are collected until they exceed the partial failure
// budget, at which point verification stops with a CrcMismatch error.
func (f *Flasher) VerifyImage(ctx context.Context, img *firmware.Image, obs Observer) (*VerifyReport, error) {
	report := &VerifyReport{}
	total := 0
	for _, s := range img.Segments {
		if err := f.checkRange("verify", s.Address, len(s.Data)); err != nil {
			return report, err
		}
		total += (len(s.Data) + bootrom.SectorSize - 1) / bootrom.SectorSize
	}
	budget := f.cfg.PartialFailure.budget()
	glog.Infof("verifying %d bytes (%d windows)", img.Size(), total)

	rep := newReporter(obs, PhaseVerify, total)
	done, checked := 0, 0
	for _, s := range img.Segments {
		for off := 0; off < len(s.Data); off += bootrom.SectorSize {
			if err := cancelled(ctx, "verify"); err != nil {
				return report, err
			}
			end := off + bootrom.SectorSize
			if end > len(s.Data) {
				end = len(s.Data)
			}
			chunk := s.Data[off:end]
			wa := s.Address + uint32(off)
			done++
			checked += len(chunk)
			if isBlank(chunk) {
				report.Skipped++
				rep.report(done, wa, checked)
				continue
			}

			region, err := f.checkRegion(ctx, wa, chunk)
			if err != nil {
				return report, err
			}
			report.Regions = append(report.Regions, region)
			if !region.Matched {
				f.stats.CRCFailures++
				report.Failed = append(report.Failed, region)
				glog.Warningf("verify: CRC mismatch at 0x%08X (expected 0x%08X, device 0x%08X)", wa, region.Expected, region.Actual)
				if len(report.Failed) > budget {
					return report, flasherr.AtAddress(flasherr.KindCrcMismatch, "verify", wa, &CRCMismatchError{
						Address:  wa,
						Length:   region.Length,
						Expected: region.Expected,
						Actual:   region.Actual,
					})
				}
			}
			rep.report(done, wa, checked)
		}
	}

	report.Success = true
	if len(report.Failed) > 0 {
		glog.Warningf("verify: %d windows failed, within budget of %d", len(report.Failed), budget)
	}
	return report, nil
}
