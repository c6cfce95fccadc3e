// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/firmware"
	"github.com/Thermoquad/kiln/pkg/flash"
	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/simrom"
)

const simMemory = 256 * 1024

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

// newSession connects a Flasher to a simulated BK7231 ROM
func newSession(t *testing.T, romOpts []simrom.Option, opts ...flash.Option) (*simrom.ROM, *flash.Flasher) {
	t.Helper()
	rom := simrom.New(append([]simrom.Option{simrom.WithMemorySize(simMemory)}, romOpts...)...)
	opts = append([]flash.Option{flash.WithSleep(noSleep), flash.WithReset(false)}, opts...)
	f, err := flash.Connect(context.Background(), rom, bootrom.FamilyBK7231, opts...)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return rom, f
}

// pattern returns n bytes that are never 0xFF
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7+int(seed)) & 0x7F
	}
	return b
}

// ============================================================
// Connect
// ============================================================

func TestConnect_IdentifiesFlash(t *testing.T) {
	_, f := newSession(t, nil)
	if got := f.Descriptor().SizeBytes; got != 16*1024*1024 {
		t.Errorf("SizeBytes = %d, want 16 MiB", got)
	}
	if f.Descriptor().Name != "GD25Q16" {
		t.Errorf("Name = %q, want GD25Q16", f.Descriptor().Name)
	}
}

func TestConnect_ResetIntoROM(t *testing.T) {
	rom := simrom.New(simrom.WithMemorySize(simMemory), simrom.WithRequireReset())
	if _, err := flash.Connect(context.Background(), rom, bootrom.FamilyBK7231, flash.WithSleep(noSleep)); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !rom.InROM() {
		t.Error("chip did not enter the boot ROM")
	}
}

func TestConnect_SwitchesBaud(t *testing.T) {
	rom, _ := newSession(t, nil, flash.WithBaudRate(921600))
	if rom.Baud() != 921600 {
		t.Errorf("ROM baud = %d, want 921600", rom.Baud())
	}
}

func TestConnect_NoFrameCodecForYModem(t *testing.T) {
	rom := simrom.New()
	_, err := flash.Connect(context.Background(), rom, bootrom.FamilyYModem, flash.WithSleep(noSleep))
	if !errors.Is(err, bootrom.ErrNoFrameCodec) {
		t.Errorf("err = %v, want ErrNoFrameCodec", err)
	}
}

// ============================================================
// Write engine
// ============================================================

func TestSectorize(t *testing.T) {
	tests := []struct {
		name  string
		addr  uint32
		size  int
		addrs []uint32
		edges []bool
	}{
		{"aligned", 0x1000, 0x2000, []uint32{0x1000, 0x2000}, []bool{false, false}},
		{"short tail", 0x1000, 0x1001, []uint32{0x1000, 0x2000}, []bool{false, true}},
		{"unaligned start", 0x1800, 0x1000, []uint32{0x1000, 0x2000}, []bool{true, true}},
		{"inside one sector", 0x1010, 0x10, []uint32{0x1000}, []bool{true}},
		{"empty", 0x1000, 0, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := pattern(tt.size, 1)
			sectors := flash.Sectorize(tt.addr, data)
			if len(sectors) != len(tt.addrs) {
				t.Fatalf("got %d sectors, want %d", len(sectors), len(tt.addrs))
			}
			for i, s := range sectors {
				if s.Address != tt.addrs[i] || s.Edge != tt.edges[i] {
					t.Errorf("sector %d = 0x%X edge=%v, want 0x%X edge=%v", i, s.Address, s.Edge, tt.addrs[i], tt.edges[i])
				}
				if len(s.Data) != bootrom.SectorSize {
					t.Errorf("sector %d is %d bytes", i, len(s.Data))
				}
			}
			// Image bytes land at their offsets
			for i, b := range data {
				a := tt.addr + uint32(i)
				s := sectors[(a-sectors[0].Address)/bootrom.SectorSize]
				if s.Data[a-s.Address] != b {
					t.Fatalf("byte at 0x%X = 0x%02X, want 0x%02X", a, s.Data[a-s.Address], b)
				}
			}
		})
	}
}

func TestFlash_RoundTrip(t *testing.T) {
	rom, f := newSession(t, nil)
	data := pattern(3*bootrom.SectorSize+100, 3)

	res, err := f.Flash(context.Background(), 0x10000, data, nil)
	if err != nil {
		t.Fatalf("Flash failed: %v", err)
	}
	if res.Verify == nil || !res.Verify.Success {
		t.Errorf("verification did not succeed: %+v", res.Verify)
	}
	if got := rom.Memory(0x10000, uint32(len(data))); !bytes.Equal(got, data) {
		t.Error("flash contents differ from image")
	}
	if got := rom.Memory(0x10000+uint32(len(data)), 16); !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 16)) {
		t.Errorf("bytes past the image changed: % X", got)
	}
	if rom.StatusRegister()&0x7C != 0x1C {
		t.Errorf("status register 0x%04X: flash not protected after write", rom.StatusRegister())
	}
	if stats := f.Statistics(); stats.SectorsWritten != 4 {
		t.Errorf("SectorsWritten = %d, want 4", stats.SectorsWritten)
	}
}

func TestFlash_Idempotent(t *testing.T) {
	rom, f := newSession(t, nil)
	ctx := context.Background()
	data := pattern(2*bootrom.SectorSize+300, 9)

	if _, err := f.Flash(ctx, 0x20100, data, nil); err != nil {
		t.Fatalf("first Flash failed: %v", err)
	}
	first := rom.Memory(0x20000, 0x4000)
	crc1, err := f.DeviceCRC(ctx, 0x20000, 0x4000)
	if err != nil {
		t.Fatalf("DeviceCRC failed: %v", err)
	}

	if _, err := f.Flash(ctx, 0x20100, data, nil); err != nil {
		t.Fatalf("second Flash failed: %v", err)
	}
	crc2, err := f.DeviceCRC(ctx, 0x20000, 0x4000)
	if err != nil {
		t.Fatalf("DeviceCRC failed: %v", err)
	}
	if crc1 != crc2 || !bytes.Equal(first, rom.Memory(0x20000, 0x4000)) {
		t.Errorf("second flash changed contents: CRC 0x%08X -> 0x%08X", crc1, crc2)
	}
}

func TestWrite_PreservesEdgeBytes(t *testing.T) {
	rom, f := newSession(t, nil, flash.WithProtect(false))
	rom.Load(0x2000, bytes.Repeat([]byte{0xAB}, 2*bootrom.SectorSize))
	data := pattern(bootrom.SectorSize, 5)

	if _, err := f.Flash(context.Background(), 0x2100, data, nil); err != nil {
		t.Fatalf("Flash failed: %v", err)
	}
	if got := rom.Memory(0x2000, 0x100); !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 0x100)) {
		t.Error("leading bytes of the first sector were lost")
	}
	if got := rom.Memory(0x2100, bootrom.SectorSize); !bytes.Equal(got, data) {
		t.Error("image bytes not written")
	}
	if got := rom.Memory(0x3100, 0xF00); !bytes.Equal(got, bytes.Repeat([]byte{0xAB}, 0xF00)) {
		t.Error("trailing bytes of the last sector were lost")
	}
	stats := f.Statistics()
	if stats.SectorsRMW != 2 {
		t.Errorf("SectorsRMW = %d, want 2", stats.SectorsRMW)
	}
	if n := rom.Count("FlashErase64K"); n != 0 {
		t.Errorf("%d block erases for a sub-sector image", n)
	}
}

func TestWrite_SkipsBlankSectors(t *testing.T) {
	rom, f := newSession(t, nil, flash.WithProtect(false))
	data := append(bytes.Repeat([]byte{0xFF}, bootrom.SectorSize), pattern(bootrom.SectorSize, 2)...)

	if err := f.Write(context.Background(), 0x8000, data, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n := rom.Count("FlashWrite4K"); n != 1 {
		t.Errorf("FlashWrite4K sent %d times, want 1", n)
	}
	stats := f.Statistics()
	if stats.SectorsSkipped != 1 || stats.SectorsWritten != 1 {
		t.Errorf("skipped %d, written %d; want 1 and 1", stats.SectorsSkipped, stats.SectorsWritten)
	}
}

func TestWrite_RecoversDamagedSector(t *testing.T) {
	rom, f := newSession(t, nil, flash.WithProtect(false))
	rom.DamageWrites(0x8000, 2)
	data := pattern(bootrom.SectorSize, 4)

	if err := f.Write(context.Background(), 0x8000, data, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := rom.Memory(0x8000, bootrom.SectorSize); !bytes.Equal(got, data) {
		t.Error("sector contents wrong after recovery")
	}
	stats := f.Statistics()
	if stats.Recoveries != 2 {
		t.Errorf("Recoveries = %d, want 2", stats.Recoveries)
	}
	if n := rom.Count("FlashErase4K"); n != 2 {
		t.Errorf("sector erased %d times during recovery, want 2", n)
	}
}

func TestWrite_ExhaustionIsFatal(t *testing.T) {
	rom, f := newSession(t, nil, flash.WithRetries(2))
	rom.DamageWrites(0x9000, -1)
	data := pattern(2*bootrom.SectorSize, 6)

	err := f.Write(context.Background(), 0x8000, data, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, flasherr.ErrFatal) {
		t.Errorf("err = %v, want Fatal", err)
	}
	var fe *flasherr.Error
	if !errors.As(err, &fe) || !fe.HasAddress || fe.Address != 0x9000 {
		t.Errorf("error does not name sector 0x9000: %v", err)
	}
	if flasherr.KindOf(err) != flasherr.KindCrcMismatch {
		t.Errorf("root kind = %s, want CrcMismatch", flasherr.KindOf(err))
	}
	// One sector written, then three attempts on the damaged one
	if n := rom.Count("FlashWrite4K"); n != 4 {
		t.Errorf("FlashWrite4K sent %d times, want 4", n)
	}
	if rom.Count("FlashWriteSR") != 0 {
		t.Error("protection restored after a failed write")
	}
}

func TestWrite_Disconnected(t *testing.T) {
	rom, f := newSession(t, nil)
	rom.Disconnect()

	err := f.Write(context.Background(), 0x8000, pattern(bootrom.SectorSize, 1), nil)
	if !flasherr.IsDisconnected(err) {
		t.Fatalf("err = %v, want DeviceDisconnected", err)
	}
	if errors.Is(err, flasherr.ErrFatal) {
		t.Error("disconnect was retried to exhaustion")
	}
}

func TestWrite_RangeBeyondFlash(t *testing.T) {
	_, f := newSession(t, nil)
	err := f.Write(context.Background(), 16*1024*1024-16, pattern(32, 0), nil)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("err = %v, want range error", err)
	}
}

func TestFlash_Cancelled(t *testing.T) {
	rom, f := newSession(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := flash.ObserverFunc(func(p flash.Progress) {
		if p.Phase == flash.PhaseWrite && p.Current == 1 {
			cancel()
		}
	})
	_, err := f.Flash(ctx, 0, pattern(4*bootrom.SectorSize, 8), obs)
	if flasherr.KindOf(err) != flasherr.KindCancelled {
		t.Fatalf("err = %v, want Cancelled", err)
	}
	if n := rom.Count("FlashWrite4K"); n != 1 {
		t.Errorf("FlashWrite4K sent %d times after cancel, want 1", n)
	}
}

func TestFlashImage_Segments(t *testing.T) {
	rom, f := newSession(t, nil)
	img := &firmware.Image{Name: "app", Segments: []firmware.Segment{
		{Address: 0x0000, Data: pattern(0x1800, 1)},
		{Address: 0x11000, Data: pattern(0x800, 2)},
	}}

	var phases []flash.Phase
	obs := flash.ObserverFunc(func(p flash.Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	})
	res, err := f.FlashImage(context.Background(), img, obs)
	if err != nil {
		t.Fatalf("FlashImage failed: %v", err)
	}
	for _, s := range img.Segments {
		if got := rom.Memory(s.Address, uint32(len(s.Data))); !bytes.Equal(got, s.Data) {
			t.Errorf("segment 0x%X not written", s.Address)
		}
	}
	if len(res.Verify.Regions) != 3 {
		t.Errorf("verified %d regions, want 3", len(res.Verify.Regions))
	}
	if phases[0] != flash.PhaseUnprotect || phases[len(phases)-1] != flash.PhaseComplete {
		t.Errorf("phases = %v", phases)
	}
}

// ============================================================
// Erase
// ============================================================

func TestErase_FollowsPlan(t *testing.T) {
	rom, f := newSession(t, nil)
	rom.Load(0, bytes.Repeat([]byte{0x00}, 0x40000))

	if err := f.Erase(context.Background(), 0x1000, 0x21000, nil); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	blocks, sectors := flash.EraseTotals(0x1000, 0x21000)
	if rom.Count("FlashErase64K") != blocks || rom.Count("FlashErase4K") != sectors {
		t.Errorf("sent %d blocks and %d sectors, plan has %d and %d",
			rom.Count("FlashErase64K"), rom.Count("FlashErase4K"), blocks, sectors)
	}
	if got := rom.Memory(0x1000, 0x21000); !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 0x21000)) {
		t.Error("window not erased")
	}
	if got := rom.Memory(0, 0x1000); !bytes.Equal(got, make([]byte, 0x1000)) {
		t.Error("bytes before the window were erased")
	}
	if got := rom.Memory(0x22000, 0x1000); !bytes.Equal(got, make([]byte, 0x1000)) {
		t.Error("bytes after the window were erased")
	}
}

func TestErase_RejectedSectorRetried(t *testing.T) {
	rom, f := newSession(t, nil)
	rom.RejectErases(0x3000, 1)

	if err := f.Erase(context.Background(), 0x3000, 0x1000, nil); err != nil {
		t.Fatalf("Erase failed: %v", err)
	}
	if n := rom.Count("FlashErase4K"); n != 2 {
		t.Errorf("FlashErase4K sent %d times, want 2", n)
	}
}

func TestEraseChip(t *testing.T) {
	rom, f := newSession(t, nil)
	rom.Load(0x100, []byte{1, 2, 3})
	if err := f.EraseChip(context.Background(), nil); err != nil {
		t.Fatalf("EraseChip failed: %v", err)
	}
	if got := rom.Memory(0x100, 3); !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF}) {
		t.Errorf("flash not erased: % X", got)
	}
}

func TestEraseChip_RetriedOnCorruptReply(t *testing.T) {
	rom, f := newSession(t, nil)
	rom.Load(0x100, []byte{1, 2, 3})
	rom.CorruptResponses(1)

	if err := f.EraseChip(context.Background(), nil); err != nil {
		t.Fatalf("EraseChip failed: %v", err)
	}
	if n := rom.Count("FlashEraseAll"); n != 2 {
		t.Errorf("FlashEraseAll sent %d times, want 2", n)
	}
	if got := rom.Memory(0x100, 3); !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF}) {
		t.Errorf("flash not erased: % X", got)
	}
}

func TestEraseChip_ExhaustionNamesOperation(t *testing.T) {
	rom, f := newSession(t, nil)
	rom.CorruptResponses(1000)

	err := f.EraseChip(context.Background(), nil)
	if !errors.Is(err, flasherr.ErrFatal) {
		t.Fatalf("err = %v, want Fatal", err)
	}
	var fe *flasherr.Error
	if !errors.As(err, &fe) || fe.Op != "erase chip" || !fe.HasAddress {
		t.Errorf("error does not name the operation and address: %v", err)
	}
	if flasherr.KindOf(err) != flasherr.KindProtocolMismatch {
		t.Errorf("root kind = %s, want ProtocolMismatch", flasherr.KindOf(err))
	}
	if n := rom.Count("FlashEraseAll"); n < 2 {
		t.Errorf("FlashEraseAll sent %d times, want retries", n)
	}
}

// ============================================================
// Read and verify
// ============================================================

func TestRead_Unaligned(t *testing.T) {
	rom, f := newSession(t, nil)
	data := pattern(5000, 11)
	rom.Load(0x1234, data)

	got, err := f.Read(context.Background(), 0x1234, uint32(len(data)), nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read data differs")
	}
	if n := rom.Count("FlashRead4K"); n != 2 {
		t.Errorf("FlashRead4K sent %d times, want 2", n)
	}
}

func TestVerify_PartialFailure(t *testing.T) {
	tests := []struct {
		name    string
		lies    []uint32
		budget  int
		success bool
	}{
		{"no failures", nil, 0, true},
		{"two failures within budget of two", []uint32{0x0000, 0x2000}, 2, true},
		{"three failures over budget of two", []uint32{0x0000, 0x1000, 0x3000}, 2, false},
		{"one failure without partial failure", []uint32{0x1000}, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []flash.Option
			if tt.budget >= 0 {
				opts = append(opts, flash.WithPartialFailure(tt.budget))
			}
			rom, f := newSession(t, nil, opts...)
			data := pattern(4*bootrom.SectorSize, 12)
			rom.Load(0, data)
			for _, a := range tt.lies {
				rom.LieAboutCRC(a, -1)
			}

			report, err := f.Verify(context.Background(), 0, data, nil)
			if report.Success != tt.success {
				t.Errorf("Success = %v, want %v", report.Success, tt.success)
			}
			if tt.success {
				if err != nil {
					t.Fatalf("Verify failed: %v", err)
				}
				if len(report.Failed) != len(tt.lies) {
					t.Errorf("%d failed regions, want %d", len(report.Failed), len(tt.lies))
				}
				return
			}
			if flasherr.KindOf(err) != flasherr.KindCrcMismatch {
				t.Errorf("err = %v, want CrcMismatch", err)
			}
		})
	}
}

func TestVerify_TransientMismatchRechecked(t *testing.T) {
	rom, f := newSession(t, nil)
	data := pattern(bootrom.SectorSize, 13)
	rom.Load(0x5000, data)
	rom.LieAboutCRC(0x5000, 1)

	report, err := f.Verify(context.Background(), 0x5000, data, nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if len(report.Failed) != 0 || !report.Success {
		t.Errorf("report = %+v, want clean success", report)
	}
	if f.Statistics().Retries == 0 {
		t.Error("mismatch was not re-checked")
	}
}

func TestVerify_ExtendedCRCOnLargeParts(t *testing.T) {
	tests := []struct {
		name    string
		mid     uint32
		wantCmd string
		other   string
	}{
		{"16 MiB part", 0x1540C8, "CheckCRC", "CheckCRCExt"},
		{"512 MiB part", 0x1A20C2, "CheckCRCExt", "CheckCRC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom, f := newSession(t, []simrom.Option{simrom.WithFlash(tt.mid)})
			data := pattern(2*bootrom.SectorSize, 4)
			rom.Load(0x2000, data)

			report, err := f.Verify(context.Background(), 0x2000, data, nil)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if !report.Success || len(report.Regions) != 2 {
				t.Errorf("report = %+v, want 2 matching regions", report)
			}
			if n := rom.Count(tt.wantCmd); n != 2 {
				t.Errorf("%s sent %d times, want 2", tt.wantCmd, n)
			}
			if n := rom.Count(tt.other); n != 0 {
				t.Errorf("%s sent %d times, want 0", tt.other, n)
			}
		})
	}
}

func TestVerify_SkipsBlankWindows(t *testing.T) {
	rom, f := newSession(t, nil)
	data := append(bytes.Repeat([]byte{0xFF}, bootrom.SectorSize), pattern(100, 1)...)
	rom.Load(0, data)

	report, err := f.Verify(context.Background(), 0, data, nil)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if report.Skipped != 1 || len(report.Regions) != 1 {
		t.Errorf("skipped %d, checked %d; want 1 and 1", report.Skipped, len(report.Regions))
	}
}

// ============================================================
// Protection
// ============================================================

func TestProtect_PreservesOtherBits(t *testing.T) {
	rom, f := newSession(t, []simrom.Option{simrom.WithStatusRegister(0x0203)})
	ctx := context.Background()

	if err := f.Protect(ctx); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	if sr := rom.StatusRegister(); sr != 0x021F {
		t.Errorf("status register = 0x%04X, want 0x021F", sr)
	}
	protected, err := f.Protected(ctx)
	if err != nil || !protected {
		t.Errorf("Protected = %v, %v", protected, err)
	}

	if err := f.Unprotect(ctx); err != nil {
		t.Fatalf("Unprotect failed: %v", err)
	}
	if sr := rom.StatusRegister(); sr != 0x0203 {
		t.Errorf("status register = 0x%04X, want 0x0203", sr)
	}
}

func TestProtect_AlreadyInTargetState(t *testing.T) {
	rom, f := newSession(t, []simrom.Option{simrom.WithStatusRegister(0x001C)})
	if err := f.Protect(context.Background()); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	if n := rom.Count("FlashWriteSR"); n != 0 {
		t.Errorf("FlashWriteSR sent %d times, want 0", n)
	}
}

func TestWrite_UnprotectsFirst(t *testing.T) {
	rom, f := newSession(t, []simrom.Option{simrom.WithStatusRegister(0x001C)}, flash.WithRetries(0))
	data := pattern(bootrom.SectorSize, 3)

	if err := f.Write(context.Background(), 0x4000, data, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := rom.Memory(0x4000, uint32(len(data))); !bytes.Equal(got, data) {
		t.Error("flash contents differ from image")
	}
	if rom.StatusRegister()&0x7C != 0x1C {
		t.Errorf("status register 0x%04X: flash not protected after write", rom.StatusRegister())
	}
}

func TestWrite_KeepsProtectionOffWhenDisabled(t *testing.T) {
	rom, f := newSession(t, []simrom.Option{simrom.WithStatusRegister(0x001C)}, flash.WithProtect(false))

	if err := f.Write(context.Background(), 0x4000, pattern(bootrom.SectorSize, 3), nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if sr := rom.StatusRegister(); sr&0x7C != 0 {
		t.Errorf("status register = 0x%04X, want protection cleared", sr)
	}
}

// ============================================================
// Progress and statistics
// ============================================================

func TestChannelObserver_DropsWhenFull(t *testing.T) {
	ch := make(chan flash.Progress, 1)
	obs := flash.ChannelObserver(ch)
	obs.Progress(flash.Progress{Phase: flash.PhaseErase})
	obs.Progress(flash.Progress{Phase: flash.PhaseWrite})

	if p := <-ch; p.Phase != flash.PhaseErase {
		t.Errorf("first report phase = %s", p.Phase)
	}
	select {
	case p := <-ch:
		t.Errorf("unexpected report %+v", p)
	default:
	}
}

func TestStatistics_String(t *testing.T) {
	_, f := newSession(t, nil, flash.WithProtect(false))
	if err := f.Write(context.Background(), 0, pattern(bootrom.SectorSize, 1), nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := f.Statistics().String()
	for _, want := range []string{"Sectors Written", "CRC Checks", "Frames Sent"} {
		if !strings.Contains(out, want) {
			t.Errorf("statistics missing %q:\n%s", want, out)
		}
	}

	f.Statistics().Reset()
	if f.Statistics().SectorsWritten != 0 {
		t.Error("Reset did not clear counters")
	}
}
