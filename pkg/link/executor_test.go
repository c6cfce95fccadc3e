// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/link"
	"github.com/Thermoquad/kiln/pkg/simrom"
	"github.com/Thermoquad/kiln/pkg/transport/mocks"
)

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func bkCodec(t *testing.T) *bootrom.Codec {
	t.Helper()
	c, err := bootrom.NewCodec(bootrom.FamilyBK7231)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func newSim(t *testing.T, opts ...simrom.Option) (*simrom.ROM, *link.Executor) {
	t.Helper()
	opts = append([]simrom.Option{simrom.WithMemorySize(1 << 20), simrom.WithMaxWait(time.Millisecond)}, opts...)
	rom := simrom.New(opts...)
	return rom, link.NewExecutor(rom, bkCodec(t), link.WithSleep(noSleep))
}

func TestExecute_ChunkedResponse(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	codec := bkCodec(t)
	cmd := bootrom.ReadReg{Address: 0x00800000}
	frame, _ := codec.Encode(cmd)
	resp, _ := codec.EncodeResponse(cmd, 0, []byte{0x1C, 0x23, 0x07, 0x00})

	dev := mocks.NewMockTransport(mockCtrl)
	gomock.InOrder(
		// Stale input drain
		dev.EXPECT().Read(gomock.Any(), gomock.Any()).Return([]byte{}, nil),
		dev.EXPECT().Write(frame.Bytes()).Return(nil),
		dev.EXPECT().Read(len(resp), gomock.Any()).Return(resp[:5], nil),
		dev.EXPECT().Read(len(resp)-5, gomock.Any()).Return(resp[5:], nil),
	)

	e := link.NewExecutor(dev, codec)
	f, err := e.Execute(context.Background(), cmd, link.RegisterTimeout)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if f.Value != 0x7231C {
		t.Errorf("Value = 0x%X, want 0x7231C", f.Value)
	}
	c := e.Counters()
	if c.FramesSent != 1 || c.BytesReceived != uint64(len(resp)) {
		t.Errorf("unexpected counters %+v", c)
	}
}

func TestExecute_PartialResponseTimesOut(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	codec := bkCodec(t)
	resp, _ := codec.EncodeResponse(bootrom.LinkCheck{}, 0, nil)

	dev := mocks.NewMockTransport(mockCtrl)
	gomock.InOrder(
		dev.EXPECT().Read(gomock.Any(), gomock.Any()).Return([]byte{}, nil),
		dev.EXPECT().Write(gomock.Any()).Return(nil),
		dev.EXPECT().Read(gomock.Any(), gomock.Any()).Return(resp[:3], nil),
		dev.EXPECT().Read(gomock.Any(), gomock.Any()).DoAndReturn(func(max int, timeout time.Duration) ([]byte, error) {
			time.Sleep(timeout)
			return []byte{}, nil
		}).AnyTimes(),
	)

	e := link.NewExecutor(dev, codec)
	_, err := e.Execute(context.Background(), bootrom.LinkCheck{}, 20*time.Millisecond)

	var te *link.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Received != 3 || te.Expected != len(resp) {
		t.Errorf("received %d of %d, want 3 of %d", te.Received, te.Expected, len(resp))
	}
	if flasherr.KindOf(err) != flasherr.KindTimeout {
		t.Errorf("kind = %v, want timeout", flasherr.KindOf(err))
	}
}

func TestExecute_RebootExpectsNoReply(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	dev := mocks.NewMockTransport(mockCtrl)
	gomock.InOrder(
		dev.EXPECT().Read(gomock.Any(), gomock.Any()).Return([]byte{}, nil),
		dev.EXPECT().Write([]byte{0x01, 0xE0, 0xFC, 0x02, 0x0E, 0xA5}).Return(nil),
	)

	e := link.NewExecutor(dev, bkCodec(t))
	if err := e.Reboot(context.Background()); err != nil {
		t.Errorf("Reboot failed: %v", err)
	}
}

func TestExecute_CorruptedResponseIsMismatch(t *testing.T) {
	rom, e := newSim(t)
	rom.CorruptResponses(1)

	_, err := e.Execute(context.Background(), bootrom.LinkCheck{}, link.LinkCheckTimeout)
	if flasherr.KindOf(err) != flasherr.KindProtocolMismatch {
		t.Fatalf("kind = %v, want protocol mismatch (%v)", flasherr.KindOf(err), err)
	}
	if !bootrom.IsMismatch(err) {
		t.Error("expected the MismatchError in the chain")
	}

	// The next exchange is clean
	if _, err := e.Execute(context.Background(), bootrom.LinkCheck{}, link.LinkCheckTimeout); err != nil {
		t.Errorf("second LinkCheck failed: %v", err)
	}
	if e.Counters().Mismatches != 1 {
		t.Errorf("Mismatches = %d, want 1", e.Counters().Mismatches)
	}
}

func TestExecute_StatusErrorReturnsEarly(t *testing.T) {
	rom, e := newSim(t)
	rom.RejectErases(0x3000, 1)

	start := time.Now()
	_, err := e.Execute(context.Background(), bootrom.FlashErase{Size: bootrom.EraseSector4K, Address: 0x3000}, link.Erase4KTimeout)
	var se *bootrom.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if time.Since(start) > link.Erase4KTimeout/2 {
		t.Error("status frame waited for the full deadline")
	}
}

func TestExecute_Disconnected(t *testing.T) {
	rom, e := newSim(t)
	rom.Disconnect()

	_, err := e.Execute(context.Background(), bootrom.LinkCheck{}, link.LinkCheckTimeout)
	if !flasherr.IsDisconnected(err) {
		t.Errorf("expected disconnected error, got %v", err)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	_, e := newSim(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, bootrom.LinkCheck{}, link.LinkCheckTimeout)
	if flasherr.KindOf(err) != flasherr.KindCancelled {
		t.Errorf("kind = %v, want cancelled", flasherr.KindOf(err))
	}
}

func TestLinkCheck_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*simrom.ROM)
		expected error
	}{
		{"present", func(*simrom.ROM) {}, nil},
		{"absent", func(r *simrom.ROM) { r.SetAbsent(true) }, link.ErrDeviceAbsent},
		{"busy", func(r *simrom.ROM) { r.SetBusy(true) }, link.ErrDeviceBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom, e := newSim(t)
			tt.setup(rom)
			err := e.LinkCheck(context.Background(), 3, 5*time.Millisecond)
			if tt.expected == nil {
				if err != nil {
					t.Errorf("LinkCheck failed: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.expected) {
				t.Errorf("LinkCheck = %v, want %v", err, tt.expected)
			}
			if rom.Count("LinkCheck") != 3 {
				t.Errorf("sent %d link checks, want 3", rom.Count("LinkCheck"))
			}
		})
	}
}

func TestLinkCheck_RecoversAfterDrops(t *testing.T) {
	rom, e := newSim(t)
	rom.DropResponses(2)

	if err := e.LinkCheck(context.Background(), 5, 5*time.Millisecond); err != nil {
		t.Fatalf("LinkCheck failed: %v", err)
	}
	if rom.Count("LinkCheck") != 3 {
		t.Errorf("sent %d link checks, want 3", rom.Count("LinkCheck"))
	}
}

func TestEnterBootloader(t *testing.T) {
	rom, e := newSim(t, simrom.WithRequireReset())

	if err := e.LinkCheck(context.Background(), 2, 5*time.Millisecond); !errors.Is(err, link.ErrDeviceAbsent) {
		t.Fatalf("ROM answered before reset: %v", err)
	}
	if err := e.EnterBootloader(context.Background()); err != nil {
		t.Fatalf("EnterBootloader failed: %v", err)
	}
	if !rom.InROM() {
		t.Error("ROM not entered")
	}
}

func TestSetBaud(t *testing.T) {
	rom, e := newSim(t)

	if err := e.SetBaud(context.Background(), 921600); err != nil {
		t.Fatalf("SetBaud failed: %v", err)
	}
	if rom.Baud() != 921600 {
		t.Errorf("ROM baud = %d, want 921600", rom.Baud())
	}
	if err := e.LinkCheck(context.Background(), 3, link.LinkCheckTimeout); err != nil {
		t.Errorf("link lost after baud switch: %v", err)
	}
}

func TestSetBaud_TransportWithoutRateControl(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	dev := mocks.NewMockTransport(mockCtrl)
	e := link.NewExecutor(dev, bkCodec(t))
	if err := e.SetBaud(context.Background(), 921600); err == nil {
		t.Error("expected error for a transport without baud control")
	}
}

func TestChipAndFlashID(t *testing.T) {
	_, e := newSim(t)

	id, err := e.ChipID(context.Background())
	if err != nil {
		t.Fatalf("ChipID failed: %v", err)
	}
	if id != 0x7231C {
		t.Errorf("ChipID = 0x%X, want 0x7231C", id)
	}
	mid, err := e.FlashID(context.Background())
	if err != nil {
		t.Fatalf("FlashID failed: %v", err)
	}
	if mid != 0x1540C8 {
		t.Errorf("FlashID = 0x%06X, want 0x1540C8", mid)
	}
}

func TestTimeoutFor(t *testing.T) {
	tests := []struct {
		cmd      bootrom.Command
		expected time.Duration
	}{
		{bootrom.LinkCheck{}, link.LinkCheckTimeout},
		{bootrom.FlashErase{Size: bootrom.EraseBlock64K}, link.Erase64KTimeout},
		{bootrom.FlashErase{Size: bootrom.EraseSector4K}, link.Erase4KTimeout},
		{bootrom.CheckCRC{Length: 4096}, 108 * time.Millisecond},
		{bootrom.ReadReg{}, link.RegisterTimeout},
	}
	for _, tt := range tests {
		if got := link.TimeoutFor(tt.cmd); got != tt.expected {
			t.Errorf("TimeoutFor(%s) = %v, want %v", tt.cmd.Name(), got, tt.expected)
		}
	}
}
