// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simrom simulates a BK or T5 boot ROM with an attached SPI flash
// part. A ROM is a transport.Transport, so the flashing engines run
// against it unchanged. Faults can be injected to exercise recovery.
package simrom

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/crc"
	"github.com/Thermoquad/kiln/pkg/flasherr"
	"github.com/Thermoquad/kiln/pkg/transport"
)

// Status byte returned for flash commands the ROM rejects
const StatusRejected = 0x01

// ROM is a simulated boot ROM. It is safe for use from one host goroutine
// plus test code inspecting it.
type ROM struct {
	mu sync.Mutex

	codec *bootrom.Codec
	desc  bootrom.FlashDescriptor
	mem   []byte
	sr    uint16
	regs  map[uint32]uint32

	hostBaud int
	romBaud  int

	inROM        bool
	requireReset bool
	resetHeld    bool
	closed       bool
	disconnected bool
	maxWait      time.Duration

	in  []byte // host to device, not yet parsed
	out []byte // device to host

	counts map[string]int
	faults faults
}

type faults struct {
	absent      bool
	busy        bool
	dropNext    int
	corruptNext int
	crcLies     map[uint32]int // sector address -> remaining wrong answers, -1 forever
	badWrites   map[uint32]int // sector address -> remaining bit-flipped writes, -1 forever
	statusFails map[uint32]int // sector address -> remaining erase rejections
}

// Option configures a ROM
type Option func(*ROM)

// WithFamily selects the ROM family (default bk7231)
func WithFamily(f bootrom.Family) Option {
	return func(r *ROM) {
		c, err := bootrom.NewCodec(f)
		if err == nil {
			r.codec = c
		}
	}
}

// WithFlash selects the flash part by manufacturer ID (default GD25Q16)
func WithFlash(mid uint32) Option {
	return func(r *ROM) {
		if d, ok := bootrom.LookupFlash(mid); ok {
			r.desc = d
		}
	}
}

// WithMemorySize limits the simulated array, keeping the descriptor's
// reported size. Accesses past the array read as 0xFF and are dropped.
func WithMemorySize(n int) Option {
	return func(r *ROM) {
		r.mem = make([]byte, n)
	}
}

// WithRequireReset makes the ROM ignore the host until an RTS reset pulse
func WithRequireReset() Option {
	return func(r *ROM) {
		r.requireReset = true
		r.inROM = false
	}
}

// WithStatusRegister sets the initial status register value
func WithStatusRegister(v uint16) Option {
	return func(r *ROM) {
		r.sr = v
	}
}

// WithMaxWait caps how long Read blocks when nothing is pending. Zero
// waits the full timeout.
func WithMaxWait(d time.Duration) Option {
	return func(r *ROM) {
		r.maxWait = d
	}
}

// New creates a simulated ROM with blank (0xFF) flash
func New(opts ...Option) *ROM {
	codec, _ := bootrom.NewCodec(bootrom.FamilyBK7231)
	desc, _ := bootrom.LookupFlash(0x1540C8)
	r := &ROM{
		codec:    codec,
		desc:     desc,
		regs:     map[uint32]uint32{},
		hostBaud: 115200,
		romBaud:  115200,
		inROM:    true,
		counts:   map[string]int{},
		faults: faults{
			crcLies:     map[uint32]int{},
			badWrites:   map[uint32]int{},
			statusFails: map[uint32]int{},
		},
	}
	for _, o := range opts {
		o(r)
	}
	if r.mem == nil {
		r.mem = make([]byte, r.desc.SizeBytes)
	}
	for i := range r.mem {
		r.mem[i] = 0xFF
	}
	p := r.codec.Profile()
	r.regs[p.ChipIDRegister] = 0x7231C
	return r
}

var (
	_ transport.Transport      = (*ROM)(nil)
	_ transport.BaudRateSetter = (*ROM)(nil)
	_ transport.InputFlusher   = (*ROM)(nil)
)

// Read implements transport.Transport
func (r *ROM) Read(max int, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	if err := r.checkOpen(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if len(r.out) > 0 && r.hostBaud == r.romBaud {
		n := len(r.out)
		if n > max {
			n = max
		}
		data := append([]byte(nil), r.out[:n]...)
		r.out = r.out[n:]
		r.mu.Unlock()
		return data, nil
	}
	wait := timeout
	if r.maxWait > 0 && wait > r.maxWait {
		wait = r.maxWait
	}
	r.mu.Unlock()
	time.Sleep(wait)
	return []byte{}, nil
}

// Write implements transport.Transport
func (r *ROM) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if r.hostBaud != r.romBaud {
		return nil // garbage at the wrong rate
	}
	r.in = append(r.in, p...)
	for len(r.in) > 0 {
		cmd, n, err := r.codec.DecodeRequest(r.in)
		if n == 0 && err == nil {
			break
		}
		r.in = r.in[n:]
		if err != nil {
			glog.V(2).Infof("simrom: %v", err)
			continue
		}
		r.handle(cmd)
	}
	return nil
}

// SetControlSignals implements transport.Transport. Asserting then
// releasing RTS resets the chip into the ROM.
func (r *ROM) SetControlSignals(dtr, rts bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	if rts {
		r.resetHeld = true
		r.inROM = false
		return nil
	}
	if r.resetHeld {
		r.resetHeld = false
		r.inROM = true
		r.romBaud = r.codec.Profile().DefaultBaud
		r.in = nil
		r.out = nil
	}
	return nil
}

// SetBaudRate implements transport.BaudRateSetter
func (r *ROM) SetBaudRate(baud int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostBaud = baud
	return nil
}

// ResetInputBuffer implements transport.InputFlusher
func (r *ROM) ResetInputBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	r.out = nil
	return nil
}

// Close implements transport.Transport
func (r *ROM) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *ROM) checkOpen() error {
	if r.closed {
		return transport.ErrClosed
	}
	if r.disconnected {
		return flasherr.New(flasherr.KindDeviceDisconnected, "simrom", transport.ErrClosed)
	}
	return nil
}

// handle executes one decoded command. Called with mu held.
func (r *ROM) handle(cmd bootrom.Command) {
	r.counts[cmd.Name()]++
	if !r.inROM || r.faults.absent {
		return
	}
	if r.faults.busy {
		r.out = append(r.out, 0x04, 0x0E, 0x05, 0x00, 0x00)
		return
	}

	var status byte
	var data []byte

	switch v := cmd.(type) {
	case bootrom.LinkCheck:
	case bootrom.WriteReg:
		r.regs[v.Address] = v.Value
	case bootrom.ReadReg:
		data = binary.LittleEndian.AppendUint32(nil, r.regs[v.Address])
	case bootrom.Reboot:
		r.inROM = !r.requireReset
		return
	case bootrom.SetBaud:
		r.romBaud = int(v.Baud)
	case bootrom.CheckCRC:
		sum := crc.CalculateCRC32(r.span(v.Start, v.Length))
		if r.lie(r.faults.crcLies, v.Start) {
			sum ^= 0xA5A5A5A5
		}
		data = binary.LittleEndian.AppendUint32(nil, sum)
	case bootrom.FlashWrite4K:
		if !r.protected() {
			src := v.Data
			if r.lie(r.faults.badWrites, v.Address) {
				src = append([]byte(nil), v.Data...)
				src[damagedByte] ^= 0x01
			}
			r.program(v.Address, src)
		}
	case bootrom.FlashRead4K:
		data = r.span(v.Address, bootrom.SectorSize)
	case bootrom.FlashEraseAll:
		if !r.protected() {
			r.fill(0, uint32(len(r.mem)))
		}
	case bootrom.FlashReadSR:
		if v.Register == bootrom.SPIReadSR2 {
			data = []byte{byte(r.sr >> 8)}
		} else {
			data = []byte{byte(r.sr)}
		}
	case bootrom.FlashWriteSR:
		r.sr = (r.sr &^ 0x00FF) | uint16(v.Values[0])
		if len(v.Values) > 1 && r.desc.StatusRegisterBytes > 1 {
			r.sr = (r.sr &^ 0xFF00) | uint16(v.Values[1])<<8
		}
	case bootrom.FlashGetMID:
		mid := r.desc.ManufacturerID
		data = []byte{bootrom.SPIReadJEDECID, byte(mid), byte(mid >> 8), byte(mid >> 16)}
	case bootrom.FlashErase:
		if r.lie(r.faults.statusFails, v.Address) {
			status = StatusRejected
			break
		}
		if !r.protected() {
			r.fill(v.Address, v.Size.Bytes())
		}
	}

	resp, err := r.codec.EncodeResponse(cmd, status, data)
	if err != nil {
		glog.Errorf("simrom: %v", err)
		return
	}
	if status != 0 {
		resp = resp[:11] // short status frame
		resp[7], resp[8] = 2, 0
	}
	if r.faults.dropNext > 0 {
		r.faults.dropNext--
		return
	}
	if r.faults.corruptNext > 0 {
		r.faults.corruptNext--
		resp[1] ^= 0x01
	}
	r.out = append(r.out, resp...)
}

// damagedByte is the sector offset an injected bad write flips a bit in
const damagedByte = 100

func (r *ROM) lie(m map[uint32]int, addr uint32) bool {
	key := addr &^ (bootrom.SectorSize - 1)
	n, ok := m[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		m[key] = n - 1
	}
	return true
}

// protected reports whether any block-protect bit is set
func (r *ROM) protected() bool {
	return r.sr&r.desc.ProtectMask&0x007C != 0
}

func (r *ROM) span(addr, n uint32) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = 0xFF
	}
	if int(addr) < len(r.mem) {
		copy(out, r.mem[addr:])
	}
	return out
}

// program clears bits like NOR flash: a write can only turn 1s into 0s
func (r *ROM) program(addr uint32, data []byte) {
	for i, b := range data {
		a := int(addr) + i
		if a >= len(r.mem) {
			return
		}
		r.mem[a] &= b
	}
}

func (r *ROM) fill(addr, n uint32) {
	for a := int(addr); a < int(addr+n) && a < len(r.mem); a++ {
		r.mem[a] = 0xFF
	}
}

// ============================================================
// Test and inspection helpers
// ============================================================

// Memory returns a copy of n bytes of flash at addr
func (r *ROM) Memory(addr, n uint32) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.span(addr, n)
}

// Load writes data into flash directly, bypassing the protocol
func (r *ROM) Load(addr uint32, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range data {
		if int(addr)+i < len(r.mem) {
			r.mem[int(addr)+i] = b
		}
	}
}

// StatusRegister returns the 16-bit status register
func (r *ROM) StatusRegister() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sr
}

// Count returns how many times a command (by Name) was received
func (r *ROM) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

// InROM reports whether the chip is currently in its boot ROM
func (r *ROM) InROM() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inROM
}

// Baud returns the rate the ROM is listening at
func (r *ROM) Baud() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.romBaud
}

// Descriptor returns the simulated flash part
func (r *ROM) Descriptor() bootrom.FlashDescriptor {
	return r.desc
}

// SetAbsent makes the ROM ignore every command
func (r *ROM) SetAbsent(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults.absent = v
}

// SetBusy makes the ROM answer every command with a malformed fragment
func (r *ROM) SetBusy(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults.busy = v
}

// Disconnect makes every further transport call fail as a lost device
func (r *ROM) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

// DropResponses swallows the next n responses
func (r *ROM) DropResponses(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults.dropNext = n
}

// CorruptResponses damages echoed bytes of the next n responses
func (r *ROM) CorruptResponses(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults.corruptNext = n
}

// LieAboutCRC makes CheckCRC requests starting in the sector at addr
// return a wrong value times times (-1 forever)
func (r *ROM) LieAboutCRC(addr uint32, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults.crcLies[addr&^(bootrom.SectorSize-1)] = times
}

// DamageWrites flips a bit in the next times writes of the sector at addr
// (-1 forever)
func (r *ROM) DamageWrites(addr uint32, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults.badWrites[addr&^(bootrom.SectorSize-1)] = times
}

// RejectErases answers the next times erases at addr with a nonzero status
func (r *ROM) RejectErases(addr uint32, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults.statusFails[addr&^(bootrom.SectorSize-1)] = times
}

// String describes the ROM for logs
func (r *ROM) String() string {
	return fmt.Sprintf("simulated %s ROM with %s", r.codec.Profile().Name, r.desc)
}
