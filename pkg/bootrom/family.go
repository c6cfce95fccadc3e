// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootrom

import (
	"fmt"
	"strings"
	"time"
)

// Family identifies a chip family
type Family string

// Supported families
const (
	FamilyBK7231 Family = "bk7231"
	FamilyT5     Family = "t5"
	FamilyYModem Family = "ymodem"
)

// Families lists every supported family in display order
var Families = []Family{FamilyBK7231, FamilyT5, FamilyYModem}

// ParseFamily resolves a family name, case-insensitively
func ParseFamily(name string) (Family, error) {
	for _, f := range Families {
		if strings.EqualFold(name, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown chip family %q (supported: %s)", name, familyList())
}

func familyList() string {
	names := make([]string, len(Families))
	for i, f := range Families {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Profile holds the per-family differences of the boot ROM protocol
type Profile struct {
	Family Family
	Name   string

	// CRCEndInclusive selects whether CheckCRC carries the last address of
	// the range (BK) or one past it (T5)
	CRCEndInclusive bool

	// BaudSettleDelay is sent with SetBaud; both sides switch after it
	BaudSettleDelay time.Duration

	// ResetPulse is how long RTS is held to reset the chip
	ResetPulse time.Duration

	// Bootloader entry spams link checks at this cadence
	EntryInterval time.Duration
	EntryAttempts int

	// ChipIDRegister holds the chip identifier readable with ReadReg
	ChipIDRegister uint32

	// DefaultBaud is the rate the ROM starts at
	DefaultBaud int
}

var (
	profileBK7231 = Profile{
		Family:          FamilyBK7231,
		Name:            "BK7231",
		CRCEndInclusive: true,
		BaudSettleDelay: 20 * time.Millisecond,
		ResetPulse:      300 * time.Millisecond,
		EntryInterval:   5 * time.Millisecond,
		EntryAttempts:   600,
		ChipIDRegister:  0x00800000,
		DefaultBaud:     115200,
	}

	profileT5 = Profile{
		Family:          FamilyT5,
		Name:            "T5",
		CRCEndInclusive: false,
		BaudSettleDelay: 100 * time.Millisecond,
		ResetPulse:      100 * time.Millisecond,
		EntryInterval:   10 * time.Millisecond,
		EntryAttempts:   400,
		ChipIDRegister:  0x44010000,
		DefaultBaud:     115200,
	}
)

// ProfileFor returns the protocol profile of a frame-based family
func ProfileFor(f Family) (Profile, error) {
	switch f {
	case FamilyBK7231:
		return profileBK7231, nil
	case FamilyT5:
		return profileT5, nil
	case FamilyYModem:
		return Profile{}, fmt.Errorf("%s: %w", f, ErrNoFrameCodec)
	}
	return Profile{}, fmt.Errorf("unknown chip family %q", f)
}

// NewCodec returns the frame codec for a chip family
func NewCodec(f Family) (*Codec, error) {
	p, err := ProfileFor(f)
	if err != nil {
		return nil, err
	}
	return &Codec{profile: p}, nil
}
