// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Thermoquad/kiln/pkg/bootrom"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func TestPlanErase_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		addr    uint32
		length  uint32
		blocks  int
		sectors int
		first   EraseOp
	}{
		{
			name:    "leading sector then exactly one block of sectors",
			addr:    0x1000,
			length:  0x11000,
			blocks:  0,
			sectors: 17,
			first:   EraseOp{0x1000, bootrom.EraseSector4K},
		},
		{
			name:    "aligned block plus tail",
			addr:    0x10000,
			length:  0x11000,
			blocks:  1,
			sectors: 1,
			first:   EraseOp{0x10000, bootrom.EraseBlock64K},
		},
		{
			name:    "exactly one block uses sectors",
			addr:    0,
			length:  0x10000,
			blocks:  0,
			sectors: 16,
			first:   EraseOp{0, bootrom.EraseSector4K},
		},
		{
			name:    "unaligned edges shrink the window",
			addr:    0x11800,
			length:  0x30000,
			blocks:  2,
			sectors: 15,
			first:   EraseOp{0x12000, bootrom.EraseSector4K},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := PlanErase(tt.addr, tt.length)
			blocks, sectors := EraseTotals(tt.addr, tt.length)
			if blocks != tt.blocks || sectors != tt.sectors {
				t.Errorf("totals = %d blocks, %d sectors, want %d, %d", blocks, sectors, tt.blocks, tt.sectors)
			}
			if len(ops) != tt.blocks+tt.sectors {
				t.Fatalf("plan has %d ops, want %d", len(ops), tt.blocks+tt.sectors)
			}
			if ops[0] != tt.first {
				t.Errorf("first op = %v, want %v", ops[0], tt.first)
			}
		})
	}
}

func TestPlanErase_ScenarioLayout(t *testing.T) {
	ops := PlanErase(0x1000, 0x11000)
	for i, op := range ops {
		want := uint32(0x1000 + i*bootrom.SectorSize)
		if op.Address != want || op.Size != bootrom.EraseSector4K {
			t.Errorf("op %d = %v, want 4K at 0x%08X", i, op, want)
		}
	}
	if last := ops[len(ops)-1]; last.Address+last.Bytes() != 0x12000 {
		t.Errorf("plan ends at 0x%X, want 0x12000", last.Address+last.Bytes())
	}
}

func TestPlanErase_Empty(t *testing.T) {
	tests := []struct {
		name   string
		addr   uint32
		length uint32
	}{
		{"zero length", 0x1000, 0},
		{"inside one sector", 0x1010, 0x100},
		{"straddles a boundary without a full sector", 0x1800, 0x1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ops := PlanErase(tt.addr, tt.length); len(ops) != 0 {
				t.Errorf("expected no ops, got %v", ops)
			}
		})
	}
}

func TestPlanErase_TopOfAddressSpace(t *testing.T) {
	ops := PlanErase(0xFFFF0000, 0x10000)
	if len(ops) != 16 {
		t.Fatalf("got %d ops, want 16", len(ops))
	}
	if ops[15].Address != 0xFFFFF000 {
		t.Errorf("last op at 0x%08X", ops[15].Address)
	}
}

// TestFuzzPlanErase_Coverage checks that for random ranges the plan is
// sorted, disjoint, aligned and covers exactly the erase window
func TestFuzzPlanErase_Coverage(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		addr := uint32(rng.Intn(8 << 20))
		length := uint32(rng.Intn(2 << 20))
		if rng.Intn(4) == 0 {
			addr &^= bootrom.SectorSize - 1
		}

		ops := PlanErase(addr, length)
		start, end := EraseWindow(addr, length)
		next := start
		for j, op := range ops {
			if uint64(op.Address) != next {
				t.Fatalf("Round %d (0x%X+0x%X): op %d at 0x%X, expected 0x%X", i, addr, length, j, op.Address, next)
			}
			if op.Address%op.Bytes() != 0 {
				t.Fatalf("Round %d: op %v not aligned to its size", i, op)
			}
			if op.Size == bootrom.EraseBlock64K && end-uint64(op.Address) <= bootrom.BlockSize {
				t.Fatalf("Round %d: block erase %v within the last 64 KiB", i, op)
			}
			next += uint64(op.Bytes())
		}
		if next != end {
			t.Fatalf("Round %d (0x%X+0x%X): plan ends at 0x%X, window ends at 0x%X", i, addr, length, next, end)
		}

		blocks, sectors := EraseTotals(addr, length)
		if blocks+sectors != len(ops) {
			t.Fatalf("Round %d: totals %d+%d disagree with %d ops", i, blocks, sectors, len(ops))
		}
	}
}
