// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import "time"

// Phase names a step of a flashing session
type Phase string

// Phases, in the order Flash runs them
const (
	PhaseConnect   Phase = "connect"
	PhaseUnprotect Phase = "unprotect"
	PhaseErase     Phase = "erase"
	PhaseWrite     Phase = "write"
	PhaseVerify    Phase = "verify"
	PhaseProtect   Phase = "protect"
	PhaseRead      Phase = "read"
	PhaseComplete  Phase = "complete"
)

// Progress is reported between steps, never from inside a frame exchange
type Progress struct {
	Phase Phase

	// Current and Total count steps of the phase (erase operations,
	// sectors)
	Current int
	Total   int

	// Address is the flash address of the step just finished
	Address uint32

	// Bytes counts payload bytes handled so far in the phase
	Bytes int

	Percentage float64
	Elapsed    time.Duration
}

// Observer receives progress reports
type Observer interface {
	Progress(p Progress)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Progress)

// Progress implements Observer
func (fn ObserverFunc) Progress(p Progress) {
	fn(p)
}

// ChannelObserver forwards reports to ch, dropping them when ch is full so
// a slow reader never stalls the link
type ChannelObserver chan<- Progress

// Progress implements Observer
func (ch ChannelObserver) Progress(p Progress) {
	select {
	case ch <- p:
	default:
	}
}

// reporter stamps and forwards progress for one phase
type reporter struct {
	obs   Observer
	phase Phase
	total int
	start time.Time
}

func newReporter(obs Observer, phase Phase, total int) *reporter {
	return &reporter{obs: obs, phase: phase, total: total, start: time.Now()}
}

func (r *reporter) report(current int, addr uint32, bytes int) {
	if r.obs == nil {
		return
	}
	pct := 100.0
	if r.total > 0 {
		pct = float64(current) * 100.0 / float64(r.total)
	}
	r.obs.Progress(Progress{
		Phase:      r.phase,
		Current:    current,
		Total:      r.total,
		Address:    addr,
		Bytes:      bytes,
		Percentage: pct,
		Elapsed:    time.Since(r.start),
	})
}
