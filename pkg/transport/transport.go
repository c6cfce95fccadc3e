// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte channels Kiln talks to a boot ROM
// over: a local serial port and a WebSocket serial bridge.
//
// The flashing core depends only on the Transport interface. Acquiring and
// releasing the underlying port is the caller's job.
package transport

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/Thermoquad/kiln/pkg/transport Transport

import (
	"errors"
	"time"
)

// Transport is an exclusively owned, half-duplex byte channel
type Transport interface {
	// Read waits up to timeout for data and returns at most max bytes.
	// A timeout with nothing received returns an empty slice and no error.
	Read(max int, timeout time.Duration) ([]byte, error)

	// Write sends all of p
	Write(p []byte) error

	// SetControlSignals drives the DTR and RTS lines
	SetControlSignals(dtr, rts bool) error

	// Close releases the channel
	Close() error
}

// BaudRateSetter is implemented by transports whose line rate can change
// while open
type BaudRateSetter interface {
	SetBaudRate(baud int) error
}

// InputFlusher is implemented by transports that can discard buffered
// receive data without reading it
type InputFlusher interface {
	ResetInputBuffer() error
}

// ErrClosed is returned by operations on a transport that has been closed
// or lost
var ErrClosed = errors.New("transport closed")
