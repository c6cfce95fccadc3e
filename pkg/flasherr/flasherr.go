// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flasherr defines the error taxonomy shared by the Kiln flashing
// packages.
//
// Every failure that reaches a caller carries one root Kind. Low-level
// packages return typed errors that report their kind through a Kind()
// method; higher layers wrap them in *Error to add the failing operation and
// flash address.
package flasherr

import (
	"errors"
	"fmt"
)

// Kind classifies the root cause of a flashing failure
type Kind int

// Error kinds
const (
	KindUnknown Kind = iota
	KindProtocolMismatch
	KindTimeout
	KindCrcMismatch
	KindDeviceDisconnected
	KindCancelled
	KindFatal
)

// String returns the kind name used in user-facing messages
func (k Kind) String() string {
	switch k {
	case KindProtocolMismatch:
		return "protocol mismatch"
	case KindTimeout:
		return "timeout"
	case KindCrcMismatch:
		return "crc mismatch"
	case KindDeviceDisconnected:
		return "device disconnected"
	case KindCancelled:
		return "cancelled"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a kind
var (
	ErrProtocolMismatch   = &kindError{KindProtocolMismatch}
	ErrTimeout            = &kindError{KindTimeout}
	ErrCrcMismatch        = &kindError{KindCrcMismatch}
	ErrDeviceDisconnected = &kindError{KindDeviceDisconnected}
	ErrCancelled          = &kindError{KindCancelled}
	ErrFatal              = &kindError{KindFatal}
)

type kindError struct {
	kind Kind
}

func (e *kindError) Error() string {
	return e.kind.String()
}

// Kind returns the sentinel's kind
func (e *kindError) Kind() Kind {
	return e.kind
}

// Kinder is implemented by errors that know their root kind
type Kinder interface {
	Kind() Kind
}

// Error is a structured failure naming the operation, the flash address
// (when there is one) and the root error.
type Error struct {
	Kind       Kind
	Op         string
	Address    uint32
	HasAddress bool
	Err        error
}

// New creates an *Error without an address
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// AtAddress creates an *Error for the given flash address
func AtAddress(kind Kind, op string, addr uint32, err error) *Error {
	return &Error{Kind: kind, Op: op, Address: addr, HasAddress: true, Err: err}
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Op
	if e.HasAddress {
		msg = fmt.Sprintf("%s at 0x%08X", msg, e.Address)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Kind)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	if k, ok := target.(*kindError); ok {
		return k.kind == e.Kind
	}
	return false
}

// KindOf walks the error chain and returns the first kind it finds.
// A Fatal wrapper is looked through so the root cause is reported; Fatal is
// only returned when nothing beneath it has a kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	fatal := false
	for e := err; e != nil; e = errors.Unwrap(e) {
		var k Kind
		switch v := e.(type) {
		case *Error:
			k = v.Kind
		case Kinder:
			k = v.Kind()
		default:
			continue
		}
		if k == KindFatal {
			fatal = true
			continue
		}
		if k != KindUnknown {
			return k
		}
	}
	if fatal {
		return KindFatal
	}
	return KindUnknown
}

// IsDisconnected reports whether err was caused by loss of the transport
func IsDisconnected(err error) bool {
	return KindOf(err) == KindDeviceDisconnected
}

// Cancelled wraps a context error as a Cancelled failure
func Cancelled(op string, err error) *Error {
	return New(KindCancelled, op, err)
}
