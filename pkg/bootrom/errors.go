// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bootrom

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/kiln/pkg/flasherr"
)

// ErrNoFrameCodec is returned by NewCodec for families that do not speak the
// boot ROM frame protocol
var ErrNoFrameCodec = errors.New("family has no boot ROM frame codec")

// MismatchError reports a response that failed validation. The codec never
// coerces a mismatching field.
type MismatchError struct {
	Command  string
	Field    string
	Expected uint64
	Actual   uint64
}

// Error implements the error interface
func (e *MismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch in %s response: %s expected 0x%X, got 0x%X",
		e.Command, e.Field, e.Expected, e.Actual)
}

// Kind reports KindProtocolMismatch
func (e *MismatchError) Kind() flasherr.Kind {
	return flasherr.KindProtocolMismatch
}

// StatusError reports a flash response with a nonzero status byte
type StatusError struct {
	Command string
	Status  byte
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: hardware status error 0x%02X", e.Command, e.Status)
}

// IsMismatch reports whether err is a protocol mismatch
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}
