// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"

	"github.com/Thermoquad/kiln/pkg/flasherr"
)

// TimeoutError reports a response that did not complete within its
// deadline. Partial data is never padded.
type TimeoutError struct {
	Command  string
	Timeout  time.Duration
	Expected int
	Received int
}

// Error implements the error interface
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: response timeout after %v: received %d of %d bytes",
		e.Command, e.Timeout, e.Received, e.Expected)
}

// Kind reports KindTimeout
func (e *TimeoutError) Kind() flasherr.Kind {
	return flasherr.KindTimeout
}

// stateError is a link check outcome
type stateError struct {
	msg  string
	kind flasherr.Kind
}

func (e *stateError) Error() string {
	return e.msg
}

func (e *stateError) Kind() flasherr.Kind {
	return e.kind
}

// Link check outcomes
var (
	// ErrDeviceAbsent means no attempt received a single byte
	ErrDeviceAbsent = &stateError{"device absent: no reply to link check", flasherr.KindTimeout}

	// ErrDeviceBusy means bytes arrived but never formed a valid reply
	ErrDeviceBusy = &stateError{"device busy: link check answered with malformed data", flasherr.KindProtocolMismatch}
)
