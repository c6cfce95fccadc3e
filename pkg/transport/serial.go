// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/Thermoquad/kiln/pkg/flasherr"
)

// Serial is a Transport over a local serial port
type Serial struct {
	port serial.Port
	name string
	mode serial.Mode
}

// OpenSerial opens a serial port at 8N1 and the given baud rate
func OpenSerial(portName string, baudRate int) (*Serial, error) {
	mode := serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, &mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, mapSerialError(err))
	}
	glog.V(1).Infof("opened %s at %d baud", portName, baudRate)

	return &Serial{port: port, name: portName, mode: mode}, nil
}

// Name returns the port device name
func (s *Serial) Name() string {
	return s.name
}

// BaudRate returns the current line rate
func (s *Serial) BaudRate() int {
	return s.mode.BaudRate
}

// Read implements Transport
func (s *Serial) Read(max int, timeout time.Duration) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return nil, mapSerialError(err)
	}
	buf := make([]byte, max)
	n, err := s.port.Read(buf)
	if err != nil {
		return buf[:n], mapSerialError(err)
	}
	return buf[:n], nil
}

// Write implements Transport
func (s *Serial) Write(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return mapSerialError(err)
		}
		p = p[n:]
	}
	return nil
}

// SetControlSignals implements Transport
func (s *Serial) SetControlSignals(dtr, rts bool) error {
	if err := s.port.SetDTR(dtr); err != nil {
		return mapSerialError(err)
	}
	if err := s.port.SetRTS(rts); err != nil {
		return mapSerialError(err)
	}
	return nil
}

// SetBaudRate implements BaudRateSetter
func (s *Serial) SetBaudRate(baud int) error {
	mode := s.mode
	mode.BaudRate = baud
	if err := s.port.SetMode(&mode); err != nil {
		return mapSerialError(err)
	}
	s.mode = mode
	glog.V(1).Infof("%s: baud rate now %d", s.name, baud)
	return nil
}

// ResetInputBuffer implements InputFlusher
func (s *Serial) ResetInputBuffer() error {
	return mapSerialError(s.port.ResetInputBuffer())
}

// Close implements Transport
func (s *Serial) Close() error {
	return s.port.Close()
}

// mapSerialError marks errors meaning the port is gone as DeviceDisconnected
func mapSerialError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return flasherr.New(flasherr.KindDeviceDisconnected, "serial", err)
	}
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortClosed, serial.PortNotFound:
			return flasherr.New(flasherr.KindDeviceDisconnected, "serial", err)
		}
	}
	return err
}
