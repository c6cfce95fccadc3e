// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"golang.org/x/term"

	"github.com/Thermoquad/kiln/pkg/bootrom"
	"github.com/Thermoquad/kiln/pkg/flash"
	"github.com/Thermoquad/kiln/pkg/simrom"
	"github.com/Thermoquad/kiln/pkg/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("KILN_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// selectedFamily parses --family
func selectedFamily() (bootrom.Family, error) {
	return bootrom.ParseFamily(familyName)
}

// OpenTransport opens a simulated ROM, a WebSocket bridge or a serial
// port, based on flags
func OpenTransport(ctx context.Context) (transport.Transport, string, error) {
	family, err := selectedFamily()
	if err != nil {
		return nil, "", err
	}

	if simulate {
		if family == bootrom.FamilyYModem {
			return nil, "", fmt.Errorf("--simulate supports boot ROM families only")
		}
		rom := simrom.New(simrom.WithFamily(family))
		return rom, rom.String(), nil
	}

	if wsURL != "" {
		// WebSocket mode
		password := ""
		if wsUsername != "" {
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		ws, err := transport.DialWebSocket(dialCtx, wsURL, transport.DialOptions{
			Username:      wsUsername,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}
		if err := ws.SetBaudRate(baudRate); err != nil {
			ws.Close()
			return nil, "", err
		}
		return ws, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		// Serial mode
		port, err := transport.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --simulate must be specified")
}

// flashOptions builds the flasher configuration from flags
func flashOptions(extra ...flash.Option) []flash.Option {
	opts := []flash.Option{
		flash.WithReset(!noReset),
		flash.WithRetries(retries),
	}
	if flashBaud != 0 && flashBaud != baudRate {
		opts = append(opts, flash.WithBaudRate(flashBaud))
	}
	return append(opts, extra...)
}

// connectFlasher opens the transport and brings up the boot ROM link.
// The returned cleanup closes the transport.
func connectFlasher(ctx context.Context, extra ...flash.Option) (*flash.Flasher, func(), error) {
	family, err := selectedFamily()
	if err != nil {
		return nil, nil, err
	}
	if family == bootrom.FamilyYModem {
		return nil, nil, fmt.Errorf("%s has no boot ROM protocol; use the ymodem command", family)
	}

	t, info, err := OpenTransport(ctx)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("Connection: %s\n", info)

	f, err := flash.Connect(ctx, t, family, flashOptions(extra...)...)
	if err != nil {
		t.Close()
		return nil, nil, err
	}
	fmt.Printf("Flash: %s\n", f.Descriptor())
	return f, func() {
		if err := t.Close(); err != nil {
			glog.Warningf("failed to close transport: %v", err)
		}
	}, nil
}

// signalContext returns a context cancelled by Ctrl+C
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
