// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/kiln/pkg/flasherr"
)

// Bridge message kinds. Every WebSocket binary message is a CBOR array
// [kind, payload].
const (
	MsgData    = 0 // payload: byte string of serial data
	MsgControl = 1 // payload: {0: dtr, 1: rts}
	MsgBaud    = 2 // payload: uint baud rate
)

// Control map keys
const (
	ControlKeyDTR = 0
	ControlKeyRTS = 1
)

type envelope struct {
	_       struct{} `cbor:",toarray"`
	Kind    uint8
	Payload cbor.RawMessage
}

// EncodeEnvelope builds a bridge message
func EncodeEnvelope(kind uint8, payload interface{}) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bridge payload: %w", err)
	}
	return cbor.Marshal(envelope{Kind: kind, Payload: raw})
}

// DecodeEnvelope splits a bridge message into its kind and raw payload
func DecodeEnvelope(data []byte) (uint8, cbor.RawMessage, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty CBOR payload")
	}
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return 0, nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return env.Kind, env.Payload, nil
}

// WebSocket is a Transport over a WebSocket serial bridge. A reader
// goroutine moves incoming data into a channel so that a read timeout
// never interrupts the socket itself.
type WebSocket struct {
	conn     *websocket.Conn
	incoming chan []byte
	done     chan struct{}

	mu      sync.Mutex // guards writes
	pending []byte

	errMu   sync.Mutex
	readErr error
}

// DialOptions configures DialWebSocket
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	Timeout       time.Duration
}

// DialWebSocket connects to a bridge with optional HTTP Basic auth
func DialWebSocket(ctx context.Context, wsURL string, opts DialOptions) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	glog.V(1).Infof("connected to bridge %s", wsURL)

	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established connection and starts its reader
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	w := &WebSocket{
		conn:     conn,
		incoming: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocket) readLoop() {
	defer close(w.incoming)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.setErr(err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		kind, payload, err := DecodeEnvelope(data)
		if err != nil {
			glog.Warningf("bridge: dropping malformed message: %v", err)
			continue
		}
		if kind != MsgData {
			continue
		}
		var chunk []byte
		if err := cbor.Unmarshal(payload, &chunk); err != nil {
			glog.Warningf("bridge: dropping malformed data message: %v", err)
			continue
		}
		select {
		case w.incoming <- chunk:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocket) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.readErr == nil {
		w.readErr = err
	}
}

func (w *WebSocket) lostErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	err := w.readErr
	if err == nil {
		err = ErrClosed
	}
	return flasherr.New(flasherr.KindDeviceDisconnected, "websocket", err)
}

// Read implements Transport
func (w *WebSocket) Read(max int, timeout time.Duration) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	if len(w.pending) == 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case chunk, ok := <-w.incoming:
			if !ok {
				return nil, w.lostErr()
			}
			w.pending = chunk
		case <-timer.C:
			return []byte{}, nil
		}
	}
	n := len(w.pending)
	if n > max {
		n = max
	}
	out := append([]byte(nil), w.pending[:n]...)
	w.pending = w.pending[n:]
	return out, nil
}

func (w *WebSocket) send(kind uint8, payload interface{}) error {
	msg, err := EncodeEnvelope(kind, payload)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return flasherr.New(flasherr.KindDeviceDisconnected, "websocket", err)
	}
	return nil
}

// Write implements Transport
func (w *WebSocket) Write(p []byte) error {
	return w.send(MsgData, p)
}

// SetControlSignals implements Transport
func (w *WebSocket) SetControlSignals(dtr, rts bool) error {
	return w.send(MsgControl, map[int]bool{ControlKeyDTR: dtr, ControlKeyRTS: rts})
}

// SetBaudRate implements BaudRateSetter
func (w *WebSocket) SetBaudRate(baud int) error {
	return w.send(MsgBaud, uint64(baud))
}

// ResetInputBuffer implements InputFlusher. Data already queued by the
// reader is discarded.
func (w *WebSocket) ResetInputBuffer() error {
	w.pending = nil
	for {
		select {
		case _, ok := <-w.incoming:
			if !ok {
				return w.lostErr()
			}
		default:
			return nil
		}
	}
}

// Close implements Transport
func (w *WebSocket) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.conn.Close()
}
