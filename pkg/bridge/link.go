// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Link is the byte stream a Client or Server talks over
type Link interface {
	io.ReadWriteCloser
}

// SerialLink is a serial port carrying bridge packets
type SerialLink struct {
	serial.Port
	name string
}

// Name returns the port device name
func (s *SerialLink) Name() string { return s.name }

// OpenSerial opens portName at 8N1
func OpenSerial(portName string, baudRate int) (*SerialLink, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return &SerialLink{Port: port, name: portName}, nil
}

// WebSocketLink presents the binary messages of a WebSocket connection as
// one byte stream. Text messages are skipped.
type WebSocketLink struct {
	conn *websocket.Conn
	cur  io.Reader // current message, nil between messages
	err  error     // sticky read error

	wmu sync.Mutex
}

// NewWebSocketLink wraps an established WebSocket connection
func NewWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	return &WebSocketLink{conn: conn}
}

func (w *WebSocketLink) Read(p []byte) (int, error) {
	for w.err == nil {
		if w.cur == nil {
			kind, r, err := w.conn.NextReader()
			if err != nil {
				w.err = err
				break
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			w.cur = r
		}

		n, err := w.cur.Read(p)
		if errors.Is(err, io.EOF) {
			w.cur = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
	return 0, w.err
}

// Write sends p as one binary message
func (w *WebSocketLink) Write(p []byte) (int, error) {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying connection
func (w *WebSocketLink) Close() error {
	return w.conn.Close()
}

// OpenWebSocket dials a ws:// or wss:// bridge, sending HTTP Basic
// credentials when a username is given
func OpenWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocketLink, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	switch u.Scheme {
	case "ws":
	case "wss":
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	headers := http.Header{}
	if username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+auth)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return NewWebSocketLink(conn), nil
}
