// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
	"github.com/Thermoquad/ilcbus/pkg/ilcsim"
)

var upgrader = websocket.Upgrader{}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocketLink_ServesBridge(t *testing.T) {
	dm, err := ilc.DefaultDeviceTable().DeviceMap()
	require.NoError(t, err)
	server := NewServer(ilcsim.New(dm), WithLogger(discard))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ilc" || pass != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		link := NewWebSocketLink(conn)
		defer link.Close()
		_ = server.Serve(link)
	}))
	defer srv.Close()

	_, err = OpenWebSocket(wsURL(srv), "ilc", "wrong", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")

	link, err := OpenWebSocket(wsURL(srv), "ilc", "secret", false)
	require.NoError(t, err)
	c := NewClient(link, WithLogger(discard), WithLinkTimeout(time.Second))
	defer c.Close()

	_, rtt, err := c.Ping(time.Second)
	require.NoError(t, err)
	assert.Positive(t, rtt)

	res, err := c.WaitForModbusIRQ(1, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ilc.WaitTimedOut, res)
}

func TestWebSocketLink_StreamsBinaryMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{4})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	link, err := OpenWebSocket(wsURL(srv), "", "", false)
	require.NoError(t, err)
	defer link.Close()

	var got []byte
	buf := make([]byte, 2)
	for {
		n, err := link.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
			break
		}
	}
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	// The close is sticky
	_, err = link.Read(buf)
	assert.Error(t, err)
}

func TestOpenWebSocket_RejectsScheme(t *testing.T) {
	_, err := OpenWebSocket("http://localhost:1/ws", "", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
