// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
	"github.com/Thermoquad/ilcbus/pkg/ilc"
	"github.com/Thermoquad/ilcbus/pkg/ilcsim"
)

var (
	serveListen string
	servePath   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the FPGA simulator over the bridge protocol",
	Long: `Expose the built-in FPGA simulator as a bridge, so the other commands
can be exercised without hardware.

WebSocket: --listen :8080 [--path /ws] [--username user]
Serial:    --port /dev/ttyUSB1 [--baud 115200]

Clients connect with --url ws://host:8080/ws or the other end of the serial
line. One WebSocket client is served at a time. When --username is set,
clients must authenticate with HTTP Basic auth; the password is read from
ILCBUS_PASSWORD or prompted.

--sim-fault-rate injects dropped and corrupted replies.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "WebSocket listen address (e.g. :8080)")
	serveCmd.Flags().StringVar(&servePath, "path", "/ws", "WebSocket endpoint path")
}

func runServe(cmd *cobra.Command, args []string) error {
	dm, _, err := loadDeviceMap()
	if err != nil {
		return err
	}
	sim := ilcsim.New(dm)
	if simFaultRate > 0 {
		injectFaults(sim, simFaultRate)
	}
	server := bridge.NewServer(sim, bridge.WithLogger(newLogger(os.Stderr)))

	fmt.Printf("ilcbus - Simulated Bridge\n")
	fmt.Printf("Devices: %d FA, %d HP, %d HM\n",
		dm.Count(ilc.ClassFA), dm.Count(ilc.ClassHP), dm.Count(ilc.ClassHM))

	switch {
	case portName != "":
		link, err := bridge.OpenSerial(portName, baudRate)
		if err != nil {
			return err
		}
		defer link.Close()
		fmt.Printf("Serving on %s @ %d baud\n", portName, baudRate)
		return server.Serve(link)

	case serveListen != "":
		password := ""
		if wsUsername != "" {
			password, err = GetPassword()
			if err != nil {
				return err
			}
		}
		mux := http.NewServeMux()
		mux.Handle(servePath, newBridgeHandler(server, wsUsername, password))
		if metricsAddr != "" {
			log.Printf("--metrics-addr is ignored by serve")
		}
		fmt.Printf("Serving on ws://%s%s\n", serveListen, servePath)
		return http.ListenAndServe(serveListen, mux)

	default:
		return fmt.Errorf("one of --listen or --port must be specified")
	}
}

// bridgeHandler upgrades HTTP requests and serves one bridge client at a time
type bridgeHandler struct {
	server   *bridge.Server
	username string
	password string
	upgrader websocket.Upgrader
	mu       sync.Mutex
}

func newBridgeHandler(server *bridge.Server, username, password string) *bridgeHandler {
	return &bridgeHandler{
		server:   server,
		username: username,
		password: password,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *bridgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="ilcbus"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}
	link := bridge.NewWebSocketLink(conn)
	defer link.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("Client connected: %s", r.RemoteAddr)
	err = h.server.Serve(link)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("Client %s: %v", r.RemoteAddr, err)
		return
	}
	log.Printf("Client disconnected: %s", r.RemoteAddr)
}
