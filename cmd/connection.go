// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/ilcbus/pkg/bridge"
	"github.com/Thermoquad/ilcbus/pkg/ilc"
	"github.com/Thermoquad/ilcbus/pkg/ilcsim"
	"github.com/Thermoquad/ilcbus/pkg/metrics"
)

// session is an open FPGA with the controller driving it
type session struct {
	ilc    *ilc.ILC
	dm     *ilc.DeviceMap
	fpga   ilc.FPGA
	client *bridge.Client // nil when simulating
	sim    *ilcsim.Simulator
	info   string
	opts   []ilc.Option
}

// Close releases the FPGA link
func (s *session) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("ILCBUS_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenLink opens either a serial or WebSocket link based on flags
func OpenLink() (bridge.Link, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		link, err := bridge.OpenWebSocket(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		link, err := bridge.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return link, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --simulate, --port or --url must be specified")
}

// loadDeviceMap reads --config or falls back to the built-in table
func loadDeviceMap() (*ilc.DeviceMap, *ilc.DeviceTable, error) {
	if configPath == "" {
		table := ilc.DefaultDeviceTable()
		dm, err := table.DeviceMap()
		return dm, table, err
	}
	return ilc.LoadDeviceMap(configPath)
}

// newLogger builds the library logger from --log-level
func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		log.Printf("Unknown log level %q, using warn", logLevel)
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openSession loads the device table and opens the FPGA selected by flags
func openSession(logger *slog.Logger, opts ...ilc.Option) (*session, error) {
	dm, table, err := loadDeviceMap()
	if err != nil {
		return nil, err
	}

	s := &session{dm: dm}
	if simulate {
		s.sim = ilcsim.New(dm)
		if simFaultRate > 0 {
			injectFaults(s.sim, simFaultRate)
		}
		s.fpga = s.sim
		s.info = "Simulator"
	} else {
		link, info, err := OpenLink()
		if err != nil {
			return nil, err
		}
		s.client = bridge.NewClient(link, bridge.WithLogger(logger), bridge.WithLinkTimeout(linkTimeout))
		s.fpga = s.client
		s.info = info
	}

	base := []ilc.Option{ilc.WithLogger(logger)}
	if table.Limits != nil {
		base = append(base, ilc.WithLimits(*table.Limits))
	}
	s.opts = append(base, opts...)
	s.ilc = ilc.New(s.fpga, dm, s.opts...)
	return s, nil
}

// startMetrics serves /metrics when --metrics-addr is set
func startMetrics(i *ilc.ILC) *metrics.Metrics {
	if metricsAddr == "" {
		return nil
	}
	m := metrics.New(i.Statistics())
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()
	return m
}

// injectFaults makes the simulator drop or corrupt a fraction of replies
func injectFaults(sim *ilcsim.Simulator, rate float64) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sim.Drop = func(subnet, address, fn uint8) bool {
		return rng.Float64() < rate/2
	}
	sim.Corrupt = func(subnet, address, fn uint8) bool {
		return rng.Float64() < rate/2
	}
}
