// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
	"github.com/Thermoquad/ilcbus/pkg/ilcsim"
)

func runCycle(t *testing.T, silentAddress uint8) (*Metrics, ilc.CycleReport) {
	t.Helper()
	dm, err := ilc.DefaultDeviceTable().DeviceMap()
	require.NoError(t, err)

	sim := ilcsim.New(dm)
	sim.Drop = func(subnet, address, fn uint8) bool {
		return subnet == 3 && address == silentAddress
	}

	i := ilc.New(sim, dm, ilc.WithLogger(slog.New(slog.DiscardHandler)))
	m := New(i.Statistics())

	report, err := i.RunCycle(ilc.ListFreezeSensor, 100*time.Millisecond)
	require.NoError(t, err)
	m.Observe(report)
	return m, report
}

func TestMetrics_ObserveSilentDevice(t *testing.T) {
	m, report := runCycle(t, 11)
	require.Len(t, report.TimedOut, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.silentDevices.WithLabelValues("FA")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.silentDevices.WithLabelValues("HM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deviceTimeouts.WithLabelValues("FA", "302")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cycleDuration))
}

func TestMetrics_StatisticsCollector(t *testing.T) {
	m, _ := runCycle(t, 0)

	// cycles + 6 counters per subnet + one fault series per kind per subnet
	want := 1 + ilc.SubnetCount*(6+len(ilc.FaultKinds()))
	c := NewStatisticsCollector(ilc.NewStatistics())
	assert.Equal(t, want, testutil.CollectAndCount(c))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"ilcbus_cycles_total",
		"ilcbus_frames_total",
		"ilcbus_frame_faults_total",
		"ilcbus_cycle_duration_seconds",
		"ilcbus_silent_devices",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m, _ := runCycle(t, 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "ilcbus_cycles_total 1")
	assert.True(t, strings.Contains(text, `ilcbus_dispatched_total{subnet="5"}`))
	assert.Contains(t, text, `ilcbus_silent_devices{class="FA"} 0`)
}
