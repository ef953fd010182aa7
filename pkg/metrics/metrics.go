// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports bus statistics and cycle outcomes to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/ilcbus/pkg/ilc"
)

const namespace = "ilcbus"

var (
	cyclesDesc = prometheus.NewDesc(
		namespace+"_cycles_total", "Completed control cycles.", nil, nil)
	framesDesc = prometheus.NewDesc(
		namespace+"_frames_total", "Reply frames received.", []string{"subnet"}, nil)
	dispatchedDesc = prometheus.NewDesc(
		namespace+"_dispatched_total", "Reply frames dispatched to a device handler.", []string{"subnet"}, nil)
	unsolicitedDesc = prometheus.NewDesc(
		namespace+"_unsolicited_total", "Replies from devices that were not asked.", []string{"subnet"}, nil)
	exceptionsDesc = prometheus.NewDesc(
		namespace+"_exceptions_total", "Exception replies.", []string{"subnet"}, nil)
	timeoutsDesc = prometheus.NewDesc(
		namespace+"_device_timeouts_total", "Devices that owed a reply at verification.", []string{"subnet"}, nil)
	irqTimeoutsDesc = prometheus.NewDesc(
		namespace+"_irq_timeouts_total", "Subnet interrupts that did not arrive in time.", []string{"subnet"}, nil)
	faultsDesc = prometheus.NewDesc(
		namespace+"_frame_faults_total", "Skipped reply frames by fault kind.", []string{"subnet", "kind"}, nil)
)

// StatisticsCollector reads ilc.Statistics at scrape time
type StatisticsCollector struct {
	stats *ilc.Statistics
}

// NewStatisticsCollector creates a collector over stats
func NewStatisticsCollector(stats *ilc.Statistics) *StatisticsCollector {
	return &StatisticsCollector{stats: stats}
}

// Describe implements prometheus.Collector
func (c *StatisticsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cyclesDesc
	ch <- framesDesc
	ch <- dispatchedDesc
	ch <- unsolicitedDesc
	ch <- exceptionsDesc
	ch <- timeoutsDesc
	ch <- irqTimeoutsDesc
	ch <- faultsDesc
}

// Collect implements prometheus.Collector
func (c *StatisticsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	ch <- prometheus.MustNewConstMetric(cyclesDesc, prometheus.CounterValue, float64(snap.Cycles))

	for i := range snap.Subnets {
		sub := &snap.Subnets[i]
		label := strconv.Itoa(i + ilc.MinSubnet)
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), label)
		}
		counter(framesDesc, sub.Frames)
		counter(dispatchedDesc, sub.Dispatched)
		counter(unsolicitedDesc, sub.Unsolicited)
		counter(exceptionsDesc, sub.Exceptions)
		counter(timeoutsDesc, sub.Timeouts)
		counter(irqTimeoutsDesc, sub.IRQTimeouts)
		for _, k := range ilc.FaultKinds() {
			ch <- prometheus.MustNewConstMetric(faultsDesc, prometheus.CounterValue, float64(sub.FaultCount(k)), label, k.String())
		}
	}
}

// Metrics holds the collectors of one bus
type Metrics struct {
	Registry *prometheus.Registry

	cycleDuration  *prometheus.HistogramVec
	silentDevices  *prometheus.GaugeVec
	deviceTimeouts *prometheus.CounterVec
	deviceWarnings *prometheus.CounterVec
}

// New registers the statistics collector and the per-cycle metrics in a fresh registry
func New(stats *ilc.Statistics) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Control cycle duration by bus list.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 10),
		}, []string{"list"}),
		silentDevices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "silent_devices",
			Help:      "Devices that owed a reply in the last cycle.",
		}, []string{"class"}),
		deviceTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_reply_timeouts_total",
			Help:      "Missing replies per device.",
		}, []string{"class", "id"}),
		deviceWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_warnings_total",
			Help:      "Device warnings by kind.",
		}, []string{"class", "kind"}),
	}

	m.Registry.MustRegister(
		NewStatisticsCollector(stats),
		m.cycleDuration,
		m.silentDevices,
		m.deviceTimeouts,
		m.deviceWarnings,
	)
	return m
}

// Observe records the outcome of one cycle
func (m *Metrics) Observe(r ilc.CycleReport) {
	m.cycleDuration.WithLabelValues(r.Kind.String()).Observe(r.Duration.Seconds())

	var silent [3]int
	for _, d := range r.TimedOut {
		if int(d.Class) < len(silent) {
			silent[d.Class]++
		}
		m.deviceTimeouts.WithLabelValues(d.Class.String(), strconv.Itoa(int(d.ID))).Inc()
	}
	for _, c := range ilc.Classes {
		m.silentDevices.WithLabelValues(c.String()).Set(float64(silent[c]))
	}

	for _, w := range r.Warnings {
		m.deviceWarnings.WithLabelValues(w.Device.Class.String(), w.Warning.Kind.String()).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
