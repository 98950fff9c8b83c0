/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package metrics exposes a Prometheus collector over the set of
// currently-tracked network endpoints, reporting byte counters and
// TCP_INFO derived health gauges per endpoint. Adapted from the
// connection-tracking Prometheus collector pattern this project's
// ambient stack is grounded on, generalized to read pkg/tcpinfo.Sample
// off pkg/netconn.Tracker instead of a raw file descriptor map.
package metrics

import (
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/elitcoder/transferclient/pkg/netconn"
)

type entry struct {
	labels  []string
	tracker *netconn.Tracker
	conn    net.Conn
}

// Collector implements prometheus.Collector over a dynamic set of
// endpoints, added and removed as transfers come and go.
type Collector struct {
	mu      sync.Mutex
	entries map[string]entry
	labels  []string
	log     *logrus.Entry

	txBytes    *prometheus.Desc
	rxBytes    *prometheus.Desc
	rtt        *prometheus.Desc
	retransmit *prometheus.Desc
	duration   *prometheus.Desc
}

// NewCollector builds a Collector whose per-endpoint metrics carry
// connectionLabels (e.g. "peer", "role") in addition to constLabels
// shared by the whole process (e.g. "client_name").
func NewCollector(connectionLabels []string, constLabels prometheus.Labels, log *logrus.Entry) *Collector {
	namespace := "filerelay"
	return &Collector{
		entries: make(map[string]entry),
		labels:  connectionLabels,
		log:     log,
		txBytes: prometheus.NewDesc(
			namespace+"_endpoint_tx_bytes_total", "Bytes written to an endpoint's socket.",
			connectionLabels, constLabels),
		rxBytes: prometheus.NewDesc(
			namespace+"_endpoint_rx_bytes_total", "Bytes read from an endpoint's socket.",
			connectionLabels, constLabels),
		rtt: prometheus.NewDesc(
			namespace+"_endpoint_rtt_seconds", "Smoothed round-trip time reported by TCP_INFO.",
			connectionLabels, constLabels),
		retransmit: prometheus.NewDesc(
			namespace+"_endpoint_retransmission_timeout_seconds", "Retransmission timeout reported by TCP_INFO.",
			connectionLabels, constLabels),
		duration: prometheus.NewDesc(
			namespace+"_endpoint_duration_seconds", "Seconds since the endpoint was opened.",
			connectionLabels, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.txBytes
	descs <- c.rxBytes
	descs <- c.rtt
	descs <- c.retransmit
	descs <- c.duration
}

// Collect implements prometheus.Collector, deriving each metric from
// the tracker's current snapshot.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for _, e := range c.entries {
		snap := e.tracker.Snapshot()

		ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(snap.TxBytes), e.labels...)
		ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(snap.RxBytes), e.labels...)

		if snap.ClosedAt == 0 {
			ch <- prometheus.MustNewConstMetric(c.duration, prometheus.GaugeValue,
				float64(now-snap.OpenedAt)/1e9, e.labels...)
		}

		info := snap.ClosedInfo
		if info == nil {
			info = snap.OpenedInfo
		}
		if info != nil {
			ch <- prometheus.MustNewConstMetric(c.rtt, prometheus.GaugeValue, info.RTT.Seconds(), e.labels...)
			ch <- prometheus.MustNewConstMetric(c.retransmit, prometheus.GaugeValue, info.RTO.Seconds(), e.labels...)
		}
	}
}

// Add starts tracking an endpoint's tracker under id, labeling its
// series with labelValues (positionally matched to the labels given to
// NewCollector).
func (c *Collector) Add(id string, conn net.Conn, tracker *netconn.Tracker, labelValues []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = entry{labels: labelValues, tracker: tracker, conn: conn}
}

// Remove stops tracking the endpoint registered under id.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}
