// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statsapi

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// collector is a pull-model prometheus.Collector over a StatsProvider: each
// scrape calls provider.Stats() fresh rather than keeping its own counters,
// so it can never drift from what /stats reports.
type collector struct {
	provider StatsProvider

	packetsProcessed *prometheus.Desc
	matchesFound     *prometheus.Desc
	packetsDropped   *prometheus.Desc
	packetsAccepted  *prometheus.Desc
	activeFlows      *prometheus.Desc
	totalBufferSize  *prometheus.Desc
	pendingAlerts    *prometheus.Desc
}

func newCollector(provider StatsProvider) *collector {
	labels := []string{"queue_id"}
	return &collector{
		provider: provider,
		packetsProcessed: prometheus.NewDesc(
			"ipsentry_packets_processed_total", "Packets processed by this queue.", labels, nil),
		matchesFound: prometheus.NewDesc(
			"ipsentry_matches_found_total", "Rule matches that produced a drop verdict.", labels, nil),
		packetsDropped: prometheus.NewDesc(
			"ipsentry_packets_dropped_total", "Packets this queue dropped.", labels, nil),
		packetsAccepted: prometheus.NewDesc(
			"ipsentry_packets_accepted_total", "Packets this queue accepted.", labels, nil),
		activeFlows: prometheus.NewDesc(
			"ipsentry_active_flows", "Flows currently tracked by this queue's reassembler.", labels, nil),
		totalBufferSize: prometheus.NewDesc(
			"ipsentry_total_buffer_size_bytes", "Bytes held across this queue's flow buffers.", labels, nil),
		pendingAlerts: prometheus.NewDesc(
			"ipsentry_pending_alerts", "Alerts buffered but not yet flushed to disk.", labels, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsProcessed
	ch <- c.matchesFound
	ch <- c.packetsDropped
	ch <- c.packetsAccepted
	ch <- c.activeFlows
	ch <- c.totalBufferSize
	ch <- c.pendingAlerts
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.provider.Stats() {
		qid := strconv.Itoa(st.QueueID)
		ch <- prometheus.MustNewConstMetric(c.packetsProcessed, prometheus.CounterValue, float64(st.PacketsProcessed), qid)
		ch <- prometheus.MustNewConstMetric(c.matchesFound, prometheus.CounterValue, float64(st.MatchesFound), qid)
		ch <- prometheus.MustNewConstMetric(c.packetsDropped, prometheus.CounterValue, float64(st.PacketsDropped), qid)
		ch <- prometheus.MustNewConstMetric(c.packetsAccepted, prometheus.CounterValue, float64(st.PacketsAccepted), qid)
		ch <- prometheus.MustNewConstMetric(c.activeFlows, prometheus.GaugeValue, float64(st.ActiveFlows), qid)
		ch <- prometheus.MustNewConstMetric(c.totalBufferSize, prometheus.GaugeValue, float64(st.TotalBufferSize), qid)
		ch <- prometheus.MustNewConstMetric(c.pendingAlerts, prometheus.GaugeValue, float64(st.PendingAlerts), qid)
	}
}
