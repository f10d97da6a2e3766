// Package metrics exposes the CFW core's Prometheus surface: active
// Clients, active Transactions by state, active Dialogs, active
// Conferences, mixer ticks processed, prompt-cache hit/miss counts, and
// recording bytes written (§2.1).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientCounter reports the number of currently connected Clients.
type ClientCounter interface {
	ActiveClientCount() int
}

// TransactionStateCounter reports the number of open transactions grouped
// by state name ("new", "extended", "terminated").
type TransactionStateCounter interface {
	TransactionCountsByState() map[string]int
}

// DialogCounter reports the number of active IVR dialogs.
type DialogCounter interface {
	ActiveDialogCount() int
}

// ConferenceCounter reports the number of active mixer conferences.
type ConferenceCounter interface {
	ActiveConferenceCount() int
}

// MixTickCounter reports the cumulative number of 20ms mixer ticks run.
type MixTickCounter interface {
	TicksProcessed() uint64
}

// PromptCacheStats reports cumulative prompt-cache hit/miss counts.
type PromptCacheStats interface {
	Stats() (hits, misses int64)
}

// RecordingByteCounter reports cumulative bytes written to record sinks.
type RecordingByteCounter interface {
	BytesWritten() uint64
}

// Collector is a prometheus.Collector that gathers CFW core metrics at
// scrape time. Any provider may be nil if that subsystem is not wired.
type Collector struct {
	clients      ClientCounter
	transactions TransactionStateCounter
	dialogs      DialogCounter
	conferences  ConferenceCounter
	mixTicks     MixTickCounter
	promptCache  PromptCacheStats
	recordBytes  RecordingByteCounter
	startTime    time.Time

	activeClientsDesc     *prometheus.Desc
	transactionStateDesc  *prometheus.Desc
	activeDialogsDesc     *prometheus.Desc
	activeConferencesDesc *prometheus.Desc
	mixTicksDesc          *prometheus.Desc
	promptCacheDesc       *prometheus.Desc
	recordBytesDesc       *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// that subsystem is not wired into this process.
func NewCollector(
	clients ClientCounter,
	transactions TransactionStateCounter,
	dialogs DialogCounter,
	conferences ConferenceCounter,
	mixTicks MixTickCounter,
	promptCache PromptCacheStats,
	recordBytes RecordingByteCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		clients:      clients,
		transactions: transactions,
		dialogs:      dialogs,
		conferences:  conferences,
		mixTicks:     mixTicks,
		promptCache:  promptCache,
		recordBytes:  recordBytes,
		startTime:    startTime,

		activeClientsDesc: prometheus.NewDesc(
			"cfwms_active_clients",
			"Number of currently connected Clients",
			nil, nil,
		),
		transactionStateDesc: prometheus.NewDesc(
			"cfwms_transactions_active",
			"Number of open transactions, by state",
			[]string{"state"}, nil,
		),
		activeDialogsDesc: prometheus.NewDesc(
			"cfwms_active_dialogs",
			"Number of active IVR dialogs",
			nil, nil,
		),
		activeConferencesDesc: prometheus.NewDesc(
			"cfwms_active_conferences",
			"Number of active mixer conferences",
			nil, nil,
		),
		mixTicksDesc: prometheus.NewDesc(
			"cfwms_mixer_ticks_total",
			"Total number of 20ms mixer ticks processed",
			nil, nil,
		),
		promptCacheDesc: prometheus.NewDesc(
			"cfwms_prompt_cache_total",
			"Total prompt-cache lookups, by outcome",
			[]string{"outcome"}, nil,
		),
		recordBytesDesc: prometheus.NewDesc(
			"cfwms_recording_bytes_total",
			"Total bytes written to <record> sinks",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"cfwms_uptime_seconds",
			"Seconds since the media server control process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeClientsDesc
	ch <- c.transactionStateDesc
	ch <- c.activeDialogsDesc
	ch <- c.activeConferencesDesc
	ch <- c.mixTicksDesc
	ch <- c.promptCacheDesc
	ch <- c.recordBytesDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.clients != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeClientsDesc, prometheus.GaugeValue,
			float64(c.clients.ActiveClientCount()),
		)
	}

	if c.transactions != nil {
		for state, count := range c.transactions.TransactionCountsByState() {
			ch <- prometheus.MustNewConstMetric(
				c.transactionStateDesc, prometheus.GaugeValue,
				float64(count), state,
			)
		}
	}

	if c.dialogs != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeDialogsDesc, prometheus.GaugeValue,
			float64(c.dialogs.ActiveDialogCount()),
		)
	}

	if c.conferences != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeConferencesDesc, prometheus.GaugeValue,
			float64(c.conferences.ActiveConferenceCount()),
		)
	}

	if c.mixTicks != nil {
		ch <- prometheus.MustNewConstMetric(
			c.mixTicksDesc, prometheus.CounterValue,
			float64(c.mixTicks.TicksProcessed()),
		)
	}

	if c.promptCache != nil {
		hits, misses := c.promptCache.Stats()
		ch <- prometheus.MustNewConstMetric(c.promptCacheDesc, prometheus.CounterValue, float64(hits), "hit")
		ch <- prometheus.MustNewConstMetric(c.promptCacheDesc, prometheus.CounterValue, float64(misses), "miss")
	}

	if c.recordBytes != nil {
		ch <- prometheus.MustNewConstMetric(
			c.recordBytesDesc, prometheus.CounterValue,
			float64(c.recordBytes.BytesWritten()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
