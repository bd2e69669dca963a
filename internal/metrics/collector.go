package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/livedata/internal/journal"
	"github.com/rickgao/livedata/internal/subscription"
)

const namespace = "livedata"

// StatsSource supplies coordinator counters.
type StatsSource interface {
	Stats() subscription.Stats
}

// JournalSource supplies journal writer counters.
type JournalSource interface {
	Stats() journal.Stats
}

// Collector reads coordinator and journal stats at scrape time.
type Collector struct {
	coordinator StatsSource
	journal     JournalSource

	subscriptions *prometheus.Desc
	bound         *prometheus.Desc
	dirty         *prometheus.Desc
	retries       *prometheus.Desc
	abandons      *prometheus.Desc
	batches       *prometheus.Desc
	batchErrors   *prometheus.Desc

	journalEnqueued  *prometheus.Desc
	journalDropped   *prometheus.Desc
	journalInserted  *prometheus.Desc
	journalDiscarded *prometheus.Desc
	journalErrors    *prometheus.Desc
	journalFlushes   *prometheus.Desc
}

// NewCollector creates a Collector. journal may be nil.
func NewCollector(coordinator StatsSource, journal JournalSource) *Collector {
	desc := func(subsystem, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &Collector{
		coordinator: coordinator,
		journal:     journal,

		subscriptions: desc("subscription", "count", "Subscriptions tracked per state.", "state"),
		bound:         desc("provider", "bound", "1 if a market data provider is bound."),
		dirty:         desc("provider", "dirty", "1 if the bound provider changed since the last cycle."),
		retries:       desc("subscription", "retries_total", "Pending subscriptions re-issued by the monitor."),
		abandons:      desc("subscription", "abandons_total", "Pending subscriptions abandoned by the monitor."),
		batches:       desc("provider", "batches_total", "Provider batch calls that returned without error."),
		batchErrors:   desc("provider", "batch_errors_total", "Provider batch calls that failed."),

		journalEnqueued:  desc("journal", "enqueued_total", "Transitions accepted by the journal."),
		journalDropped:   desc("journal", "dropped_total", "Transitions dropped because the journal buffer was full."),
		journalInserted:  desc("journal", "inserted_total", "Transition rows copied to the database."),
		journalDiscarded: desc("journal", "discarded_total", "Transition rows flushed with no database configured."),
		journalErrors:    desc("journal", "errors_total", "Failed journal copies."),
		journalFlushes:   desc("journal", "flushes_total", "Journal batch flushes."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.subscriptions, c.bound, c.dirty, c.retries, c.abandons, c.batches, c.batchErrors,
	} {
		ch <- d
	}
	if c.journal == nil {
		return
	}
	for _, d := range []*prometheus.Desc{
		c.journalEnqueued, c.journalDropped, c.journalInserted, c.journalDiscarded, c.journalErrors, c.journalFlushes,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.coordinator.Stats()

	for state, n := range map[subscription.State]int{
		subscription.StatePending: s.Pending,
		subscription.StateActive:  s.Active,
		subscription.StateFailed:  s.Failed,
		subscription.StateRemoved: s.Removed,
	} {
		ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.GaugeValue, float64(n), string(state))
	}
	ch <- prometheus.MustNewConstMetric(c.bound, prometheus.GaugeValue, boolValue(s.Bound))
	ch <- prometheus.MustNewConstMetric(c.dirty, prometheus.GaugeValue, boolValue(s.Dirty))
	ch <- prometheus.MustNewConstMetric(c.retries, prometheus.CounterValue, float64(s.Retries))
	ch <- prometheus.MustNewConstMetric(c.abandons, prometheus.CounterValue, float64(s.Abandons))
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(s.Batches))
	ch <- prometheus.MustNewConstMetric(c.batchErrors, prometheus.CounterValue, float64(s.BatchErrors))

	if c.journal == nil {
		return
	}
	j := c.journal.Stats()
	ch <- prometheus.MustNewConstMetric(c.journalEnqueued, prometheus.CounterValue, float64(j.Enqueued))
	ch <- prometheus.MustNewConstMetric(c.journalDropped, prometheus.CounterValue, float64(j.Dropped))
	ch <- prometheus.MustNewConstMetric(c.journalInserted, prometheus.CounterValue, float64(j.Inserts))
	ch <- prometheus.MustNewConstMetric(c.journalDiscarded, prometheus.CounterValue, float64(j.Discarded))
	ch <- prometheus.MustNewConstMetric(c.journalErrors, prometheus.CounterValue, float64(j.Errors))
	ch <- prometheus.MustNewConstMetric(c.journalFlushes, prometheus.CounterValue, float64(j.Flushes))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
