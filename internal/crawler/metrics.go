package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalPagesFetched counts pages dispatched to the fetcher.
	TotalPagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rufus_pages_fetched_total",
		Help: "The total number of pages dispatched to the fetcher.",
	})
	// TotalFetchErrors counts pages whose fetch failed terminally.
	TotalFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rufus_fetch_errors_total",
		Help: "The total number of pages that failed after exhausting retries.",
	})
	// TotalRetries counts individual retry attempts across all pages.
	TotalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rufus_fetch_retries_total",
		Help: "The total number of fetch retry attempts.",
	})
	// TotalFragmentsRetained counts fragments that passed the relevance filter.
	TotalFragmentsRetained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rufus_fragments_retained_total",
		Help: "The total number of extracted fragments retained in results.",
	})
	// TotalFragmentsDropped counts fragments rejected by score or duplicate text.
	TotalFragmentsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rufus_fragments_dropped_total",
		Help: "The total number of extracted fragments dropped by filtering.",
	})
)
