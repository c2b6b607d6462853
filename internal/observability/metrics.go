package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TapInsTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fare_collection", Name: "tap_ins_total", Help: "Total tap-in events accepted"})
	TripsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fare_collection", Name: "trips_completed_total", Help: "Total trips completed and charged"})
	TopupsCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fare_collection", Name: "topups_credited_total", Help: "Total gateway topups credited"})

	FareChargedCents = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fare_collection",
		Name:      "fare_charged_cents",
		Help:      "Distribution of charged fares in cents",
		Buckets:   []float64{500, 1000, 1200, 1500, 1800, 2000, 2500, 3000},
	})
)
