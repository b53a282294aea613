package analytics

import "github.com/prometheus/client_golang/prometheus"

var (
	rebuildCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bikecoach",
		Subsystem: "training_load",
		Name:      "rebuilds_total",
		Help:      "Number of completed daily training-load rebuilds.",
	})

	seriesLengthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bikecoach",
		Subsystem: "training_load",
		Name:      "last_rebuild_series_days",
		Help:      "Day count of the most recently rebuilt training-load series.",
	})
)

func init() {
	prometheus.MustRegister(rebuildCounter, seriesLengthGauge)
}

func recordRebuild(days int) {
	rebuildCounter.Inc()
	seriesLengthGauge.Set(float64(days))
}
