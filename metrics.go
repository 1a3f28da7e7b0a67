package overlap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var rebuildCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overlap",
	Subsystem: "exchange",
	Name:      "rebuilds",
}, []string{"result"})

var rebuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "overlap",
	Subsystem: "exchange",
	Name:      "rebuild_duration_seconds",
	Buckets:   []float64{.0001, .001, .01, .05, .1, .5, 1, 5, 10},
})

var roundCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "overlap",
	Subsystem: "exchange",
	Name:      "rounds",
})

var exchangeBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "overlap",
	Subsystem: "exchange",
	Name:      "bytes",
}, []string{"dir"})

var matchedRecords = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "overlap",
	Subsystem: "exchange",
	Name:      "matched_records",
})

var droppedRecords = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "overlap",
	Subsystem: "exchange",
	Name:      "dropped_records",
})

// Collectors returns the package's metric collectors for registration in
// the caller's registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		rebuildCount, rebuildDuration, roundCount,
		exchangeBytes, matchedRecords, droppedRecords,
	}
}

type rebuildTimer struct {
	start time.Time
}

func newRebuildTimer() rebuildTimer {
	return rebuildTimer{start: time.Now()}
}

func (rt rebuildTimer) done() {
	rebuildDuration.Observe(time.Since(rt.start).Seconds())
}
