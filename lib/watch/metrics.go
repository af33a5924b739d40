package watch

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// rangeMetrics are the VictoriaMetrics series of one range registry.
// Series are created with GetOrCreate so a range that is removed and created again
// continues its series.
type rangeMetrics struct {
	registered     *metrics.Counter
	immediate      *metrics.Counter
	notified       *metrics.Counter
	expired        *metrics.Counter
	cancelled      *metrics.Counter
	pending        *metrics.Counter
	notifyDuration *metrics.Histogram
}

func newRangeMetrics(rangeID uint64) *rangeMetrics {
	name := func(metric string) string {
		return fmt.Sprintf(`dwatch_watch_%s{range="%d"}`, metric, rangeID)
	}
	return &rangeMetrics{
		registered:     metrics.GetOrCreateCounter(name("registered_total")),
		immediate:      metrics.GetOrCreateCounter(name("immediate_total")),
		notified:       metrics.GetOrCreateCounter(name("notified_total")),
		expired:        metrics.GetOrCreateCounter(name("expired_total")),
		cancelled:      metrics.GetOrCreateCounter(name("cancelled_total")),
		pending:        metrics.GetOrCreateCounter(name("pending")),
		notifyDuration: metrics.GetOrCreateHistogram(name("notify_duration_seconds")),
	}
}
