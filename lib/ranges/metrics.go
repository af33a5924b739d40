package ranges

import (
	"fmt"

	"github.com/ValentinKolb/dWatch/lib/store"
	"github.com/VictoriaMetrics/metrics"
)

// rangeMetrics are the request series of one range.
type rangeMetrics struct {
	put         *metrics.Counter
	putFailed   *metrics.Counter
	get         *metrics.Counter
	putDuration *metrics.Histogram
}

func newRangeMetrics(rangeID uint64) *rangeMetrics {
	name := func(metric string) string {
		return fmt.Sprintf(`dwatch_range_%s{range="%d"}`, metric, rangeID)
	}
	return &rangeMetrics{
		put:         metrics.GetOrCreateCounter(name("put_total")),
		putFailed:   metrics.GetOrCreateCounter(name("put_failed_total")),
		get:         metrics.GetOrCreateCounter(name("get_total")),
		putDuration: metrics.GetOrCreateHistogram(name("put_duration_seconds")),
	}
}

// rejectedCounter counts requests rejected by the admission gate per return code.
func rejectedCounter(code store.RetCode) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dwatch_admission_rejected_total{code=%q}`, code.String()))
}
