// Package lpexport formats a heap's cumulative counters as InfluxDB
// line-protocol points using influxdata/line-protocol/v2, for a metrics
// collector that already speaks line-protocol rather than Prometheus
// exposition format.
package lpexport

import (
	"fmt"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/minimalisp-lang/heapgc/internal/gcbackend/common"
)

// Encode renders one line-protocol point for stats/frag under the
// "heapgc" measurement, tagged with backend, at timestamp ts.
func Encode(backend string, stats common.Stats, frag common.FragStats, ts time.Time) ([]byte, error) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Millisecond)

	enc.StartLine("heapgc")
	enc.AddTag("backend", backend)

	enc.AddField("collections", lineprotocol.MustNewValue(int64(stats.Collections)))
	enc.AddField("allocated_bytes", lineprotocol.MustNewValue(int64(stats.AllocatedBytes)))
	enc.AddField("freed_bytes", lineprotocol.MustNewValue(int64(stats.FreedBytes)))
	enc.AddField("current_bytes", lineprotocol.MustNewValue(int64(stats.CurrentBytes)))
	enc.AddField("survival_rate", lineprotocol.MustNewValue(stats.SurvivalRate))
	enc.AddField("last_pause_ms", lineprotocol.MustNewValue(stats.LastPauseMS))
	enc.AddField("avg_pause_ms", lineprotocol.MustNewValue(stats.AvgPauseMS))
	enc.AddField("max_pause_ms", lineprotocol.MustNewValue(stats.MaxPauseMS))
	enc.AddField("fragmentation_index", lineprotocol.MustNewValue(frag.FragmentationIndex))
	enc.AddField("wasted_bytes", lineprotocol.MustNewValue(int64(frag.WastedBytes)))

	enc.EndLine(ts)

	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("lpexport: encode: %w", err)
	}
	return enc.Bytes(), nil
}
