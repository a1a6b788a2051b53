package archive

import (
	"fmt"

	"github.com/Parameshwar06/Drip/internal/analytics"
)

// BuildWindowFlux selects one row per reading of deviceID inside w. The
// unbounded window starts at the epoch.
func BuildWindowFlux(bucket, deviceID string, w analytics.Window, limit int) string {
	start := "0"
	if d, ok := w.Duration(); ok {
		start = fmt.Sprintf("-%dm", int64(d.Minutes()))
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> keep(columns: ["_time","device_id","moisture","temperature","humidity","valve_on"])
  |> sort(columns: ["_time"])
  |> tail(n: %d)
`, bucket, start, Measurement, deviceID, limit)
}
