package metrics

import (
	"runtime"
)

// CollectSystem samples runtime statistics into the system gauges.
// lastNumGC is the GC count returned by the previous call; pauses recorded
// since then are observed individually.
func CollectSystem(lastNumGC uint32) uint32 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	UpdateSystemMemoryUsage(ms.HeapAlloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())

	n := ms.NumGC - lastNumGC
	if n > uint32(len(ms.PauseNs)) {
		n = uint32(len(ms.PauseNs))
	}
	for i := uint32(0); i < n; i++ {
		idx := (ms.NumGC - i + 255) % uint32(len(ms.PauseNs))
		RecordSystemGCPauseTime(float64(ms.PauseNs[idx]) / 1e6)
	}
	return ms.NumGC
}
