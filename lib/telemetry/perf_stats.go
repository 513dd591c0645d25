package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("go.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var memoryGauge, _ = meter.Int64Gauge("allocated_mb")
var systemMemoryGauge, _ = meter.Float64Gauge("system_memory_usage")
var liveObjectsGauge, _ = meter.Int64Gauge("live_objects")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")

func recordPerfStats(ctx context.Context, memStats *runtime.MemStats) {
	runtime.ReadMemStats(memStats)

	cpuUsage, err := cpu.PercentWithContext(ctx, time.Second*5, false)
	if err == nil && len(cpuUsage) > 0 {
		cpuGauge.Record(ctx, cpuUsage[0])
	} else if err != nil {
		slog.DebugContext(ctx, "failed to read cpu usage", "err", err)
	}
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		systemMemoryGauge.Record(ctx, vmem.UsedPercent)
	} else {
		slog.DebugContext(ctx, "failed to read memory usage", "err", err)
	}

	memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
	liveObjectsGauge.Record(ctx, int64(memStats.Mallocs)-int64(memStats.Frees))
	goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))
}

// InstrumentPerfStats records process and host usage every 30 seconds until
// ctx is done.
func InstrumentPerfStats(ctx context.Context) {
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				recordPerfStats(ctx, &memStats)
			case <-ctx.Done():
				return
			}
		}
	}()
}
