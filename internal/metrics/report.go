package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"marketflow/logger"
)

// Sampling hooks, replaced in tests.
var (
	cpuPercentFn  = func(ctx context.Context) ([]float64, error) { return cpu.PercentWithContext(ctx, 0, false) }
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
)

// RuntimeReport is a single host and process sample.
type RuntimeReport struct {
	Timestamp  time.Time                        `json:"timestamp"`
	Goroutines int                              `json:"goroutines"`
	CPUPercent float64                          `json:"cpu_percent"`
	MemoryMB   float64                          `json:"memory_mb"`
	DiskMB     float64                          `json:"disk_mb"`
	Components map[string]logger.ComponentCount `json:"components"`
}

// CollectReport samples host resources and the logger's warn/error counters.
// Sampling errors leave the corresponding field at zero.
func CollectReport(ctx context.Context, diskPath string) RuntimeReport {
	if diskPath == "" {
		diskPath = "/"
	}
	report := RuntimeReport{
		Timestamp:  timeNow(),
		Goroutines: runtime.NumGoroutine(),
		Components: logger.Counts(),
	}
	if samples, err := cpuPercentFn(ctx); err == nil && len(samples) > 0 {
		report.CPUPercent = samples[0]
	}
	if vm, err := memoryStatsFn(ctx); err == nil {
		report.MemoryMB = float64(vm.Used) / 1024 / 1024
	}
	if du, err := diskUsageFn(ctx, diskPath); err == nil {
		report.DiskMB = float64(du.Used) / 1024 / 1024
	}
	return report
}

func logReport(ctx context.Context, log *logger.Log, diskPath string) RuntimeReport {
	report := CollectReport(ctx, diskPath)

	var warns, errs int64
	for _, c := range report.Components {
		warns += c.Warns
		errs += c.Errors
	}

	log.WithComponent("report").WithFields(logger.Fields{
		"goroutines":  report.Goroutines,
		"cpu_percent": report.CPUPercent,
		"memory_mb":   int64(report.MemoryMB),
		"disk_mb":     int64(report.DiskMB),
		"warns":       warns,
		"errors":      errs,
		"components":  report.Components,
	}).Info("runtime report")

	EmitMetric(log, "report", "cpu_percent", report.CPUPercent, "gauge", logger.Fields{"unit": "percent"})
	EmitMetric(log, "report", "memory_mb", report.MemoryMB, "gauge", logger.Fields{"unit": "megabytes"})
	EmitMetric(log, "report", "disk_mb", report.DiskMB, "gauge", logger.Fields{"unit": "megabytes"})
	return report
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *logger.Log, interval time.Duration, diskPath string) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log, diskPath)
			}
		}
	}()
}
