package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"marketflow/logger"
)

func TestCollectReport(t *testing.T) {
	origCPU, origMem, origDisk := cpuPercentFn, memoryStatsFn, diskUsageFn
	t.Cleanup(func() { cpuPercentFn, memoryStatsFn, diskUsageFn = origCPU, origMem, origDisk })

	cpuPercentFn = func(context.Context) ([]float64, error) { return []float64{12.5}, nil }
	memoryStatsFn = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 512 * 1024 * 1024}, nil
	}
	diskUsageFn = func(context.Context, string) (*disk.UsageStat, error) {
		return nil, errors.New("no disk")
	}

	logger.ResetCounts()
	logger.GetLogger().WithComponent("report-test").Warn("counted")

	report := CollectReport(context.Background(), "")
	if report.CPUPercent != 12.5 {
		t.Fatalf("unexpected cpu %v", report.CPUPercent)
	}
	if report.MemoryMB != 512 {
		t.Fatalf("unexpected memory %v", report.MemoryMB)
	}
	if report.DiskMB != 0 {
		t.Fatalf("disk should be zero on sampling error, got %v", report.DiskMB)
	}
	if report.Components["report-test"].Warns != 1 {
		t.Fatalf("expected warn counter, got %+v", report.Components)
	}
}
