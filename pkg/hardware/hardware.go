package hardware

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Capabilities describes the host resources relevant to sizing the
// render worker pool.
type Capabilities struct {
	CPUThreads     int     `json:"cpu_threads"`
	CPUModel       string  `json:"cpu_model"`
	CPUUsedPercent float64 `json:"cpu_used_percent"`
	RAMTotalBytes  uint64  `json:"ram_total_bytes"`
	RAMAvailBytes  uint64  `json:"ram_avail_bytes"`
}

// Detect probes the host. Failed probes fall back to runtime values
// so detection never blocks startup.
func Detect() Capabilities {
	caps := Capabilities{
		CPUThreads: runtime.NumCPU(),
	}

	if counts, err := cpu.Counts(true); err == nil && counts > 0 {
		caps.CPUThreads = counts
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		caps.CPUModel = infos[0].ModelName
	}
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		caps.CPUUsedPercent = percents[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		caps.RAMTotalBytes = vmem.Total
		caps.RAMAvailBytes = vmem.Available
	}

	return caps
}

// encoding a 1080p stream comfortably needs a few threads and real memory
const (
	threadsPerPipeline  = 2
	bytesPerPipeline    = 2 << 30
	maxDefaultPipelines = 8
)

// RecommendedConcurrency sizes the worker pool from detected
// capabilities. At least one pipeline always runs.
func RecommendedConcurrency(caps Capabilities) int {
	byCPU := caps.CPUThreads / threadsPerPipeline
	n := byCPU

	if caps.RAMTotalBytes > 0 {
		byRAM := int(caps.RAMTotalBytes / bytesPerPipeline)
		if byRAM < n {
			n = byRAM
		}
	}
	if n > maxDefaultPipelines {
		n = maxDefaultPipelines
	}
	if n < 1 {
		n = 1
	}
	return n
}
