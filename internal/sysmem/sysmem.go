// Package sysmem reads system memory so callers can degrade instead of
// getting OOM-killed: the run skips heavy exporters below a byte floor, the
// job queue refuses admission below a percent threshold.
package sysmem

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one observation of system memory.
type Snapshot struct {
	Total     uint64
	Available uint64
}

// AvailablePercent returns available memory as a percentage of total.
func (s Snapshot) AvailablePercent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Available) / float64(s.Total) * 100
}

// Reader produces memory snapshots. Injectable so tests can simulate
// pressure without a 64 GB fixture machine.
type Reader func() (Snapshot, error)

// Read is the production Reader.
func Read() (Snapshot, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading virtual memory: %w", err)
	}
	return Snapshot{Total: v.Total, Available: v.Available}, nil
}
