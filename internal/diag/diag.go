// Package diag assembles the health snapshot served by /api/health:
// host-level resource readings plus the application's own counters.
package diag

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// AppStats are the application counters included in the health snapshot.
type AppStats struct {
	ActiveSessions     int   `json:"activeSessions"`
	ConnectedObservers int   `json:"connectedObservers"`
	LateEventsDropped  int64 `json:"lateEventsDropped"`
}

// HostStats are best-effort host readings; a field left zero means the
// probe failed, which is never an error for the health endpoint itself.
type HostStats struct {
	CPUPercent     float64 `json:"cpuPercent"`
	MemUsedPercent float64 `json:"memUsedPercent"`
	MemUsedMB      uint64  `json:"memUsedMb"`
	UptimeSeconds  uint64  `json:"uptimeSeconds"`
}

// Snapshot is the full health document.
type Snapshot struct {
	Status        string    `json:"status"`
	ServerUptime  int       `json:"serverUptimeSeconds"`
	App           AppStats  `json:"app"`
	Host          HostStats `json:"host"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// Collector produces health snapshots.
type Collector struct {
	startedAt time.Time
}

func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

// Snapshot gathers host readings and combines them with the app counters.
// Probe failures are tolerated field by field.
func (c *Collector) Snapshot(ctx context.Context, app AppStats) Snapshot {
	snap := Snapshot{
		Status:       "ok",
		ServerUptime: int(time.Since(c.startedAt).Seconds()),
		App:          app,
		GeneratedAt:  time.Now(),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.Host.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.Host.MemUsedPercent = vm.UsedPercent
		snap.Host.MemUsedMB = vm.Used / (1024 * 1024)
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.Host.UptimeSeconds = up
	}

	return snap
}
