package monitor

import (
	"os"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
)

// HostInfo is ambient host context attached to notifications and exposed
// on the status API.
type HostInfo struct {
	Hostname      string  `json:"hostname"`
	OS            string  `json:"os"`
	Platform      string  `json:"platform"`
	KernelVersion string  `json:"kernel_version"`
	UptimeSeconds uint64  `json:"uptime_seconds"`
	Load1         float64 `json:"load1"`
	Load5         float64 `json:"load5"`
	Load15        float64 `json:"load15"`
}

// CollectHost gathers best-effort host context. Failures leave the
// affected fields zeroed instead of failing the caller.
func CollectHost() HostInfo {
	var info HostInfo
	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.OS = hi.OS
		info.Platform = hi.Platform
		info.KernelVersion = hi.KernelVersion
		info.UptimeSeconds = hi.Uptime
	}
	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}
	if avg, err := load.Avg(); err == nil {
		info.Load1, info.Load5, info.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return info
}
