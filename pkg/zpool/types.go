package zpool

import (
	"strings"
	"time"
)

// Health is the pool state as reported by zpool.
type Health string

const (
	HealthOnline    Health = "ONLINE"
	HealthDegraded  Health = "DEGRADED"
	HealthFaulted   Health = "FAULTED"
	HealthOffline   Health = "OFFLINE"
	HealthUnavail   Health = "UNAVAIL"
	HealthRemoved   Health = "REMOVED"
	HealthSuspended Health = "SUSPENDED"
	HealthUnknown   Health = "UNKNOWN"
)

// ParseHealth maps a state token to a Health value. Unrecognized tokens map
// to HealthUnknown so a new upstream state can never fail a cycle.
func ParseHealth(s string) Health {
	switch h := Health(strings.ToUpper(strings.TrimSpace(s))); h {
	case HealthOnline, HealthDegraded, HealthFaulted, HealthOffline,
		HealthUnavail, HealthRemoved, HealthSuspended:
		return h
	default:
		return HealthUnknown
	}
}

// IsHealthy reports whether the pool needs no attention at all.
func (h Health) IsHealthy() bool { return h == HealthOnline }

// IsCritical reports whether the pool is in a state where data is
// unavailable or at immediate risk. HealthUnknown is neither healthy nor
// critical.
func (h Health) IsCritical() bool {
	switch h {
	case HealthFaulted, HealthUnavail, HealthRemoved:
		return true
	}
	return false
}

// PoolSnapshot is one pool's normalized state for a single cycle, merged
// from the listing and status queries.
type PoolSnapshot struct {
	Name            string     `json:"name"`
	Health          Health     `json:"health"`
	SizeBytes       uint64     `json:"size_bytes"`
	AllocBytes      uint64     `json:"alloc_bytes"`
	FreeBytes       uint64     `json:"free_bytes"`
	PercentUsed     float64    `json:"percent_used"`
	ReadErrors      uint64     `json:"read_errors"`
	WriteErrors     uint64     `json:"write_errors"`
	ChecksumErrors  uint64     `json:"checksum_errors"`
	LastScrub       *time.Time `json:"last_scrub,omitempty"`
	ScrubInProgress bool       `json:"scrub_in_progress"`
	ScrubErrors     uint64     `json:"scrub_errors"`
}

// Filter returns the snapshots whose names appear in allow. An empty allow
// list means every pool is monitored.
func Filter(snaps []PoolSnapshot, allow []string) []PoolSnapshot {
	if len(allow) == 0 {
		return snaps
	}
	allowed := make(map[string]bool, len(allow))
	for _, name := range allow {
		allowed[name] = true
	}
	out := make([]PoolSnapshot, 0, len(snaps))
	for _, s := range snaps {
		if allowed[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
