package monitor

import (
	"time"

	"github.com/bitranox/check-zpools-sub001/pkg/zpool"
)

// Severity classifies a finding. The order is total: OK < INFO < WARNING <
// CRITICAL.
type Severity string

const (
	SeverityOK       Severity = "OK"
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Max returns the higher of the two severities.
func (s Severity) Max(o Severity) Severity {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// GreaterThan reports whether s is strictly more severe than o.
func (s Severity) GreaterThan(o Severity) bool { return s.rank() > o.rank() }

// ExitCode maps an overall severity to the one-shot check exit code.
func (s Severity) ExitCode() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Category names the check that produced an issue.
type Category string

const (
	CategoryHealth   Category = "health"
	CategoryCapacity Category = "capacity"
	CategoryErrors   Category = "errors"
	CategoryScrub    Category = "scrub"
)

// Issue is one finding for one pool. Each check emits at most one issue
// per pool and cycle, so (pool, category) identifies it.
type Issue struct {
	Pool       string    `json:"pool"`
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detected_at"`
}

// Signature is the stable dedup identity for an issue.
func (i Issue) Signature() string { return i.Pool + ":" + string(i.Category) }

// CheckResult is the outcome of one full cycle.
type CheckResult struct {
	Timestamp time.Time            `json:"timestamp"`
	Pools     []zpool.PoolSnapshot `json:"pools"`
	Issues    []Issue              `json:"issues"`
	Overall   Severity             `json:"overall_severity"`
}

// Thresholds holds the evaluation limits. Zero ChecksumCrit disables the
// checksum escalation; zero ScrubMaxAgeDays disables scrub age findings.
type Thresholds struct {
	CapacityWarnPercent float64
	CapacityCritPercent float64
	MaxErrors           uint64
	ChecksumCrit        uint64
	ScrubMaxAgeDays     float64
}
