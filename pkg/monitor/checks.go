package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/bitranox/check-zpools-sub001/pkg/zpool"
)

// Scrub age becomes critical at this multiple of the configured maximum.
const scrubCritFactor = 2

// Evaluate runs the independent checks for one pool. Checks are
// order-insensitive and each category yields at most one issue; when the
// scrub check has several findings the worst severity wins and the
// messages are joined.
func Evaluate(snap zpool.PoolSnapshot, th Thresholds, now time.Time) []Issue {
	issues := make([]Issue, 0, 4)
	if iss, ok := checkHealth(snap, now); ok {
		issues = append(issues, iss)
	}
	if iss, ok := checkCapacity(snap, th, now); ok {
		issues = append(issues, iss)
	}
	if iss, ok := checkErrors(snap, th, now); ok {
		issues = append(issues, iss)
	}
	if iss, ok := checkScrub(snap, th, now); ok {
		issues = append(issues, iss)
	}
	return issues
}

// CheckAll evaluates every snapshot and aggregates the overall severity,
// which is the maximum over all issues and OK when there are none.
func CheckAll(snaps []zpool.PoolSnapshot, th Thresholds, now time.Time) CheckResult {
	res := CheckResult{Timestamp: now, Pools: snaps, Overall: SeverityOK}
	for _, s := range snaps {
		res.Issues = append(res.Issues, Evaluate(s, th, now)...)
	}
	for _, iss := range res.Issues {
		res.Overall = res.Overall.Max(iss.Severity)
	}
	return res
}

func checkHealth(s zpool.PoolSnapshot, now time.Time) (Issue, bool) {
	if s.Health.IsHealthy() {
		return Issue{}, false
	}
	sev := SeverityWarning
	if s.Health.IsCritical() {
		sev = SeverityCritical
	}
	return Issue{
		Pool:       s.Name,
		Category:   CategoryHealth,
		Severity:   sev,
		Message:    fmt.Sprintf("pool state is %s", s.Health),
		DetectedAt: now,
	}, true
}

func checkCapacity(s zpool.PoolSnapshot, th Thresholds, now time.Time) (Issue, bool) {
	var sev Severity
	var limit float64
	switch {
	case th.CapacityCritPercent > 0 && s.PercentUsed >= th.CapacityCritPercent:
		sev, limit = SeverityCritical, th.CapacityCritPercent
	case th.CapacityWarnPercent > 0 && s.PercentUsed >= th.CapacityWarnPercent:
		sev, limit = SeverityWarning, th.CapacityWarnPercent
	default:
		return Issue{}, false
	}
	return Issue{
		Pool:       s.Name,
		Category:   CategoryCapacity,
		Severity:   sev,
		Message:    fmt.Sprintf("%.1f%% used (threshold %.0f%%)", s.PercentUsed, limit),
		DetectedAt: now,
	}, true
}

func checkErrors(s zpool.PoolSnapshot, th Thresholds, now time.Time) (Issue, bool) {
	if s.ReadErrors <= th.MaxErrors && s.WriteErrors <= th.MaxErrors && s.ChecksumErrors <= th.MaxErrors {
		return Issue{}, false
	}
	sev := SeverityWarning
	if th.ChecksumCrit > 0 && s.ChecksumErrors > th.ChecksumCrit {
		sev = SeverityCritical
	}
	return Issue{
		Pool:       s.Name,
		Category:   CategoryErrors,
		Severity:   sev,
		Message:    fmt.Sprintf("device errors: %d read, %d write, %d checksum", s.ReadErrors, s.WriteErrors, s.ChecksumErrors),
		DetectedAt: now,
	}, true
}

func checkScrub(s zpool.PoolSnapshot, th Thresholds, now time.Time) (Issue, bool) {
	sev := SeverityOK
	var msgs []string

	// a running scrub makes recency findings noise, the outcome of the
	// previous one still counts
	if th.ScrubMaxAgeDays > 0 && !s.ScrubInProgress {
		if s.LastScrub == nil {
			sev = sev.Max(SeverityWarning)
			msgs = append(msgs, "never scrubbed")
		} else {
			days := now.Sub(*s.LastScrub).Hours() / 24
			switch {
			case days > th.ScrubMaxAgeDays*scrubCritFactor:
				sev = sev.Max(SeverityCritical)
				msgs = append(msgs, fmt.Sprintf("last scrub %.1f days ago (maximum %.0f)", days, th.ScrubMaxAgeDays))
			case days > th.ScrubMaxAgeDays:
				sev = sev.Max(SeverityWarning)
				msgs = append(msgs, fmt.Sprintf("last scrub %.1f days ago (maximum %.0f)", days, th.ScrubMaxAgeDays))
			}
		}
	}
	if s.ScrubErrors > 0 {
		sev = sev.Max(SeverityWarning)
		msgs = append(msgs, fmt.Sprintf("last scrub found %d errors", s.ScrubErrors))
	}

	if sev == SeverityOK {
		return Issue{}, false
	}
	return Issue{
		Pool:       s.Name,
		Category:   CategoryScrub,
		Severity:   sev,
		Message:    strings.Join(msgs, "; "),
		DetectedAt: now,
	}, true
}
