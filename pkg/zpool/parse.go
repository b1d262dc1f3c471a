package zpool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseError reports a snapshot document that was not usable at all. The
// tolerated schema variations never produce one; only a top-level document
// that is not valid JSON, or carries no pools mapping anywhere, does.
type ParseError struct {
	Doc string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s document: %v", e.Doc, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// poolKey marks the spot in a candidate path where the pool's own name is
// substituted while walking (the root vdev is keyed by the pool name).
const poolKey = "{pool}"

// Candidate field paths per logical metric, newest schema first. The walk
// falls through to the next candidate until one resolves; a new upstream
// schema means appending a path here, not touching call sites. Resolved
// values additionally tolerate {"value": x} property wrappers, numbers
// rendered as strings, abbreviated counters ("1.2K") and percent suffixes.
var (
	healthStatusPaths = [][]string{{"state"}}
	healthListPaths   = [][]string{{"state"}, {"properties", "health"}, {"health"}}

	sizePaths      = [][]string{{"properties", "size"}, {"size"}}
	allocPaths     = [][]string{{"properties", "allocated"}, {"allocated"}, {"alloc"}}
	freePaths      = [][]string{{"properties", "free"}, {"free"}}
	capacityPaths  = [][]string{{"properties", "capacity"}, {"capacity"}}
	sizeVdevPaths  = [][]string{{"vdevs", poolKey, "total_space"}}
	allocVdevPaths = [][]string{{"vdevs", poolKey, "alloc_space"}}

	readErrorPaths  = [][]string{{"vdevs", poolKey, "read_errors"}, {"read_errors"}}
	writeErrorPaths = [][]string{{"vdevs", poolKey, "write_errors"}, {"write_errors"}}
	cksumErrorPaths = [][]string{{"vdevs", poolKey, "checksum_errors"}, {"checksum_errors"}}

	scanNodePaths  = [][]string{{"scan_stats"}, {"scan"}}
	scanTimePaths  = [][]string{{"end_time"}, {"start_time"}}
	scanErrorPaths = [][]string{{"errors"}, {"error_count"}}
)

// scrubTimeLayout is the human-readable timestamp some zpool versions emit
// instead of epoch seconds.
const scrubTimeLayout = "Mon Jan 2 15:04:05 2006"

// Parse merges a zpool list document (capacity) with a zpool status
// document (health, errors, scrub) into normalized per-pool snapshots,
// joined by pool name and sorted for deterministic evaluation order.
func Parse(rawList, rawStatus []byte) ([]PoolSnapshot, error) {
	listPools, listOK, err := poolsOf(rawList, "list")
	if err != nil {
		return nil, err
	}
	statusPools, statusOK, err := poolsOf(rawStatus, "status")
	if err != nil {
		return nil, err
	}
	if !listOK && !statusOK {
		return nil, &ParseError{Doc: "list+status", Err: errors.New("no pools mapping in either document")}
	}

	names := make([]string, 0, len(listPools))
	seen := make(map[string]bool, len(listPools))
	for name := range listPools {
		names = append(names, name)
		seen[name] = true
	}
	for name := range statusPools {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	snaps := make([]PoolSnapshot, 0, len(names))
	for _, name := range names {
		snaps = append(snaps, buildSnapshot(name, listPools[name], statusPools[name]))
	}
	return snaps, nil
}

// poolsOf decodes one raw document and extracts its pools mapping. The
// second result reports whether a pools mapping was present at all, so the
// caller can distinguish an empty host from an unrecognizable document.
func poolsOf(raw []byte, doc string) (map[string]map[string]any, bool, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, false, &ParseError{Doc: doc, Err: errors.New("empty output")}
	}
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, false, &ParseError{Doc: doc, Err: err}
	}
	rawPools, ok := top["pools"].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	pools := make(map[string]map[string]any, len(rawPools))
	for name, v := range rawPools {
		if node, ok := v.(map[string]any); ok {
			pools[name] = node
		}
	}
	return pools, true, nil
}

func buildSnapshot(name string, listNode, statusNode map[string]any) PoolSnapshot {
	snap := PoolSnapshot{Name: name, Health: HealthUnknown}

	if s, ok := firstString(statusNode, name, healthStatusPaths); ok {
		snap.Health = ParseHealth(s)
	} else if s, ok := firstString(listNode, name, healthListPaths); ok {
		snap.Health = ParseHealth(s)
	}

	snap.SizeBytes, _ = firstBytes(listNode, name, sizePaths)
	if snap.SizeBytes == 0 {
		snap.SizeBytes, _ = firstBytes(statusNode, name, sizeVdevPaths)
	}
	snap.AllocBytes, _ = firstBytes(listNode, name, allocPaths)
	if snap.AllocBytes == 0 {
		snap.AllocBytes, _ = firstBytes(statusNode, name, allocVdevPaths)
	}
	if free, ok := firstBytes(listNode, name, freePaths); ok {
		snap.FreeBytes = free
	} else if snap.SizeBytes >= snap.AllocBytes {
		snap.FreeBytes = snap.SizeBytes - snap.AllocBytes
	}

	if pct, ok := firstFloat(listNode, name, capacityPaths); ok {
		snap.PercentUsed = clampPercent(pct)
	} else if snap.SizeBytes > 0 {
		snap.PercentUsed = clampPercent(float64(snap.AllocBytes) / float64(snap.SizeBytes) * 100)
	}

	snap.ReadErrors, _ = firstCount(statusNode, name, readErrorPaths)
	snap.WriteErrors, _ = firstCount(statusNode, name, writeErrorPaths)
	snap.ChecksumErrors, _ = firstCount(statusNode, name, cksumErrorPaths)

	if scan := firstNode(statusNode, name, scanNodePaths); scan != nil {
		state := ""
		if s, ok := firstString(scan, name, [][]string{{"state"}}); ok {
			state = strings.ToLower(s)
		}
		snap.ScrubInProgress = state == "in_progress" || state == "scanning"
		if t, ok := firstTime(scan, name, scanTimePaths); ok {
			snap.LastScrub = &t
		}
		snap.ScrubErrors, _ = firstCount(scan, name, scanErrorPaths)
	}

	return snap
}

// lookup walks one candidate path through nested objects, substituting the
// pool name for poolKey segments.
func lookup(node map[string]any, pool string, path []string) (any, bool) {
	var cur any = node
	for _, key := range path {
		if key == poolKey {
			key = pool
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// unwrapValue unwraps the {"value": x} property objects newer zpool
// versions emit; bare scalars pass through.
func unwrapValue(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}

func firstString(node map[string]any, pool string, paths [][]string) (string, bool) {
	if node == nil {
		return "", false
	}
	for _, p := range paths {
		if v, ok := lookup(node, pool, p); ok {
			switch s := unwrapValue(v).(type) {
			case string:
				if strings.TrimSpace(s) != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

func firstFloat(node map[string]any, pool string, paths [][]string) (float64, bool) {
	if node == nil {
		return 0, false
	}
	for _, p := range paths {
		if v, ok := lookup(node, pool, p); ok {
			if f, ok := asFloat(unwrapValue(v)); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func firstBytes(node map[string]any, pool string, paths [][]string) (uint64, bool) {
	if node == nil {
		return 0, false
	}
	for _, p := range paths {
		if v, ok := lookup(node, pool, p); ok {
			switch n := unwrapValue(v).(type) {
			case float64:
				if n >= 0 {
					return uint64(n), true
				}
			case string:
				if b, err := ParseSize(n); err == nil {
					return b, true
				}
			}
		}
	}
	return 0, false
}

func firstCount(node map[string]any, pool string, paths [][]string) (uint64, bool) {
	if node == nil {
		return 0, false
	}
	for _, p := range paths {
		if v, ok := lookup(node, pool, p); ok {
			if n, ok := asCount(unwrapValue(v)); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func firstTime(node map[string]any, pool string, paths [][]string) (time.Time, bool) {
	if node == nil {
		return time.Time{}, false
	}
	for _, p := range paths {
		if v, ok := lookup(node, pool, p); ok {
			if t, ok := asTime(unwrapValue(v)); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func firstNode(node map[string]any, pool string, paths [][]string) map[string]any {
	if node == nil {
		return nil
	}
	for _, p := range paths {
		if v, ok := lookup(node, pool, p); ok {
			if m, ok := v.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

// asFloat accepts JSON numbers and numeric strings, tolerating a trailing
// percent sign ("95%" and "95" both resolve to 95).
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(n), "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// asCount accepts error counters as numbers, digit strings or the
// abbreviated renderings zpool uses for large values ("1.2K").
func asCount(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case string:
		s := strings.TrimSpace(n)
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, true
		}
		if b, err := ParseSize(s); err == nil {
			return b, true
		}
	}
	return 0, false
}

// asTime accepts epoch seconds (number or digit string) and the
// human-readable layout older zpool versions print. Zero and negative
// epochs mean "never" and resolve to no value.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case float64:
		if t <= 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t), 0).UTC(), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "-" {
			return time.Time{}, false
		}
		if u, err := strconv.ParseInt(s, 10, 64); err == nil {
			if u <= 0 {
				return time.Time{}, false
			}
			return time.Unix(u, 0).UTC(), true
		}
		// single-digit days come space-padded ("Sat Jan  3 ...")
		s = strings.Join(strings.Fields(s), " ")
		if ts, err := time.Parse(scrubTimeLayout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
