package zpool

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize converts a zpool size rendering to bytes: a bare byte count or
// a decimal fraction with a K/M/G/T/P suffix, case-insensitive, optional
// trailing "B" ("9.50G", "512k", "1.2T", "100GB", "931" all resolve).
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0, fmt.Errorf("no size value")
	}
	// exact byte counts stay out of float arithmetic
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u, nil
	}

	var size float64
	var unit string
	n, _ := fmt.Sscanf(s, "%f%s", &size, &unit)
	if n == 0 {
		return 0, fmt.Errorf("unparseable size %q", s)
	}
	if size < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}

	unit = strings.TrimSuffix(strings.ToUpper(unit), "B")
	switch unit {
	case "":
	case "K":
		size *= 1 << 10
	case "M":
		size *= 1 << 20
	case "G":
		size *= 1 << 30
	case "T":
		size *= 1 << 40
	case "P":
		size *= 1 << 50
	default:
		return 0, fmt.Errorf("unknown size unit %q in %q", unit, s)
	}
	return uint64(size), nil
}

// FormatBytes renders a byte count the way zpool prints sizes, for log and
// notification text only.
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(b)/float64(div), "KMGTP"[exp])
}
