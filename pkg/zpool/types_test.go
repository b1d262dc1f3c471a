package zpool

import "testing"

func TestParseHealthTokens(t *testing.T) {
	cases := []struct {
		in   string
		want Health
	}{
		{"ONLINE", HealthOnline},
		{"online", HealthOnline},
		{" Degraded ", HealthDegraded},
		{"FAULTED", HealthFaulted},
		{"OFFLINE", HealthOffline},
		{"UNAVAIL", HealthUnavail},
		{"REMOVED", HealthRemoved},
		{"SUSPENDED", HealthSuspended},
		{"SPLIT", HealthUnknown},
		{"", HealthUnknown},
	}
	for _, c := range cases {
		if got := ParseHealth(c.in); got != c.want {
			t.Errorf("ParseHealth(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestHealthPredicatesPartition(t *testing.T) {
	all := []Health{
		HealthOnline, HealthDegraded, HealthFaulted, HealthOffline,
		HealthUnavail, HealthRemoved, HealthSuspended, HealthUnknown,
	}
	for _, h := range all {
		if h.IsHealthy() && h.IsCritical() {
			t.Errorf("%v cannot be both healthy and critical", h)
		}
	}
	if !HealthOnline.IsHealthy() {
		t.Error("ONLINE must be healthy")
	}
	for _, h := range []Health{HealthFaulted, HealthUnavail, HealthRemoved} {
		if !h.IsCritical() {
			t.Errorf("%v must be critical", h)
		}
	}
	if HealthUnknown.IsHealthy() || HealthUnknown.IsCritical() {
		t.Error("UNKNOWN is never healthy, never critical")
	}
}

func TestFilter(t *testing.T) {
	snaps := []PoolSnapshot{{Name: "tank"}, {Name: "data"}, {Name: "backup"}}
	if got := Filter(snaps, nil); len(got) != 3 {
		t.Fatalf("empty allow list must keep all pools, got %d", len(got))
	}
	got := Filter(snaps, []string{"data", "missing"})
	if len(got) != 1 || got[0].Name != "data" {
		t.Fatalf("Filter = %+v, want just data", got)
	}
}
