package alerts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

type fakeNotifier struct {
	sent []Message
	fail bool
}

func (f *fakeNotifier) Send(msg Message) error {
	f.sent = append(f.sent, msg)
	if f.fail {
		return &NotificationError{Channel: "fake", Err: errors.New("boom")}
	}
	return nil
}

var t0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, n Notifier, opts Options) (*Engine, *time.Time) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "state.json"), zerolog.Nop())
	e := NewEngine(zerolog.Nop(), store, n, opts)
	clock := t0
	e.now = func() time.Time { return clock }
	e.hostFn = func() monitor.HostInfo { return monitor.HostInfo{Hostname: "testhost"} }
	e.Load()
	return e, &clock
}

func capacityResult(sev monitor.Severity, at time.Time) monitor.CheckResult {
	iss := monitor.Issue{
		Pool:       "tank",
		Category:   monitor.CategoryCapacity,
		Severity:   sev,
		Message:    "92.0% used (threshold 90%)",
		DetectedAt: at,
	}
	return monitor.CheckResult{Timestamp: at, Issues: []monitor.Issue{iss}, Overall: sev}
}

func emptyResult(at time.Time) monitor.CheckResult {
	return monitor.CheckResult{Timestamp: at, Overall: monitor.SeverityOK}
}

func TestNewIssueNotifiesImmediately(t *testing.T) {
	n := &fakeNotifier{}
	e, _ := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: true})

	decisions := e.Apply(capacityResult(monitor.SeverityWarning, t0))
	if len(decisions) != 1 || decisions[0].Action != ActionFired {
		t.Fatalf("want one fired decision, got %+v", decisions)
	}
	if !decisions[0].Notified || decisions[0].ID == "" {
		t.Fatalf("fired decision not delivered: %+v", decisions[0])
	}
	if len(n.sent) != 1 || !strings.Contains(n.sent[0].Subject, "[WARNING]") {
		t.Fatalf("notifier got %+v", n.sent)
	}
	if !strings.Contains(n.sent[0].Subject, "tank") || !strings.Contains(n.sent[0].Subject, "testhost") {
		t.Errorf("subject should name pool and host: %q", n.sent[0].Subject)
	}
}

func TestResendWindow(t *testing.T) {
	// cycle every 5 minutes, resend after 24 hours: one notification at
	// detection, silence until the window crosses
	n := &fakeNotifier{}
	e, clock := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: true})

	if d := e.Apply(capacityResult(monitor.SeverityWarning, *clock)); len(d) != 1 {
		t.Fatalf("first cycle: want fired, got %+v", d)
	}
	for m := 5; m < 24*60; m += 5 {
		*clock = t0.Add(time.Duration(m) * time.Minute)
		if d := e.Apply(capacityResult(monitor.SeverityWarning, *clock)); len(d) != 0 {
			t.Fatalf("minute %d: want suppression, got %+v", m, d)
		}
	}
	*clock = t0.Add(24 * time.Hour)
	d := e.Apply(capacityResult(monitor.SeverityWarning, *clock))
	if len(d) != 1 || d[0].Action != ActionResent {
		t.Fatalf("at 24h: want resent, got %+v", d)
	}
	if len(n.sent) != 2 {
		t.Fatalf("want exactly 2 notifications, got %d", len(n.sent))
	}
}

func TestEscalationOverridesSuppression(t *testing.T) {
	n := &fakeNotifier{}
	e, clock := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: true})

	e.Apply(capacityResult(monitor.SeverityWarning, *clock))

	*clock = t0.Add(10 * time.Minute)
	d := e.Apply(capacityResult(monitor.SeverityCritical, *clock))
	if len(d) != 1 || d[0].Action != ActionEscalated {
		t.Fatalf("severity increase inside the window must escalate, got %+v", d)
	}

	// same severity right after: suppressed again
	*clock = t0.Add(15 * time.Minute)
	if d := e.Apply(capacityResult(monitor.SeverityCritical, *clock)); len(d) != 0 {
		t.Fatalf("post-escalation cycle must suppress, got %+v", d)
	}

	// a decrease is not an escalation
	*clock = t0.Add(20 * time.Minute)
	if d := e.Apply(capacityResult(monitor.SeverityWarning, *clock)); len(d) != 0 {
		t.Fatalf("severity decrease must not notify, got %+v", d)
	}
}

func TestRecoveryExactlyOnceThenFresh(t *testing.T) {
	n := &fakeNotifier{}
	e, clock := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: true})

	e.Apply(capacityResult(monitor.SeverityWarning, *clock))

	*clock = t0.Add(5 * time.Minute)
	d := e.Apply(emptyResult(*clock))
	if len(d) != 1 || d[0].Action != ActionResolved || !d[0].Notified {
		t.Fatalf("disappearance must produce one delivered recovery, got %+v", d)
	}
	if !strings.Contains(n.sent[len(n.sent)-1].Subject, "[RECOVERED]") {
		t.Errorf("recovery subject = %q", n.sent[len(n.sent)-1].Subject)
	}

	// still gone: nothing more
	*clock = t0.Add(10 * time.Minute)
	if d := e.Apply(emptyResult(*clock)); len(d) != 0 {
		t.Fatalf("second clean cycle must be silent, got %+v", d)
	}

	// reappearance is a new issue, notified immediately
	*clock = t0.Add(15 * time.Minute)
	d = e.Apply(capacityResult(monitor.SeverityWarning, *clock))
	if len(d) != 1 || d[0].Action != ActionFired {
		t.Fatalf("recurrence must fire fresh, got %+v", d)
	}
	rec := e.Active()["tank:capacity"]
	if !rec.FirstSeen.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("recurrence must reset first seen, got %v", rec.FirstSeen)
	}
}

func TestRecoveryDisabled(t *testing.T) {
	n := &fakeNotifier{}
	e, clock := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: false})

	e.Apply(capacityResult(monitor.SeverityWarning, *clock))
	sentBefore := len(n.sent)

	*clock = t0.Add(5 * time.Minute)
	d := e.Apply(emptyResult(*clock))
	if len(d) != 1 || d[0].Action != ActionResolved {
		t.Fatalf("resolution must still be recorded, got %+v", d)
	}
	if d[0].Notified || len(n.sent) != sentBefore {
		t.Error("disabled recovery must not deliver")
	}
}

func TestFailedDeliveryStillAdvancesLastNotified(t *testing.T) {
	n := &fakeNotifier{fail: true}
	e, clock := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: true})

	d := e.Apply(capacityResult(monitor.SeverityWarning, *clock))
	if len(d) != 1 || d[0].Notified || d[0].NotifyError == "" {
		t.Fatalf("want failed fired decision, got %+v", d)
	}

	// the attempt counts: no retry on the next cycle
	*clock = t0.Add(5 * time.Minute)
	if d := e.Apply(capacityResult(monitor.SeverityWarning, *clock)); len(d) != 0 {
		t.Fatalf("failed send must not trigger a retry, got %+v", d)
	}
	rec := e.Active()["tank:capacity"]
	if !rec.LastNotified.Equal(t0) {
		t.Errorf("last notified = %v, want %v", rec.LastNotified, t0)
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	n := &fakeNotifier{}

	e1 := NewEngine(zerolog.Nop(), NewStore(path, zerolog.Nop()), n, Options{ResendInterval: 24 * time.Hour, Recovery: true})
	clock := t0
	e1.now = func() time.Time { return clock }
	e1.hostFn = func() monitor.HostInfo { return monitor.HostInfo{Hostname: "testhost"} }
	e1.Load()
	e1.Apply(capacityResult(monitor.SeverityWarning, clock))
	if err := e1.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// restart five minutes later: resend timing must carry over
	e2 := NewEngine(zerolog.Nop(), NewStore(path, zerolog.Nop()), n, Options{ResendInterval: 24 * time.Hour, Recovery: true})
	clock2 := t0.Add(5 * time.Minute)
	e2.now = func() time.Time { return clock2 }
	e2.hostFn = func() monitor.HostInfo { return monitor.HostInfo{Hostname: "testhost"} }
	e2.Load()

	rec, ok := e2.Active()["tank:capacity"]
	if !ok {
		t.Fatal("record lost across restart")
	}
	if !rec.FirstSeen.Equal(t0) || !rec.LastNotified.Equal(t0) || rec.LastSeverity != monitor.SeverityWarning {
		t.Fatalf("reloaded record differs: %+v", rec)
	}
	if d := e2.Apply(capacityResult(monitor.SeverityWarning, clock2)); len(d) != 0 {
		t.Fatalf("restart must not re-notify inside the window, got %+v", d)
	}
}

func TestNullStateRecordIsHarmless(t *testing.T) {
	// a hand-edited or partially damaged state file can map a signature
	// to null; cycles and the active view must carry on without it
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"tank:capacity": null}`), 0o600); err != nil {
		t.Fatal(err)
	}

	n := &fakeNotifier{}
	e := NewEngine(zerolog.Nop(), NewStore(path, zerolog.Nop()), n, Options{ResendInterval: 24 * time.Hour, Recovery: true})
	clock := t0
	e.now = func() time.Time { return clock }
	e.hostFn = func() monitor.HostInfo { return monitor.HostInfo{} }
	e.Load()

	if d := e.Apply(emptyResult(clock)); len(d) != 0 {
		t.Fatalf("dropped record must not produce decisions, got %+v", d)
	}
	if active := e.Active(); len(active) != 0 {
		t.Fatalf("dropped record leaked into the active view: %+v", active)
	}
	if len(n.sent) != 0 {
		t.Fatalf("dropped record must not notify, sent %+v", n.sent)
	}

	// the signature is usable again afterwards
	if d := e.Apply(capacityResult(monitor.SeverityWarning, clock)); len(d) != 1 || d[0].Action != ActionFired {
		t.Fatalf("signature must fire fresh after the drop, got %+v", d)
	}
}

func TestResolvedRecordsPruned(t *testing.T) {
	n := &fakeNotifier{}
	e, clock := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: true})

	e.Apply(capacityResult(monitor.SeverityWarning, *clock))
	*clock = t0.Add(5 * time.Minute)
	e.Apply(emptyResult(*clock))

	*clock = t0.Add(26 * time.Hour)
	e.Apply(emptyResult(*clock))

	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.state) != 0 {
		t.Fatalf("resolved record should be pruned after retention, state=%v", e.state)
	}
}

func TestSyncOnlyWritesWhenDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	n := &fakeNotifier{}
	e := NewEngine(zerolog.Nop(), NewStore(path, zerolog.Nop()), n, Options{ResendInterval: 24 * time.Hour, Recovery: true})
	clock := t0
	e.now = func() time.Time { return clock }
	e.hostFn = func() monitor.HostInfo { return monitor.HostInfo{} }
	e.Load()

	// nothing happened yet, nothing to write
	if err := e.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatal("clean sync must not create the state file")
	}

	e.Apply(capacityResult(monitor.SeverityWarning, clock))
	if err := e.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("dirty sync must write the state file: %v", err)
	}
}

func TestDigestSummarizesActive(t *testing.T) {
	n := &fakeNotifier{}
	e, clock := newTestEngine(t, n, Options{ResendInterval: 24 * time.Hour, Recovery: true})

	if err := e.SendDigest(); err != nil {
		t.Fatalf("empty digest: %v", err)
	}
	if len(n.sent) != 0 {
		t.Fatal("digest with no active alerts must not send")
	}

	res := capacityResult(monitor.SeverityWarning, *clock)
	res.Issues = append(res.Issues, monitor.Issue{
		Pool: "data", Category: monitor.CategoryErrors,
		Severity: monitor.SeverityCritical, Message: "device errors: 9 read, 0 write, 0 checksum",
		DetectedAt: *clock,
	})
	res.Overall = monitor.SeverityCritical
	e.Apply(res)
	n.sent = nil

	if err := e.SendDigest(); err != nil {
		t.Fatalf("digest: %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("want one digest message, got %d", len(n.sent))
	}
	msg := n.sent[0]
	if msg.Action != ActionDigest || msg.Severity != monitor.SeverityCritical {
		t.Errorf("digest kind/severity wrong: %+v", msg)
	}
	if !strings.Contains(msg.Body, "tank:capacity") || !strings.Contains(msg.Body, "data:errors") {
		t.Errorf("digest body missing signatures: %q", msg.Body)
	}
}
