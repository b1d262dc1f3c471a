package alerts

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
)

// Resolved records stay in the state this long so the file shows recent
// recoveries, then they are pruned.
const resolvedRetention = 24 * time.Hour

// ActionDigest marks scheduled summary messages. It is a message kind
// only, never a state transition.
const ActionDigest Action = "digest"

// Options configure the decision engine.
type Options struct {
	ResendInterval time.Duration
	Recovery       bool
}

// Engine is the alert state machine. Per cycle it compares the issues
// against the stored records and decides fire/resend/escalate/resolve,
// delivering through the notifier and marking the state dirty for Sync.
type Engine struct {
	logger   zerolog.Logger
	store    *Store
	notifier Notifier
	opts     Options

	mu    sync.RWMutex
	state State
	dirty bool

	now    func() time.Time
	hostFn func() monitor.HostInfo
}

func NewEngine(logger zerolog.Logger, store *Store, notifier Notifier, opts Options) *Engine {
	return &Engine{
		logger:   logger.With().Str("component", "alert-engine").Logger(),
		store:    store,
		notifier: notifier,
		opts:     opts,
		state:    State{},
		now:      time.Now,
		hostFn:   monitor.CollectHost,
	}
}

// Load primes the in-memory state from disk. It runs once before the
// first cycle so resend timing and recovery detection survive restarts.
func (e *Engine) Load() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = e.store.Load()
}

// Apply runs the state machine over one cycle's issues and returns the
// decisions taken. A failed delivery still advances last-notified, so a
// flapping channel cannot cause a retry storm; the issue simply becomes
// eligible again at the normal resend cadence.
func (e *Engine) Apply(res monitor.CheckResult) []Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	active := make(map[string]monitor.Issue, len(res.Issues))
	for _, iss := range res.Issues {
		active[iss.Signature()] = iss
	}

	var decisions []Decision
	for _, sig := range sortedKeys(active) {
		iss := active[sig]
		rec := e.state[sig]
		switch {
		case rec == nil || rec.Resolved:
			// first detection, or a recurrence after recovery: fresh record
			e.state[sig] = &Record{FirstSeen: now, LastNotified: now, LastSeverity: iss.Severity}
			e.dirty = true
			decisions = append(decisions, e.notifyIssue(ActionFired, iss, now))
		case iss.Severity.GreaterThan(rec.LastSeverity):
			// escalation overrides the resend window
			rec.LastNotified = now
			rec.LastSeverity = iss.Severity
			e.dirty = true
			decisions = append(decisions, e.notifyIssue(ActionEscalated, iss, now))
		case now.Sub(rec.LastNotified) >= e.opts.ResendInterval:
			rec.LastNotified = now
			rec.LastSeverity = iss.Severity
			e.dirty = true
			decisions = append(decisions, e.notifyIssue(ActionResent, iss, now))
		}
	}

	for _, sig := range sortedKeys(e.state) {
		rec := e.state[sig]
		if rec.Resolved {
			if rec.ResolvedAt == nil || now.Sub(*rec.ResolvedAt) >= resolvedRetention {
				delete(e.state, sig)
				e.dirty = true
			}
			continue
		}
		if _, ok := active[sig]; ok {
			continue
		}
		t := now
		rec.Resolved = true
		rec.ResolvedAt = &t
		e.dirty = true
		decisions = append(decisions, e.notifyRecovery(sig, rec, now))
	}

	return decisions
}

// Sync persists the state when the last Apply changed it.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		return nil
	}
	if err := e.store.Save(e.state); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// Active returns the unresolved records keyed by signature.
func (e *Engine) Active() map[string]Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Record, len(e.state))
	for sig, rec := range e.state {
		if !rec.Resolved {
			out[sig] = *rec
		}
	}
	return out
}

// SendDigest delivers a summary of the currently active alerts. Nothing is
// sent when no alert is active or no notifier is configured.
func (e *Engine) SendDigest() error {
	if e.notifier == nil {
		return nil
	}
	active := e.Active()
	if len(active) == 0 {
		return nil
	}

	host := e.hostFn()
	worst := monitor.SeverityOK
	var lines []string
	for _, sig := range sortedKeys(active) {
		rec := active[sig]
		worst = worst.Max(rec.LastSeverity)
		lines = append(lines, fmt.Sprintf("%-8s %s (since %s)",
			rec.LastSeverity, sig, rec.FirstSeen.Format(time.RFC3339)))
	}

	msg := Message{
		ID:        uuid.New().String(),
		Subject:   fmt.Sprintf("[DIGEST] %d active zpool alert(s) on %s", len(active), host.Hostname),
		Body:      strings.Join(lines, "\n"),
		Severity:  worst,
		Action:    ActionDigest,
		Timestamp: e.now(),
		Host:      host,
	}
	if err := e.notifier.Send(msg); err != nil {
		e.logger.Error().Err(err).Msg("digest delivery failed")
		return err
	}
	e.logger.Info().Int("alerts", len(active)).Msg("digest sent")
	return nil
}

func (e *Engine) notifyIssue(action Action, iss monitor.Issue, now time.Time) Decision {
	d := Decision{
		ID:       uuid.New().String(),
		Action:   action,
		Pool:     iss.Pool,
		Category: iss.Category,
		Severity: iss.Severity,
		Message:  iss.Message,
		Time:     now,
	}
	if e.notifier == nil {
		return d
	}
	host := e.hostFn()
	e.deliver(&d, Message{
		ID:        d.ID,
		Subject:   fmt.Sprintf("[%s] zpool %s %s on %s", iss.Severity, iss.Pool, iss.Category, host.Hostname),
		Body:      alertBody(iss, host),
		Severity:  iss.Severity,
		Pool:      iss.Pool,
		Category:  iss.Category,
		Action:    action,
		Detail:    iss.Message,
		Timestamp: now,
		Host:      host,
	})
	return d
}

func (e *Engine) notifyRecovery(sig string, rec *Record, now time.Time) Decision {
	pool, cat := splitSignature(sig)
	detail := fmt.Sprintf("recovered, was %s since %s", rec.LastSeverity, rec.FirstSeen.Format(time.RFC3339))
	d := Decision{
		ID:       uuid.New().String(),
		Action:   ActionResolved,
		Pool:     pool,
		Category: cat,
		Severity: monitor.SeverityOK,
		Message:  detail,
		Time:     now,
	}
	if !e.opts.Recovery || e.notifier == nil {
		return d
	}
	host := e.hostFn()
	e.deliver(&d, Message{
		ID:        d.ID,
		Subject:   fmt.Sprintf("[RECOVERED] zpool %s %s on %s", pool, cat, host.Hostname),
		Body:      recoveryBody(pool, cat, rec, now, host),
		Severity:  monitor.SeverityOK,
		Pool:      pool,
		Category:  cat,
		Action:    ActionResolved,
		Detail:    detail,
		Timestamp: now,
		Host:      host,
	})
	return d
}

func (e *Engine) deliver(d *Decision, msg Message) {
	if err := e.notifier.Send(msg); err != nil {
		e.logger.Error().Err(err).
			Str("pool", d.Pool).
			Str("category", string(d.Category)).
			Msg("notification failed")
		d.NotifyError = err.Error()
		return
	}
	d.Notified = true
	e.logger.Info().
		Str("action", string(d.Action)).
		Str("pool", d.Pool).
		Str("category", string(d.Category)).
		Str("severity", string(d.Severity)).
		Msg("notification sent")
}

func alertBody(iss monitor.Issue, host monitor.HostInfo) string {
	return fmt.Sprintf("Pool:     %s\nCategory: %s\nSeverity: %s\nDetail:   %s\nTime:     %s\n%s",
		iss.Pool, iss.Category, iss.Severity, iss.Message,
		iss.DetectedAt.Format(time.RFC3339), hostLine(host))
}

func recoveryBody(pool string, cat monitor.Category, rec *Record, now time.Time, host monitor.HostInfo) string {
	return fmt.Sprintf("Pool:     %s\nCategory: %s\nStatus:   recovered\nWas:      %s, first seen %s\nCleared:  %s\n%s",
		pool, cat, rec.LastSeverity, rec.FirstSeen.Format(time.RFC3339),
		now.Format(time.RFC3339), hostLine(host))
}

func hostLine(host monitor.HostInfo) string {
	return fmt.Sprintf("Host:     %s (%s %s), load %.2f/%.2f/%.2f",
		host.Hostname, host.Platform, host.KernelVersion, host.Load1, host.Load5, host.Load15)
}

func splitSignature(sig string) (string, monitor.Category) {
	i := strings.LastIndex(sig, ":")
	if i < 0 {
		return sig, ""
	}
	return sig[:i], monitor.Category(sig[i+1:])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
