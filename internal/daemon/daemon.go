// Package daemon drives the monitoring loop: acquire the zpool documents,
// parse, evaluate thresholds, feed the alert engine, persist, repeat.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/internal/config"
	"github.com/bitranox/check-zpools-sub001/internal/history"
	"github.com/bitranox/check-zpools-sub001/internal/server"
	"github.com/bitranox/check-zpools-sub001/pkg/alerts"
	"github.com/bitranox/check-zpools-sub001/pkg/monitor"
	"github.com/bitranox/check-zpools-sub001/pkg/zpool"
)

// Runner executes check cycles and mirrors the last result for the
// status API. History and metrics may be nil; the cycle then runs
// without them.
type Runner struct {
	logger  zerolog.Logger
	cfg     config.Config
	source  zpool.Source
	engine  *alerts.Engine
	hist    *history.Log
	metrics *server.Metrics

	mu      sync.RWMutex
	last    monitor.CheckResult
	hasLast bool

	now       func() time.Time
	lastPrune time.Time
}

func NewRunner(logger zerolog.Logger, cfg config.Config, source zpool.Source, engine *alerts.Engine, hist *history.Log, metrics *server.Metrics) *Runner {
	return &Runner{
		logger:  logger.With().Str("component", "daemon").Logger(),
		cfg:     cfg,
		source:  source,
		engine:  engine,
		hist:    hist,
		metrics: metrics,
		now:     time.Now,
	}
}

// RunCycle performs one full cycle. An acquisition or parse failure skips
// the cycle: it is logged, recorded, and returned, but a running loop
// carries on with the next cycle.
func (r *Runner) RunCycle() (monitor.CheckResult, []alerts.Decision, error) {
	start := r.now()
	res, err := r.collect(start)
	dur := r.now().Sub(start)
	if err != nil {
		r.logCycleError(err, start)
		if r.metrics != nil {
			r.metrics.ObserveCycle(res, dur, err)
		}
		if r.hist != nil {
			if herr := r.hist.RecordCycle(start, "", 0, 0, dur, err); herr != nil {
				r.logger.Warn().Err(herr).Msg("history write failed")
			}
		}
		return monitor.CheckResult{}, nil, err
	}

	decisions := r.engine.Apply(res)
	if serr := r.engine.Sync(); serr != nil {
		r.logger.Error().Err(serr).Msg("alert state persist failed")
	}

	r.mu.Lock()
	r.last = res
	r.hasLast = true
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ObserveCycle(res, dur, nil)
		r.metrics.ObserveDecisions(decisions)
		r.metrics.SetActiveAlerts(len(r.engine.Active()))
	}
	if r.hist != nil {
		if herr := r.hist.RecordCycle(res.Timestamp, res.Overall, len(res.Pools), len(res.Issues), dur, nil); herr != nil {
			r.logger.Warn().Err(herr).Msg("history write failed")
		}
		if herr := r.hist.RecordDecisions(decisions); herr != nil {
			r.logger.Warn().Err(herr).Msg("history write failed")
		}
		r.pruneHistory()
	}

	r.logger.Info().
		Str("overall", string(res.Overall)).
		Int("pools", len(res.Pools)).
		Int("issues", len(res.Issues)).
		Int("decisions", len(decisions)).
		Dur("duration", dur).
		Msg("cycle complete")
	return res, decisions, nil
}

func (r *Runner) collect(ts time.Time) (monitor.CheckResult, error) {
	rawList, rawStatus, err := r.source.Acquire()
	if err != nil {
		return monitor.CheckResult{}, err
	}
	snaps, err := zpool.Parse(rawList, rawStatus)
	if err != nil {
		return monitor.CheckResult{}, err
	}
	snaps = zpool.Filter(snaps, r.cfg.Pools)
	return monitor.CheckAll(snaps, r.cfg.MonitorThresholds(), ts), nil
}

// Run executes cycles until ctx is canceled. The wait between cycles is
// interruptible; an in-flight zpool query is not, it finishes under its
// own timeout before the loop notices the cancellation.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.cfg.Interval()
	r.logger.Info().Dur("interval", interval).Msg("monitoring loop started")

	if r.cfg.Notify.Digest != "" {
		digest := cron.New()
		if _, err := digest.AddFunc(r.cfg.Notify.Digest, func() {
			if err := r.engine.SendDigest(); err != nil {
				r.logger.Error().Err(err).Msg("digest delivery failed")
			}
		}); err != nil {
			r.logger.Error().Err(err).Str("schedule", r.cfg.Notify.Digest).Msg("digest schedule rejected")
		} else {
			digest.Start()
			defer func() { <-digest.Stop().Done() }()
		}
	}

	for {
		if ctx.Err() != nil {
			r.logger.Info().Msg("monitoring loop stopped")
			return nil
		}
		start := r.now()
		_, _, _ = r.RunCycle() // failures are logged inside; the loop continues

		wait := interval - r.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info().Msg("monitoring loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// LastResult returns the most recent completed cycle.
func (r *Runner) LastResult() (monitor.CheckResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}

// ActiveAlerts returns the unresolved alert records.
func (r *Runner) ActiveAlerts() map[string]alerts.Record {
	return r.engine.Active()
}

func (r *Runner) logCycleError(err error, ts time.Time) {
	var (
		aerr *zpool.AcquisitionError
		perr *zpool.ParseError
	)
	evt := r.logger.Error().Time("cycle", ts)
	switch {
	case errors.As(err, &aerr):
		evt.Str("stage", "acquire").Err(err).Msg("cycle skipped")
	case errors.As(err, &perr):
		evt.Str("stage", "parse").Err(err).Msg("cycle skipped")
	default:
		evt.Err(err).Msg("cycle skipped")
	}
}

func (r *Runner) pruneHistory() {
	now := r.now()
	if now.Sub(r.lastPrune) < time.Hour {
		return
	}
	r.lastPrune = now
	if err := r.hist.Prune(now); err != nil {
		r.logger.Warn().Err(err).Msg("history prune failed")
	}
}
