// Package pipeline runs the periodic enrichment and auto-enrollment sweeps.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/jobs"
	"github.com/sells-group/outreach-cli/internal/lock"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Enricher enriches one prospect by domain.
type Enricher interface {
	Enrich(ctx context.Context, domain string, req enrich.Request) (*enrich.Result, error)
	RecordFailure(ctx context.Context, prospectID string, err error)
}

// Options configures a Runner. Enricher and Gate must share Locker's
// serialization, so pass the same Locker used to build the Enricher.
type Options struct {
	Store    store.Store
	Enricher Enricher
	Gate     enrich.Gate
	Locker   lock.Locker
	Metrics  *metrics.Metrics

	Concurrency int
	// ReenrichAfter is the age at which READY_TO_CONTACT prospects are
	// enriched again. Zero disables re-enrichment.
	ReenrichAfter time.Duration
	Policies      map[jobs.Kind]resilience.RetryConfig
	Now           func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	Selected  int
	Succeeded int
	Failed    int
	Skipped   int
	Enrolled  int
}

// Runner selects due prospects and runs them through a jobs.Pool. It
// implements jobs.Handler.
type Runner struct {
	store         store.Store
	enricher      Enricher
	gate          enrich.Gate
	locker        lock.Locker
	metrics       *metrics.Metrics
	concurrency   int
	reenrichAfter time.Duration
	policies      map[jobs.Kind]resilience.RetryConfig
	now           func() time.Time
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		store:         opts.Store,
		enricher:      opts.Enricher,
		gate:          opts.Gate,
		locker:        opts.Locker,
		metrics:       opts.Metrics,
		concurrency:   opts.Concurrency,
		reenrichAfter: opts.ReenrichAfter,
		policies:      opts.Policies,
		now:           opts.Now,
	}
}

// EnrichSweep enriches every NEW prospect and every stale READY_TO_CONTACT
// prospect, up to limit. When autoEnroll is set each enriched prospect goes
// through the gate with those settings.
func (r *Runner) EnrichSweep(ctx context.Context, limit int, autoEnroll *enroll.Settings) (Report, error) {
	filter := store.EnrichableFilter{Limit: limit}
	if r.reenrichAfter > 0 {
		filter.StaleBefore = r.now().Add(-r.reenrichAfter)
	}
	prospects, err := r.store.ListEnrichable(ctx, filter)
	if err != nil {
		return Report{}, eris.Wrap(err, "pipeline: list enrichable")
	}

	batch := make([]jobs.Job, 0, len(prospects))
	for _, p := range prospects {
		batch = append(batch, jobs.EnrichJob{
			ProspectID: p.ID,
			Domain:     p.Domain,
			Trigger:    "batch",
			AutoEnroll: autoEnroll,
		})
	}
	return r.run(ctx, "enrich", batch)
}

// AutoEnrollSweep runs the gate for READY_TO_CONTACT prospects without an
// open enrollment. Nothing runs while auto-enrollment is disabled.
func (r *Runner) AutoEnrollSweep(ctx context.Context, limit int, settings enroll.Settings) (Report, error) {
	if !settings.Enabled {
		zap.L().Info("pipeline: auto-enrollment disabled, sweep skipped")
		return Report{}, nil
	}
	if r.gate == nil {
		return Report{}, eris.New("pipeline: no gate configured")
	}
	prospects, err := r.store.ListEnrollCandidates(ctx, limit)
	if err != nil {
		return Report{}, eris.Wrap(err, "pipeline: list enroll candidates")
	}

	batch := make([]jobs.Job, 0, len(prospects))
	for _, p := range prospects {
		batch = append(batch, jobs.AutoEnrollJob{ProspectID: p.ID, Domain: p.Domain, Settings: settings})
	}
	return r.run(ctx, "auto_enroll", batch)
}

func (r *Runner) run(ctx context.Context, name string, batch []jobs.Job) (Report, error) {
	log := zap.L().With(zap.String("sweep", name))
	if len(batch) == 0 {
		log.Info("pipeline: nothing to do")
		return Report{}, nil
	}
	log.Info("pipeline: sweep starting", zap.Int("prospects", len(batch)))

	t := &tally{Runner: r}
	pool := jobs.NewPool(t, jobs.Options{
		Concurrency: r.concurrency,
		Policies:    r.policies,
		Metrics:     r.metrics,
		OnFailure:   r.onFailure,
	})
	summary, err := pool.Run(ctx, batch)

	rep := Report{
		Selected:  len(batch),
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Skipped:   int(t.skipped.Load()),
		Enrolled:  int(t.enrolled.Load()),
	}
	log.Info("pipeline: sweep complete",
		zap.Int("selected", rep.Selected),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("enrolled", rep.Enrolled),
	)
	return rep, eris.Wrapf(err, "pipeline: %s sweep", name)
}

// onFailure writes one enrichment_failed event per prospect after the last
// attempt.
func (r *Runner) onFailure(ctx context.Context, j jobs.Job, err error) {
	if ej, ok := j.(jobs.EnrichJob); ok && ej.ProspectID != "" {
		r.enricher.RecordFailure(context.WithoutCancel(ctx), ej.ProspectID, err)
	}
}

// HandleEnrich implements jobs.Handler.
func (r *Runner) HandleEnrich(ctx context.Context, j jobs.EnrichJob) error {
	return (&tally{Runner: r}).HandleEnrich(ctx, j)
}

// HandleAutoEnroll implements jobs.Handler.
func (r *Runner) HandleAutoEnroll(ctx context.Context, j jobs.AutoEnrollJob) error {
	return (&tally{Runner: r}).HandleAutoEnroll(ctx, j)
}

// tally counts outcomes for one sweep.
type tally struct {
	*Runner
	skipped  atomic.Int64
	enrolled atomic.Int64
}

func (t *tally) HandleEnrich(ctx context.Context, j jobs.EnrichJob) error {
	res, err := t.enricher.Enrich(ctx, j.Domain, enrich.Request{Trigger: j.Trigger, AutoEnroll: j.AutoEnroll})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jobs.Permanent(err)
		}
		return err
	}
	if res.Skipped != "" {
		t.skipped.Add(1)
	}
	if res.Decision != nil {
		t.count(*res.Decision)
	}
	return nil
}

func (t *tally) HandleAutoEnroll(ctx context.Context, j jobs.AutoEnrollJob) error {
	if t.gate == nil {
		return jobs.Permanent(eris.New("pipeline: no gate configured"))
	}
	return t.locker.WithLock(ctx, j.Domain, func(ctx context.Context) error {
		d, err := t.gate.Evaluate(ctx, j.ProspectID, j.Settings)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return jobs.Permanent(err)
			}
			return err
		}
		t.count(d)
		return nil
	})
}

func (t *tally) count(d enroll.Decision) {
	switch d.Outcome {
	case enroll.OutcomeEnrolled:
		t.enrolled.Add(1)
	case enroll.OutcomeSkipped:
		t.skipped.Add(1)
	}
}

// EnrichDomain is the manual single-prospect entry point used by the CLI
// and HTTP server. It retries like a sweep job and records a failure event
// when it gives up.
func (r *Runner) EnrichDomain(ctx context.Context, domain string, autoEnroll *enroll.Settings) (*enrich.Result, error) {
	var res *enrich.Result
	cfg := resilience.EnrichPolicy()
	if p, ok := r.policies[jobs.KindEnrich]; ok {
		cfg = p
	}
	cfg.ShouldRetry = func(err error) bool {
		return !errors.Is(err, store.ErrNotFound) && !jobs.IsPermanent(err)
	}
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		res, err = r.enricher.Enrich(ctx, domain, enrich.Request{Trigger: "manual", AutoEnroll: autoEnroll})
		return err
	})
	if err != nil {
		if p, lerr := r.store.GetProspectByDomain(ctx, model.NormalizeDomain(domain)); lerr == nil {
			r.enricher.RecordFailure(context.WithoutCancel(ctx), p.ID, err)
		}
		return nil, err
	}
	return res, nil
}
