package jobs

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/resilience"
)

// DefaultConcurrency is the number of jobs run at once.
const DefaultConcurrency = 3

// Options configures a Pool.
type Options struct {
	Concurrency int
	// Policies overrides the retry policy per kind.
	Policies map[Kind]resilience.RetryConfig
	Metrics  *metrics.Metrics
	// OnFailure runs once for a job that failed after its last attempt.
	OnFailure func(ctx context.Context, j Job, err error)
}

// Summary counts the results of a Run.
type Summary struct {
	Succeeded int
	Failed    int
}

// Pool executes jobs against a Handler.
type Pool struct {
	handler     Handler
	concurrency int
	policies    map[Kind]resilience.RetryConfig
	metrics     *metrics.Metrics
	onFailure   func(ctx context.Context, j Job, err error)
}

// DefaultPolicies are 3 attempts for enrichment and 5 for auto-enrollment,
// whose delivery step is the flaky one.
func DefaultPolicies() map[Kind]resilience.RetryConfig {
	return map[Kind]resilience.RetryConfig{
		KindEnrich:     resilience.EnrichPolicy(),
		KindAutoEnroll: resilience.DeliveryPolicy(),
	}
}

// NewPool creates a Pool.
func NewPool(h Handler, opts Options) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	policies := DefaultPolicies()
	for k, v := range opts.Policies {
		policies[k] = v
	}
	return &Pool{
		handler:     h,
		concurrency: opts.Concurrency,
		policies:    policies,
		metrics:     opts.Metrics,
		onFailure:   opts.OnFailure,
	}
}

// Run executes all jobs and waits for them. A failing job never stops the
// others; Run returns an error only when ctx is done.
func (p *Pool) Run(ctx context.Context, jobs []Job) (Summary, error) {
	if len(jobs) == 0 {
		return Summary{}, nil
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	var succeeded, failed atomic.Int64
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			log := zap.L().With(zap.String("kind", string(j.Kind())), zap.String("key", j.Key()))
			if err := p.runOne(ctx, j); err != nil {
				failed.Add(1)
				p.metrics.Job(string(j.Kind()), "failed")
				log.Error("job failed", zap.Error(err))
				if p.onFailure != nil {
					p.onFailure(ctx, j, err)
				}
				return nil
			}
			succeeded.Add(1)
			p.metrics.Job(string(j.Kind()), "ok")
			return nil
		})
	}
	_ = g.Wait()

	s := Summary{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	zap.L().Info("jobs: run complete",
		zap.Int("jobs", len(jobs)),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
	)
	return s, ctx.Err()
}

func (p *Pool) runOne(ctx context.Context, j Job) error {
	cfg := p.policies[j.Kind()]
	cfg.ShouldRetry = func(err error) bool { return !IsPermanent(err) }
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("jobs", string(j.Kind())+" "+j.Key())
	}
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return p.safeAccept(ctx, j)
	})
}

// safeAccept turns a handler panic into a permanent error.
func (p *Pool) safeAccept(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(eris.Errorf("jobs: %s %s panicked: %v", j.Kind(), j.Key(), r))
		}
	}()
	return j.Accept(ctx, p.handler)
}
