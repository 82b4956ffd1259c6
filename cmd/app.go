package main

import (
	"context"
	"net"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/delivery"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/jobs"
	"github.com/sells-group/outreach-cli/internal/lock"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/internal/signal"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/tags"
	"github.com/sells-group/outreach-cli/pkg/linkmetrics"
	"github.com/sells-group/outreach-cli/pkg/pagerank"
	"github.com/sells-group/outreach-cli/pkg/safebrowsing"
)

// appEnv holds everything the pipeline commands share. Gate and Enroller
// are nil when the command runs without delivery.
type appEnv struct {
	Store    store.Store
	Locker   lock.Locker
	Metrics  *metrics.Metrics
	Enricher *enrich.Enricher
	Gate     *enroll.Gatekeeper
	Enroller delivery.Enroller
	Runner   *pipeline.Runner
}

// Close releases the delivery connection and the store.
func (a *appEnv) Close() {
	if a.Enroller != nil {
		if err := a.Enroller.Close(); err != nil {
			zap.L().Warn("close enroller", zap.Error(err))
		}
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

// initStore opens the configured store and the locker that matches it:
// advisory locks for Postgres, an in-process keyed mutex for SQLite.
func initStore(ctx context.Context) (store.Store, lock.Locker, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, lock.NewKeyedMutex(), nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, nil, err
		}
		return st, lock.NewPostgresLocker(st.Pool()), nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initApp validates cfg for mode, migrates the store and wires the
// enrichment pipeline. withDelivery also connects the enrollment platform
// and builds the gatekeeper. Callers should defer env.Close().
func initApp(ctx context.Context, mode string, withDelivery bool) (*appEnv, error) {
	if withDelivery && mode == "enrich" {
		mode = "enroll"
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, locker, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Locker: locker, Metrics: metrics.New()}

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rules := tags.DefaultRules()
	if cfg.Tags.RulesPath != "" {
		if rules, err = tags.LoadRules(cfg.Tags.RulesPath); err != nil {
			env.Close()
			return nil, err
		}
	}

	if withDelivery {
		env.Enroller, err = delivery.New(cfg.Delivery)
		if err != nil {
			env.Close()
			return nil, err
		}
		retry := resilience.DeliveryPolicy()
		if cfg.Delivery.MaxAttempts > 0 {
			retry.MaxAttempts = cfg.Delivery.MaxAttempts
		}
		env.Gate = enroll.NewGatekeeper(st, env.Enroller,
			enroll.WithMetrics(env.Metrics),
			enroll.WithDeliveryRetry(retry),
		)
	}

	var gate enrich.Gate
	if env.Gate != nil {
		gate = env.Gate
	}

	env.Enricher = enrich.NewEnricher(enrich.Options{
		Store:              st,
		Collector:          newCollector(env.Metrics),
		Tagger:             tags.NewRuleAssignor(st, rules),
		Gate:               gate,
		Locker:             locker,
		Metrics:            env.Metrics,
		SupportedLanguages: cfg.Signals.SupportedLanguages,
	})

	policies := jobs.DefaultPolicies()
	if cfg.Enrichment.MaxAttempts > 0 {
		p := policies[jobs.KindEnrich]
		p.MaxAttempts = cfg.Enrichment.MaxAttempts
		policies[jobs.KindEnrich] = p
	}
	if cfg.Delivery.MaxAttempts > 0 {
		p := policies[jobs.KindAutoEnroll]
		p.MaxAttempts = cfg.Delivery.MaxAttempts
		policies[jobs.KindAutoEnroll] = p
	}

	env.Runner = pipeline.New(pipeline.Options{
		Store:         st,
		Enricher:      env.Enricher,
		Gate:          gate,
		Locker:        locker,
		Metrics:       env.Metrics,
		Concurrency:   cfg.Enrichment.Concurrency,
		ReenrichAfter: time.Duration(cfg.Enrichment.ReenrichAfterHr) * time.Hour,
		Policies:      policies,
	})

	return env, nil
}

// newCollector builds the signal collector from the API credentials. A
// missing key leaves that source unconfigured.
func newCollector(m *metrics.Metrics) *signal.Collector {
	timeout := cfg.Signals.Timeout()

	var rank pagerank.Client
	if cfg.PageRank.Key != "" {
		rank = pagerank.NewClient(cfg.PageRank.Key, pagerank.WithBaseURL(cfg.PageRank.BaseURL))
	}
	var links linkmetrics.Client
	if cfg.Links.Key != "" {
		links = linkmetrics.NewClient(cfg.Links.Key, linkmetrics.WithBaseURL(cfg.Links.BaseURL))
	}
	var safety safebrowsing.Client
	if cfg.SafeBrowse.Key != "" {
		safety = safebrowsing.NewClient(cfg.SafeBrowse.Key, safebrowsing.WithBaseURL(cfg.SafeBrowse.BaseURL))
	}

	var limiter *rate.Limiter
	if cfg.Signals.CallsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.Signals.CallsPerMinute)), 1)
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		zap.L().Warn("circuit breaker state change",
			zap.String("service", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		m.BreakerState(name, int(to))
	}

	return signal.NewCollector(signal.Options{
		Rank:          rank,
		Links:         links,
		Safety:        safety,
		Fetcher:       scrape.NewHTTPFetcher(scrape.Options{Timeout: timeout, UserAgent: cfg.Signals.UserAgent}),
		Validator:     signal.NewValidator(net.DefaultResolver),
		Limiter:       limiter,
		Breakers:      resilience.NewBreakers(breakerCfg),
		Timeout:       timeout,
		RetryAttempts: cfg.Signals.RetryAttempts,
	})
}

// autoEnrollSettings reads the gate settings once for a batch.
func autoEnrollSettings() enroll.Settings {
	return cfg.AutoEnroll.Settings()
}

// startMonitoring runs the alert checker until ctx is done. It does nothing
// without a monitoring webhook.
func startMonitoring(ctx context.Context, st store.Store) {
	if cfg.Monitoring.WebhookURL == "" {
		return
	}
	checker := monitoring.NewChecker(
		monitoring.NewCollector(st),
		monitoring.NewAlerter(cfg.Monitoring),
		cfg.Monitoring,
	)
	go checker.Run(ctx)
}
