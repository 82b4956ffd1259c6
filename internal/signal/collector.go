// Package signal collects the independent per-domain signals used to score
// and qualify a prospect. No single source failing stops the others; a
// failed source is reported as unavailable and its value stays unknown.
package signal

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/pkg/linkmetrics"
	"github.com/sells-group/outreach-cli/pkg/pagerank"
	"github.com/sells-group/outreach-cli/pkg/safebrowsing"
)

// Source names, used for breakers, events and metrics.
const (
	SourceRank        = "rank"
	SourceAuthority   = "authority"
	SourceSafety      = "safety"
	SourceHomepage    = "homepage"
	SourceContactPage = "contact_page"
)

// ReasonNotConfigured marks a source skipped for missing credentials.
const ReasonNotConfigured = "not_configured"

// SpamPenalty values.
const (
	SpamPenaltyNone   = 0
	SpamPenaltyUnsafe = 100
)

// Unavailable records a source that produced no value.
type Unavailable struct {
	Source string
	Reason string
}

// Signals is everything collected for one domain. Nil pointers and empty
// strings mean unknown.
type Signals struct {
	Domain          string
	Rank            *float64
	DomainAuthority *float64
	// SpamPenalty is 0 or 100; nil when the safety lookup did not run.
	SpamPenalty *int
	Language    string
	Country     string
	Timezone    string
	Emails      []EmailCandidate
	Form        *FormResult
	Unavailable []Unavailable
	Duration    time.Duration
}

// Options configures a Collector. Nil API clients are treated as
// unconfigured and skipped.
type Options struct {
	Rank      pagerank.Client
	Links     linkmetrics.Client
	Safety    safebrowsing.Client
	Fetcher   scrape.Fetcher
	Validator *Validator
	// Limiter is shared by the three API sources. Nil means unlimited.
	Limiter       *rate.Limiter
	Breakers      *resilience.Breakers
	Timeout       time.Duration
	RetryAttempts int
}

// Collector gathers Signals for a domain.
type Collector struct {
	rank      pagerank.Client
	links     linkmetrics.Client
	safety    safebrowsing.Client
	fetcher   scrape.Fetcher
	validator *Validator
	limiter   *rate.Limiter
	breakers  *resilience.Breakers
	timeout   time.Duration
	attempts  int
}

// NewCollector builds a Collector and warns once per unconfigured source.
func NewCollector(opts Options) *Collector {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 2
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if opts.Breakers == nil {
		opts.Breakers = resilience.NewBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	if opts.Validator == nil {
		opts.Validator = NewValidator(nil)
	}
	// MX lookups share the per-call timeout of the other sources.
	opts.Validator = opts.Validator.withTimeout(opts.Timeout)
	if opts.Fetcher == nil {
		opts.Fetcher = scrape.NewHTTPFetcher(scrape.Options{Timeout: opts.Timeout})
	}

	for name, missing := range map[string]bool{
		SourceRank:      opts.Rank == nil,
		SourceAuthority: opts.Links == nil,
		SourceSafety:    opts.Safety == nil,
	} {
		if missing {
			zap.L().Warn("signal source not configured, skipping", zap.String("source", name))
		}
	}

	return &Collector{
		rank:      opts.Rank,
		links:     opts.Links,
		safety:    opts.Safety,
		fetcher:   opts.Fetcher,
		validator: opts.Validator,
		limiter:   opts.Limiter,
		breakers:  opts.Breakers,
		timeout:   opts.Timeout,
		attempts:  opts.RetryAttempts,
	}
}

// collection guards Signals while sources write to it concurrently.
type collection struct {
	mu sync.Mutex
	s  *Signals
}

func (c *collection) set(fn func(s *Signals)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.s)
}

func (c *collection) unavailable(source, reason string) {
	c.set(func(s *Signals) {
		s.Unavailable = append(s.Unavailable, Unavailable{Source: source, Reason: reason})
	})
}

// Collect runs every source in parallel and never fails. Domain must already
// be normalized.
func (c *Collector) Collect(ctx context.Context, domain string) *Signals {
	start := time.Now()
	col := &collection{s: &Signals{Domain: domain}}
	log := zap.L().With(zap.String("domain", domain))

	var g errgroup.Group
	g.Go(func() error {
		if c.rank == nil {
			col.unavailable(SourceRank, ReasonNotConfigured)
			return nil
		}
		rank, err := callAPI(ctx, c, SourceRank, func(ctx context.Context) (*float64, error) {
			return c.rank.Rank(ctx, domain)
		})
		if err != nil {
			log.Warn("rank lookup failed", zap.Error(err))
			col.unavailable(SourceRank, reason(err))
			return nil
		}
		if rank != nil {
			v := clampFloat(*rank, 0, 10)
			col.set(func(s *Signals) { s.Rank = &v })
		}
		return nil
	})
	g.Go(func() error {
		if c.links == nil {
			col.unavailable(SourceAuthority, ReasonNotConfigured)
			return nil
		}
		m, err := callAPI(ctx, c, SourceAuthority, func(ctx context.Context) (*linkmetrics.Metrics, error) {
			return c.links.URLMetrics(ctx, domain)
		})
		if err != nil {
			log.Warn("authority lookup failed", zap.Error(err))
			col.unavailable(SourceAuthority, reason(err))
			return nil
		}
		if m != nil && m.DomainAuthority != nil {
			v := clampFloat(*m.DomainAuthority, 0, 100)
			col.set(func(s *Signals) { s.DomainAuthority = &v })
		}
		return nil
	})
	g.Go(func() error {
		if c.safety == nil {
			col.unavailable(SourceSafety, ReasonNotConfigured)
			return nil
		}
		v, err := callAPI(ctx, c, SourceSafety, func(ctx context.Context) (*safebrowsing.Verdict, error) {
			return c.safety.Lookup(ctx, scrape.HomepageURL(domain))
		})
		if err != nil {
			log.Warn("safety lookup failed", zap.Error(err))
			col.unavailable(SourceSafety, reason(err))
			return nil
		}
		penalty := SpamPenaltyNone
		if v != nil && v.Unsafe {
			penalty = SpamPenaltyUnsafe
		}
		col.set(func(s *Signals) { s.SpamPenalty = &penalty })
		return nil
	})
	g.Go(func() error {
		c.collectSite(ctx, domain, col, log)
		return nil
	})
	_ = g.Wait()

	s := col.s
	if s.Language == "" {
		s.Language = LanguageFromDomain(domain)
	}
	s.Country = CountryFromDomain(domain)
	s.Timezone = TimezoneForCountry(s.Country)
	s.Duration = time.Since(start)
	return s
}

// collectSite fetches the homepage, and the contact page when the homepage
// has no form, for language, emails and the contact form.
func (c *Collector) collectSite(ctx context.Context, domain string, col *collection, log *zap.Logger) {
	home := scrape.HomepageURL(domain)
	doc, page, err := c.fetchDoc(ctx, home)
	if err != nil {
		log.Warn("homepage fetch failed", zap.Error(err))
		col.unavailable(SourceHomepage, reason(err))
		return
	}

	lang := DetectLanguage(doc, page.ContentLanguage)
	emails := ExtractEmails(doc)
	form := DetectForm(doc, page.FinalURL)

	if form == nil {
		if link := FindContactLink(doc, page.FinalURL); link != "" {
			contactDoc, contactPage, err := c.fetchDoc(ctx, link)
			if err != nil {
				log.Warn("contact page fetch failed", zap.String("url", link), zap.Error(err))
				col.unavailable(SourceContactPage, reason(err))
			} else {
				form = DetectForm(contactDoc, contactPage.FinalURL)
				emails = mergeCandidates(emails, ExtractEmails(contactDoc))
			}
		}
	}

	emails = c.validator.ValidateAll(ctx, emails, domain)
	col.set(func(s *Signals) {
		s.Language = lang
		s.Emails = emails
		s.Form = form
	})
}

func (c *Collector) fetchDoc(ctx context.Context, url string) (*html.Node, *scrape.Page, error) {
	page, err := resilience.DoVal(ctx, resilience.SignalPolicy(c.attempts), func(ctx context.Context) (*scrape.Page, error) {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.fetcher.Fetch(cctx, url)
	})
	if err != nil {
		return nil, nil, err
	}
	doc, err := html.Parse(strings.NewReader(page.HTML))
	if err != nil {
		return nil, nil, err
	}
	return doc, page, nil
}

// callAPI applies the shared limiter, the source's breaker, the per-call
// timeout and the signal retry policy.
func callAPI[T any](ctx context.Context, c *Collector, source string, fn func(context.Context) (T, error)) (T, error) {
	breaker := c.breakers.Get(source)
	return resilience.DoVal(ctx, resilience.SignalPolicy(c.attempts), func(ctx context.Context) (T, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) (T, error) {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return fn(cctx)
		})
	})
}

// mergeCandidates appends b to a, keeping the higher confidence for repeats.
func mergeCandidates(a, b []EmailCandidate) []EmailCandidate {
	idx := make(map[string]int, len(a))
	out := append([]EmailCandidate(nil), a...)
	for i, e := range out {
		idx[e.Email] = i
	}
	for _, e := range b {
		if i, ok := idx[e.Email]; ok {
			if e.Confidence > out[i].Confidence {
				out[i].Confidence = e.Confidence
				out[i].Via = e.Via
			}
			if out[i].Name == "" {
				out[i].Name = e.Name
			}
			continue
		}
		idx[e.Email] = len(out)
		out = append(out, e)
	}
	return out
}

func reason(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return resilience.Classify(err) + ": " + msg
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
