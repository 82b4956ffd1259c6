// Package enrich turns a bare prospect into a scored, tagged and contactable
// record.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/lock"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/signal"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/tags"
)

// Stage names reported in enrichment_failed events.
const (
	StageLoad       = "load"
	StageTransition = "transition"
	StageMerge      = "merge"
	StageContacts   = "contacts"
	StagePersist    = "persist"
	StageComplete   = "complete"
	// StageBatch is used for failures outside a single enrichment run.
	StageBatch = "batch"
)

// DefaultSupportedLanguages are the languages campaigns exist for.
var DefaultSupportedLanguages = []string{"en", "fr", "de", "es", "it", "pt", "nl"}

// StageError is an enrichment failure tagged with the stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return "enrich: " + e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage of a StageError, or StageBatch.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageBatch
}

// Collector gathers signals for a domain.
type Collector interface {
	Collect(ctx context.Context, domain string) *signal.Signals
}

// Gate decides on auto-enrollment after a successful enrichment.
type Gate interface {
	Evaluate(ctx context.Context, prospectID string, settings enroll.Settings) (enroll.Decision, error)
}

// Options configures an Enricher. Store and Collector are required.
type Options struct {
	Store     store.Store
	Collector Collector
	// Tagger may be nil, in which case prospects are not tagged.
	Tagger tags.Assignor
	// Gate may be nil, in which case Request.AutoEnroll is ignored.
	Gate               Gate
	Locker             lock.Locker
	Metrics            *metrics.Metrics
	SupportedLanguages []string
	Now                func() time.Time
}

// Request parameterizes one enrichment.
type Request struct {
	// Trigger is recorded on the enrichment_started event.
	Trigger string
	// AutoEnroll runs the gate after enrichment when set.
	AutoEnroll *enroll.Settings
}

// Result describes one enrichment.
type Result struct {
	Prospect *model.Prospect
	// Skipped is non-empty when the prospect was not enriched.
	Skipped         string
	ContactsCreated int
	Tags            []string
	Decision        *enroll.Decision
	Duration        time.Duration
}

// Enricher runs collect, merge, score, tag and gate for one prospect at a
// time per domain.
type Enricher struct {
	store     store.Store
	collector Collector
	tagger    tags.Assignor
	gate      Gate
	locker    lock.Locker
	metrics   *metrics.Metrics
	languages []string
	now       func() time.Time
}

// NewEnricher creates an Enricher.
func NewEnricher(opts Options) *Enricher {
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}
	if len(opts.SupportedLanguages) == 0 {
		opts.SupportedLanguages = DefaultSupportedLanguages
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Enricher{
		store:     opts.Store,
		collector: opts.Collector,
		tagger:    opts.Tagger,
		gate:      opts.Gate,
		locker:    opts.Locker,
		metrics:   opts.Metrics,
		languages: opts.SupportedLanguages,
		now:       opts.Now,
	}
}

// Enrich enriches the prospect with the given domain while holding the
// domain's lock. A prospect that is DO_NOT_CONTACT or past
// READY_TO_CONTACT is skipped, not failed. On failure the prospect's status
// is restored and a *StageError is returned.
func (e *Enricher) Enrich(ctx context.Context, domain string, req Request) (*Result, error) {
	domain = model.NormalizeDomain(domain)
	if domain == "" {
		return nil, &StageError{Stage: StageLoad, Err: eris.New("empty domain")}
	}
	var res *Result
	err := e.locker.WithLock(ctx, domain, func(ctx context.Context) error {
		var err error
		res, err = e.enrichLocked(ctx, domain, req)
		return err
	})
	return res, err
}

func (e *Enricher) enrichLocked(ctx context.Context, domain string, req Request) (*Result, error) {
	start := e.now()
	log := zap.L().With(zap.String("domain", domain))

	p, err := e.store.GetProspectByDomain(ctx, domain)
	if err != nil {
		return nil, &StageError{Stage: StageLoad, Err: err}
	}
	if p.Status == model.StatusDoNotContact {
		log.Info("enrich: skipped do-not-contact prospect")
		return &Result{Prospect: p, Skipped: string(p.Status)}, nil
	}
	if !model.Enrichable(p.Status) {
		log.Debug("enrich: skipped, status not enrichable", zap.String("status", string(p.Status)))
		return &Result{Prospect: p, Skipped: string(p.Status)}, nil
	}

	previous := p.Status
	ok, err := e.store.TransitionStatus(ctx, p.ID, previous, model.StatusEnriching)
	if err != nil {
		return nil, &StageError{Stage: StageTransition, Err: err}
	}
	if !ok {
		log.Info("enrich: status changed concurrently, skipping")
		return &Result{Prospect: p, Skipped: "status_changed"}, nil
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	log.Info("enrich: starting", zap.String("trigger", trigger))
	if err := e.append(ctx, model.NewEvent(p.ID, model.SourceEnrichment, model.EnrichmentStarted{Trigger: trigger})); err != nil {
		return nil, e.fail(ctx, p.ID, previous, StageTransition, err)
	}

	res, stage, err := e.run(ctx, p, log)
	if err != nil {
		return nil, e.fail(ctx, p.ID, previous, stage, err)
	}
	res.Duration = e.now().Sub(start)

	ok, err = e.store.TransitionStatus(ctx, p.ID, model.StatusEnriching, model.StatusReadyToContact)
	if err != nil {
		return nil, e.fail(ctx, p.ID, previous, StageComplete, err)
	}
	if ok {
		res.Prospect.Status = model.StatusReadyToContact
	} else {
		log.Warn("enrich: prospect left ENRICHING during the run")
		if cur, err := e.store.GetProspect(ctx, p.ID); err == nil {
			res.Prospect.Status = cur.Status
		}
	}

	completed := model.EnrichmentCompleted{
		Score:            derefInt(res.Prospect.Score),
		Tier:             derefInt(res.Prospect.Tier),
		Language:         res.Prospect.Language,
		Country:          res.Prospect.Country,
		Timezone:         res.Prospect.Timezone,
		ContactFormFound: res.Prospect.HasContactForm(),
		ContactsCreated:  res.ContactsCreated,
		Tags:             res.Tags,
		DurationMs:       res.Duration.Milliseconds(),
	}
	if err := e.append(ctx, model.NewEvent(p.ID, model.SourceEnrichment, completed)); err != nil {
		return nil, &StageError{Stage: StageComplete, Err: err}
	}
	e.metrics.Enrichment("completed", res.Duration)
	log.Info("enrich: completed",
		zap.Int("score", completed.Score),
		zap.Int("tier", completed.Tier),
		zap.Int("contacts_created", res.ContactsCreated),
		zap.Duration("duration", res.Duration),
	)

	if req.AutoEnroll != nil && e.gate != nil && res.Prospect.Status == model.StatusReadyToContact {
		d, err := e.gate.Evaluate(ctx, p.ID, *req.AutoEnroll)
		if err != nil {
			log.Error("enrich: auto-enroll gate failed", zap.Error(err))
		} else {
			res.Decision = &d
		}
	}
	return res, nil
}

// run collects and merges signals, scores, stores and tags. It returns the
// failing stage with any error.
func (e *Enricher) run(ctx context.Context, p *model.Prospect, log *zap.Logger) (*Result, string, error) {
	sig := e.collector.Collect(ctx, p.Domain)
	for _, u := range sig.Unavailable {
		e.metrics.SignalUnavailable(u.Source)
		ev := model.NewEvent(p.ID, model.SourceEnrichment, model.SignalUnavailable{Signal: u.Source, Reason: u.Reason})
		if err := e.append(ctx, ev); err != nil {
			return nil, StageMerge, err
		}
	}

	existing, err := e.store.ListContacts(ctx, p.ID)
	if err != nil {
		return nil, StageMerge, err
	}
	dropped := 0
	if len(existing) == 0 {
		detected := *sig
		if detected.Emails, dropped, err = e.dropSuppressed(ctx, sig.Emails); err != nil {
			return nil, StageContacts, err
		}
		sig = &detected
	}
	mr := Merge(p, sig, existing, e.languages)
	if mr.Healed != nil {
		log.Warn("enrich: unsupported language replaced",
			zap.String("previous", mr.Healed.Previous),
			zap.String("detected", mr.Healed.Detected),
		)
		if err := e.append(ctx, model.NewEvent(p.ID, model.SourceEnrichment, *mr.Healed)); err != nil {
			return nil, StageMerge, err
		}
	}

	merged := mr.Prospect
	if sig.Rank != nil {
		merged.Rank = sig.Rank
	}
	if sig.DomainAuthority != nil {
		merged.DomainAuthority = sig.DomainAuthority
	}
	if sig.SpamPenalty != nil {
		merged.SpamScore = sig.SpamPenalty
	}
	score, tier := Score(ScoreInput{
		Rank:            merged.Rank,
		DomainAuthority: merged.DomainAuthority,
		HasContactForm:  merged.HasContactForm(),
		SpamPenalty:     derefInt(merged.SpamScore),
	})
	merged.Score, merged.Tier = &score, &tier
	now := e.now().UTC()
	merged.LastEnrichedAt = &now

	created, err := e.createContacts(ctx, p.ID, mr.Contacts, dropped)
	if err != nil {
		return nil, StageContacts, err
	}

	if err := e.store.UpdateEnrichment(ctx, &merged); err != nil {
		return nil, StagePersist, err
	}

	res := &Result{Prospect: &merged, ContactsCreated: len(created)}
	if e.tagger != nil {
		in := tags.Input{
			Score:            score,
			Tier:             tier,
			Category:         merged.Category,
			Language:         merged.Language,
			Country:          merged.Country,
			Rank:             merged.Rank,
			DomainAuthority:  merged.DomainAuthority,
			HasContactForm:   merged.HasContactForm(),
			HasVerifiedEmail: hasVerified(existing) || hasVerified(created),
		}
		assigned, err := e.tagger.AssignTags(ctx, p.ID, p.Domain, in)
		if err != nil {
			log.Warn("enrich: tagging failed", zap.Error(err))
			if err := e.append(ctx, model.NewEvent(p.ID, model.SourceEnrichment, model.TaggingFailed{Error: err.Error()})); err != nil {
				return nil, StagePersist, err
			}
		} else {
			res.Tags = assigned
		}
	}
	return res, "", nil
}

// dropSuppressed removes suppressed candidates before contact selection so
// the cap applies to usable addresses only.
func (e *Enricher) dropSuppressed(ctx context.Context, candidates []signal.EmailCandidate) ([]signal.EmailCandidate, int, error) {
	kept := make([]signal.EmailCandidate, 0, len(candidates))
	for _, c := range candidates {
		suppressed, err := e.store.IsSuppressed(ctx, c.Email)
		if err != nil {
			return nil, 0, err
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept, len(candidates) - len(kept), nil
}

// createContacts stores the selected contacts and records the discovery.
func (e *Enricher) createContacts(ctx context.Context, prospectID string, contacts []model.Contact, dropped int) ([]model.Contact, error) {
	if len(contacts) == 0 && dropped == 0 {
		return nil, nil
	}
	// Creation order follows rank so the best candidate becomes primary.
	base := e.now().UTC()
	kept := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		c.CreatedAt = base.Add(time.Duration(len(kept)) * time.Millisecond)
		kept = append(kept, c)
	}
	if len(kept) > 0 {
		if err := e.store.CreateContacts(ctx, kept); err != nil {
			return nil, err
		}
	}

	emails := make([]string, 0, len(kept))
	for _, c := range kept {
		emails = append(emails, model.NormalizeEmail(c.Email))
	}
	ev := model.NewEvent(prospectID, model.SourceEnrichment, model.ContactsDiscovered{Emails: emails, Dropped: dropped})
	return kept, e.append(ctx, ev)
}

// fail restores the pre-run status and wraps err with its stage.
func (e *Enricher) fail(ctx context.Context, prospectID string, previous model.ProspectStatus, stage string, err error) error {
	if _, rerr := e.store.TransitionStatus(ctx, prospectID, model.StatusEnriching, previous); rerr != nil {
		zap.L().Error("enrich: status not restored",
			zap.String("prospect_id", prospectID),
			zap.String("status", string(previous)),
			zap.Error(rerr),
		)
	}
	return &StageError{Stage: stage, Err: err}
}

// RecordFailure writes the enrichment_failed event for a run that gave up.
// It is called once per prospect after retries, not once per attempt.
func (e *Enricher) RecordFailure(ctx context.Context, prospectID string, err error) {
	e.metrics.Enrichment("failed", 0)
	ev := model.NewEvent(prospectID, model.SourceEnrichment, model.EnrichmentFailed{Stage: StageOf(err), Error: err.Error()})
	if aerr := e.append(ctx, ev); aerr != nil {
		zap.L().Error("enrich: failure event not written", zap.String("prospect_id", prospectID), zap.Error(aerr))
	}
}

func (e *Enricher) append(ctx context.Context, ev model.Event) error {
	return eris.Wrapf(e.store.AppendEvent(ctx, ev), "enrich: append %s event", ev.Type)
}

func hasVerified(contacts []model.Contact) bool {
	for _, c := range contacts {
		if c.Validation == model.ValidationVerified && !c.OptedOut {
			return true
		}
	}
	return false
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
