// Package enroll decides whether an enriched prospect is auto-enrolled and
// into which campaign.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// SkipReason explains why the gate did not enroll a prospect.
type SkipReason string

const (
	SkipDisabled           SkipReason = "disabled"
	SkipHourlyCap          SkipReason = "hourly_cap_reached"
	SkipDailyCap           SkipReason = "daily_cap_reached"
	SkipNoValidContact     SkipReason = "no_valid_contact"
	SkipEmailNotVerified   SkipReason = "email_not_verified"
	SkipSuppressed         SkipReason = "suppressed"
	SkipNotReady           SkipReason = "not_ready"
	SkipScoreTooLow        SkipReason = "score_too_low"
	SkipTierTooLow         SkipReason = "tier_too_low"
	SkipCategoryNotAllowed SkipReason = "category_not_allowed"
	SkipLanguageNotAllowed SkipReason = "language_not_allowed"
	SkipAlreadyEnrolled    SkipReason = "already_enrolled"
	SkipNoMatchingCampaign SkipReason = "no_matching_campaign"
)

// Outcome is the result class of an evaluation.
type Outcome string

const (
	OutcomeEnrolled Outcome = "enrolled"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "delivery_failed"
)

// StoppedDeliveryFailed is the stopped_reason written when delivery fails.
const StoppedDeliveryFailed = "delivery_failed"

// Decision is what the gate did with one prospect.
type Decision struct {
	Outcome      Outcome
	Reason       SkipReason
	Detail       string
	CampaignID   string
	EnrollmentID string
	MatchScore   float64
}

// Enroller hands an enrollment to the email platform.
type Enroller interface {
	EnrollProspect(ctx context.Context, prospectID, campaignID string) error
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithMetrics records decisions and deliveries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gatekeeper) { g.metrics = m }
}

// WithDeliveryRetry overrides the delivery retry policy.
func WithDeliveryRetry(cfg resilience.RetryConfig) Option {
	return func(g *Gatekeeper) { g.retry = cfg }
}

// WithClock sets the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(g *Gatekeeper) { g.now = now }
}

// Gatekeeper runs the auto-enrollment gate.
type Gatekeeper struct {
	store    store.Store
	enroller Enroller
	metrics  *metrics.Metrics
	retry    resilience.RetryConfig
	now      func() time.Time
}

// NewGatekeeper creates a Gatekeeper.
func NewGatekeeper(st store.Store, enroller Enroller, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		store:    st,
		enroller: enroller,
		retry:    resilience.DeliveryPolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.RetryLogger("enroll", "deliver")
	}
	return g
}

// Evaluate runs throttle, eligibility, duplicate guard, campaign matching
// and enrollment in that order, stopping at the first rejection. Every
// outcome is written to the event log. Errors are returned only for
// storage failures; rejections and delivery failures are decisions.
func (g *Gatekeeper) Evaluate(ctx context.Context, prospectID string, settings Settings) (Decision, error) {
	log := zap.L().With(zap.String("prospect_id", prospectID))

	p, err := g.store.GetProspect(ctx, prospectID)
	if err != nil {
		return Decision{}, eris.Wrap(err, "enroll: load prospect")
	}

	if d, err := g.throttle(ctx, settings); err != nil || d != nil {
		return g.finish(ctx, p.ID, d, err)
	}

	contact, d, err := g.eligibility(ctx, p, settings)
	if err != nil || d != nil {
		return g.finish(ctx, p.ID, d, err)
	}

	open, err := g.store.GetOpenEnrollment(ctx, p.ID)
	if err != nil {
		return Decision{}, eris.Wrap(err, "enroll: duplicate guard")
	}
	if open != nil {
		return g.finish(ctx, p.ID, skip(SkipAlreadyEnrolled, "enrollment "+open.ID+" is "+string(open.Status)), nil)
	}

	language := p.Language
	if language == "" {
		language = settings.FallbackLanguage
	}
	campaigns, err := g.store.ListActiveCampaigns(ctx, language)
	if err != nil {
		return Decision{}, eris.Wrap(err, "enroll: list campaigns")
	}
	ranked := RankCampaigns(p, language, campaigns, g.now().UTC())
	if len(ranked) == 0 {
		return g.finish(ctx, p.ID, skip(SkipNoMatchingCampaign, fmt.Sprintf("%d active %q campaigns, none match", len(campaigns), language)), nil)
	}
	best := ranked[0]

	log.Info("enroll: campaign selected",
		zap.String("campaign_id", best.Campaign.ID),
		zap.Float64("match_score", best.Score),
		zap.Int("candidates", len(ranked)),
	)
	return g.enroll(ctx, p, contact, best)
}

// throttle returns a skip decision when auto-enrollment is off or a cap is
// reached. Counts are live aggregates, so concurrent gates can overshoot a
// cap by up to the number of in-flight evaluations.
func (g *Gatekeeper) throttle(ctx context.Context, s Settings) (*Decision, error) {
	if !s.Enabled {
		return skip(SkipDisabled, ""), nil
	}
	now := g.now().UTC()
	if s.MaxPerHour > 0 {
		n, err := g.store.CountEnrollmentsSince(ctx, now.Add(-time.Hour))
		if err != nil {
			return nil, eris.Wrap(err, "enroll: hourly count")
		}
		if n >= s.MaxPerHour {
			return skip(SkipHourlyCap, fmt.Sprintf("%d/%d in the last hour", n, s.MaxPerHour)), nil
		}
	}
	if s.MaxPerDay > 0 {
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		n, err := g.store.CountEnrollmentsSince(ctx, startOfDay)
		if err != nil {
			return nil, eris.Wrap(err, "enroll: daily count")
		}
		if n >= s.MaxPerDay {
			return skip(SkipDailyCap, fmt.Sprintf("%d/%d today", n, s.MaxPerDay)), nil
		}
	}
	return nil, nil
}

func (g *Gatekeeper) eligibility(ctx context.Context, p *model.Prospect, s Settings) (*model.Contact, *Decision, error) {
	contacts, err := g.store.ListContacts(ctx, p.ID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "enroll: list contacts")
	}
	contact := model.PrimaryContact(contacts)
	if contact == nil {
		return nil, skip(SkipNoValidContact, ""), nil
	}
	if s.RequireVerifiedEmail && contact.Validation != model.ValidationVerified {
		return nil, skip(SkipEmailNotVerified, contact.Email+" is "+string(contact.Validation)), nil
	}
	suppressed, err := g.store.IsSuppressed(ctx, contact.Email)
	if err != nil {
		return nil, nil, eris.Wrap(err, "enroll: suppression check")
	}
	if suppressed {
		return nil, skip(SkipSuppressed, contact.Email), nil
	}
	if p.Status != model.StatusReadyToContact {
		return nil, skip(SkipNotReady, string(p.Status)), nil
	}
	if p.Score == nil || *p.Score < s.MinScore {
		return nil, skip(SkipScoreTooLow, fmt.Sprintf("score %s < %d", intOrUnknown(p.Score), s.MinScore)), nil
	}
	if p.Tier == nil || (s.MaxTier > 0 && *p.Tier > s.MaxTier) {
		return nil, skip(SkipTierTooLow, fmt.Sprintf("tier %s > %d", intOrUnknown(p.Tier), s.MaxTier)), nil
	}
	if !allowed(s.AllowedCategories, p.Category) {
		return nil, skip(SkipCategoryNotAllowed, p.Category), nil
	}
	if p.Language != "" && !allowed(s.AllowedLanguages, p.Language) {
		return nil, skip(SkipLanguageNotAllowed, p.Language), nil
	}
	return contact, nil, nil
}

// enroll claims the prospect's enrollment slot, then delivers. The partial
// unique index on open enrollments turns a lost race into a skip.
func (g *Gatekeeper) enroll(ctx context.Context, p *model.Prospect, contact *model.Contact, best Candidate) (Decision, error) {
	e := &model.Enrollment{
		ProspectID: p.ID,
		CampaignID: best.Campaign.ID,
		ContactID:  contact.ID,
		Status:     model.EnrollmentActive,
	}
	if err := g.store.CreateEnrollment(ctx, e); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return g.finish(ctx, p.ID, skip(SkipAlreadyEnrolled, "concurrent enrollment"), nil)
		}
		return Decision{}, eris.Wrap(err, "enroll: create enrollment")
	}

	d := Decision{
		CampaignID:   best.Campaign.ID,
		EnrollmentID: e.ID,
		MatchScore:   best.Score,
	}

	err := resilience.Do(ctx, g.retry, func(ctx context.Context) error {
		return g.enroller.EnrollProspect(ctx, p.ID, best.Campaign.ID)
	})
	if err != nil {
		g.metrics.Delivery("failed")
		zap.L().Error("enroll: delivery failed",
			zap.String("prospect_id", p.ID),
			zap.String("campaign_id", best.Campaign.ID),
			zap.Error(err),
		)
		if stopErr := g.store.StopEnrollment(ctx, e.ID, StoppedDeliveryFailed); stopErr != nil {
			return Decision{}, eris.Wrap(stopErr, "enroll: stop failed enrollment")
		}
		d.Outcome = OutcomeFailed
		d.Detail = err.Error()
		ev := model.NewEvent(p.ID, model.SourceAutoEnroll, model.EnrollmentFailed{CampaignID: best.Campaign.ID, Error: err.Error()})
		ev.EnrollmentID = e.ID
		ev.ContactID = contact.ID
		g.metrics.GateDecision(string(OutcomeFailed), "")
		return d, g.append(ctx, ev)
	}

	g.metrics.Delivery("ok")
	if err := g.store.IncrementCampaignEnrolled(ctx, best.Campaign.ID); err != nil {
		zap.L().Warn("enroll: campaign total not incremented", zap.String("campaign_id", best.Campaign.ID), zap.Error(err))
	}
	d.Outcome = OutcomeEnrolled
	ev := model.NewEvent(p.ID, model.SourceAutoEnroll, model.EnrollmentSuccess{CampaignID: best.Campaign.ID, MatchScore: best.Score})
	ev.EnrollmentID = e.ID
	ev.ContactID = contact.ID
	g.metrics.GateDecision(string(OutcomeEnrolled), "")
	return d, g.append(ctx, ev)
}

// finish records a skip decision, or passes a storage error through.
func (g *Gatekeeper) finish(ctx context.Context, prospectID string, d *Decision, err error) (Decision, error) {
	if err != nil {
		return Decision{}, err
	}
	zap.L().Debug("enroll: skipped",
		zap.String("prospect_id", prospectID),
		zap.String("reason", string(d.Reason)),
		zap.String("detail", d.Detail),
	)
	g.metrics.GateDecision(string(OutcomeSkipped), string(d.Reason))
	ev := model.NewEvent(prospectID, model.SourceAutoEnroll, model.AutoEnrollSkipped{Reason: string(d.Reason), Detail: d.Detail})
	return *d, g.append(ctx, ev)
}

func (g *Gatekeeper) append(ctx context.Context, ev model.Event) error {
	return eris.Wrapf(g.store.AppendEvent(ctx, ev), "enroll: append %s event", ev.Type)
}

func skip(reason SkipReason, detail string) *Decision {
	return &Decision{Outcome: OutcomeSkipped, Reason: reason, Detail: detail}
}

func intOrUnknown(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprint(*v)
}
