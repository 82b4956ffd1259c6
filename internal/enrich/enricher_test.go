package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/signal"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/store/storetest"
	"github.com/sells-group/outreach-cli/internal/tags"
)

type fakeCollector struct {
	sig   signal.Signals
	calls atomic.Int32
}

func (f *fakeCollector) Collect(_ context.Context, domain string) *signal.Signals {
	f.calls.Add(1)
	s := f.sig
	s.Domain = domain
	return &s
}

type failingTagger struct{}

func (failingTagger) AssignTags(context.Context, string, string, tags.Input) ([]string, error) {
	return nil, errors.New("rules unavailable")
}

type fakeGate struct {
	calls    int
	settings enroll.Settings
}

func (g *fakeGate) Evaluate(_ context.Context, _ string, s enroll.Settings) (enroll.Decision, error) {
	g.calls++
	g.settings = s
	return enroll.Decision{Outcome: enroll.OutcomeSkipped, Reason: enroll.SkipNoMatchingCampaign}, nil
}

// brokenStore fails enrichment writes.
type brokenStore struct {
	store.Store
}

func (brokenStore) UpdateEnrichment(context.Context, *model.Prospect) error {
	return errors.New("disk full")
}

func ptr[T any](v T) *T { return &v }

func frenchSignals() signal.Signals {
	return signal.Signals{
		Rank:            ptr(5.0),
		DomainAuthority: ptr(50.0),
		SpamPenalty:     ptr(signal.SpamPenaltyNone),
		Language:        "fr",
		Country:         "FR",
		Timezone:        "Europe/Paris",
		Emails: []signal.EmailCandidate{
			{Email: "info@example.fr", Via: model.ViaText, Confidence: signal.ConfidenceText, Validation: model.ValidationRisky},
			{Email: "redaction@example.fr", Via: model.ViaMailto, Confidence: signal.ConfidenceMailto, Validation: model.ValidationVerified},
			{Email: "bad@nowhere.invalid", Via: model.ViaText, Confidence: signal.ConfidenceText, Validation: model.ValidationInvalid},
		},
		Form: &signal.FormResult{URL: "https://example.fr/contact", Fields: []string{"email", "message"}, Confidence: signal.FormHigh},
	}
}

func seedNew(t *testing.T, st store.Store, p model.Prospect) *model.Prospect {
	t.Helper()
	require.NoError(t, st.CreateProspect(context.Background(), &p))
	return &p
}

func newTestEnricher(st store.Store, c Collector, opts ...func(*Options)) *Enricher {
	o := Options{Store: st, Collector: c}
	for _, fn := range opts {
		fn(&o)
	}
	return NewEnricher(o)
}

func TestEnrich_NewProspect(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.fr", Category: "blogger"})
	e := newTestEnricher(st, &fakeCollector{sig: frenchSignals()}, func(o *Options) {
		o.Tagger = tags.NewRuleAssignor(st, nil)
	})

	res, err := e.Enrich(ctx, "https://www.Example.fr/", Request{Trigger: "batch"})
	require.NoError(t, err)
	require.Empty(t, res.Skipped)

	// 5*4 + 50/100*40 + 10 for the form.
	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReadyToContact, got.Status)
	assert.Equal(t, 50, *got.Score)
	assert.Equal(t, 2, *got.Tier)
	assert.Equal(t, "fr", got.Language)
	assert.Equal(t, "FR", got.Country)
	assert.Equal(t, "Europe/Paris", got.Timezone)
	assert.Equal(t, "https://example.fr/contact", got.ContactFormURL)
	assert.NotNil(t, got.LastEnrichedAt)

	contacts, err := st.ListContacts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "redaction@example.fr", model.PrimaryContact(contacts).Email)

	assert.Equal(t, []string{"category:blogger", "country:fr", "tier:2", "verified-email"}, res.Tags)
	stored, err := st.GetProspectTags(ctx, p.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, res.Tags, stored)

	assert.Equal(t, []model.EventType{
		model.EventEnrichmentStarted,
		model.EventContactsDiscovered,
		model.EventEnrichmentCompleted,
	}, storetest.EventTypes(t, st, p.ID))
}

func TestEnrich_UnavailableSignalsAreEvents(t *testing.T) {
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.com"})
	sig := signal.Signals{Unavailable: []signal.Unavailable{
		{Source: signal.SourceRank, Reason: signal.ReasonNotConfigured},
		{Source: signal.SourceHomepage, Reason: "transient: timeout"},
	}}

	res, err := newTestEnricher(st, &fakeCollector{sig: sig}).Enrich(context.Background(), "example.com", Request{})
	require.NoError(t, err)

	assert.Equal(t, 25, *res.Prospect.Score)
	assert.Equal(t, 3, *res.Prospect.Tier)

	events, err := st.ListEvents(context.Background(), p.ID)
	require.NoError(t, err)
	var sources []string
	for _, ev := range events {
		if u, ok := ev.Payload.(model.SignalUnavailable); ok {
			sources = append(sources, u.Signal)
		}
	}
	assert.Equal(t, []string{signal.SourceRank, signal.SourceHomepage}, sources)
}

func TestEnrich_HealsUnsupportedLanguage(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.fr", Language: "xx"})

	res, err := newTestEnricher(st, &fakeCollector{sig: frenchSignals()}).Enrich(ctx, "example.fr", Request{})
	require.NoError(t, err)
	assert.Equal(t, "fr", res.Prospect.Language)

	events, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	var healed []model.LanguageHealed
	for _, ev := range events {
		if h, ok := ev.Payload.(model.LanguageHealed); ok {
			healed = append(healed, h)
		}
	}
	assert.Equal(t, []model.LanguageHealed{{Previous: "xx", Detected: "fr"}}, healed)
}

func TestEnrich_SkipsDoNotContact(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.fr"})
	_, err := st.SetProspectStatus(ctx, p.ID, model.StatusDoNotContact)
	require.NoError(t, err)
	c := &fakeCollector{sig: frenchSignals()}

	res, err := newTestEnricher(st, c).Enrich(ctx, "example.fr", Request{})
	require.NoError(t, err)
	assert.Equal(t, string(model.StatusDoNotContact), res.Skipped)
	assert.Zero(t, c.calls.Load())
	assert.Empty(t, storetest.EventTypes(t, st, p.ID))
}

func TestEnrich_DropsSuppressedContacts(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.fr"})
	require.NoError(t, st.UpsertSuppression(ctx, model.Suppression{Email: "Redaction@example.fr", Reason: model.SuppressComplaint, Source: "test"}))

	res, err := newTestEnricher(st, &fakeCollector{sig: frenchSignals()}).Enrich(ctx, "example.fr", Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ContactsCreated)

	events, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	for _, ev := range events {
		if d, ok := ev.Payload.(model.ContactsDiscovered); ok {
			assert.Equal(t, []string{"info@example.fr"}, d.Emails)
			assert.Equal(t, 1, d.Dropped)
			return
		}
	}
	t.Fatal("no contacts_discovered event")
}

func TestEnrich_SuppressedCandidateDoesNotTakeContactSlot(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.fr"})
	require.NoError(t, st.UpsertSuppression(ctx, model.Suppression{Email: "anne@example.fr", Reason: model.SuppressComplaint, Source: "test"}))

	sig := frenchSignals()
	sig.Emails = []signal.EmailCandidate{
		{Email: "anne@example.fr", Via: model.ViaMailto, Confidence: 0.9, Validation: model.ValidationVerified},
		{Email: "bruno@example.fr", Via: model.ViaMailto, Confidence: 0.8, Validation: model.ValidationVerified},
		{Email: "claire@example.fr", Via: model.ViaMailto, Confidence: 0.7, Validation: model.ValidationVerified},
		{Email: "denis@example.fr", Via: model.ViaText, Confidence: 0.6, Validation: model.ValidationRisky},
	}

	res, err := newTestEnricher(st, &fakeCollector{sig: sig}).Enrich(ctx, "example.fr", Request{})
	require.NoError(t, err)
	assert.Equal(t, MaxAutoContacts, res.ContactsCreated)

	contacts, err := st.ListContacts(ctx, p.ID)
	require.NoError(t, err)
	emails := make([]string, 0, len(contacts))
	for _, c := range contacts {
		emails = append(emails, c.Email)
	}
	assert.ElementsMatch(t, []string{"bruno@example.fr", "claire@example.fr", "denis@example.fr"}, emails)

	events, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	for _, ev := range events {
		if d, ok := ev.Payload.(model.ContactsDiscovered); ok {
			assert.Equal(t, 1, d.Dropped)
			return
		}
	}
	t.Fatal("no contacts_discovered event")
}

func TestEnrich_TaggingFailureDoesNotAbort(t *testing.T) {
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.fr"})
	e := newTestEnricher(st, &fakeCollector{sig: frenchSignals()}, func(o *Options) { o.Tagger = failingTagger{} })

	res, err := e.Enrich(context.Background(), "example.fr", Request{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusReadyToContact, res.Prospect.Status)
	assert.Contains(t, storetest.EventTypes(t, st, p.ID), model.EventTaggingFailed)
}

func TestEnrich_FailureRestoresStatus(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := seedNew(t, st, model.Prospect{Domain: "example.fr"})
	e := newTestEnricher(brokenStore{st}, &fakeCollector{sig: frenchSignals()})

	_, err := e.Enrich(ctx, "example.fr", Request{})
	require.Error(t, err)
	assert.Equal(t, StagePersist, StageOf(err))
	assert.Contains(t, err.Error(), "disk full")

	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, got.Status)

	e.RecordFailure(ctx, p.ID, &StageError{Stage: StagePersist, Err: errors.New("disk full")})
	events, err := st.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, model.EventEnrichmentFailed, last.Type)
	assert.Equal(t, StagePersist, last.Payload.(model.EnrichmentFailed).Stage)
}

func TestEnrich_KeepsStoredMetricsWhenUnknown(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := storetest.SeedReady(t, st, storetest.ReadyProspect{Domain: "example.de", Score: 1, Tier: 4})
	p.Rank = ptr(8.0)
	require.NoError(t, st.UpdateEnrichment(ctx, p))

	res, err := newTestEnricher(st, &fakeCollector{}).Enrich(ctx, "example.de", Request{})
	require.NoError(t, err)
	require.NotNil(t, res.Prospect.Rank)
	assert.Equal(t, 8.0, *res.Prospect.Rank)
	assert.Equal(t, 32, *res.Prospect.Score)
	assert.Equal(t, 3, *res.Prospect.Tier)
	assert.Equal(t, model.StatusReadyToContact, res.Prospect.Status)
	assert.Zero(t, res.ContactsCreated)
}

func TestEnrich_RunsGateWhenRequested(t *testing.T) {
	st := storetest.New(t)
	seedNew(t, st, model.Prospect{Domain: "example.fr"})
	gate := &fakeGate{}
	e := newTestEnricher(st, &fakeCollector{sig: frenchSignals()}, func(o *Options) { o.Gate = gate })

	settings := enroll.Settings{Enabled: true, MinScore: 40}
	res, err := e.Enrich(context.Background(), "example.fr", Request{AutoEnroll: &settings})
	require.NoError(t, err)
	assert.Equal(t, 1, gate.calls)
	assert.Equal(t, settings, gate.settings)
	require.NotNil(t, res.Decision)
	assert.Equal(t, enroll.SkipNoMatchingCampaign, res.Decision.Reason)
}

func TestEnrich_NoGateWithoutSettings(t *testing.T) {
	st := storetest.New(t)
	seedNew(t, st, model.Prospect{Domain: "example.fr"})
	gate := &fakeGate{}
	e := newTestEnricher(st, &fakeCollector{sig: frenchSignals()}, func(o *Options) { o.Gate = gate })

	_, err := e.Enrich(context.Background(), "example.fr", Request{})
	require.NoError(t, err)
	assert.Zero(t, gate.calls)
}

func TestEnrich_UnknownDomain(t *testing.T) {
	st := storetest.New(t)
	_, err := newTestEnricher(st, &fakeCollector{}).Enrich(context.Background(), "missing.example", Request{})
	require.Error(t, err)
	assert.Equal(t, StageLoad, StageOf(err))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStageOf(t *testing.T) {
	assert.Equal(t, StageBatch, StageOf(errors.New("boom")))
	assert.Equal(t, StageContacts, StageOf(&StageError{Stage: StageContacts, Err: errors.New("x")}))
}
