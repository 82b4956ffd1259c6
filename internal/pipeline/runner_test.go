package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/enroll"
	"github.com/sells-group/outreach-cli/internal/jobs"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/signal"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/store/storetest"
)

func fastPolicies() map[jobs.Kind]resilience.RetryConfig {
	cfg := func(n int) resilience.RetryConfig {
		return resilience.RetryConfig{MaxAttempts: n, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	}
	return map[jobs.Kind]resilience.RetryConfig{jobs.KindEnrich: cfg(3), jobs.KindAutoEnroll: cfg(5)}
}

type staticCollector struct {
	sig signal.Signals
}

func (c staticCollector) Collect(_ context.Context, domain string) *signal.Signals {
	s := c.sig
	s.Domain = domain
	return &s
}

type okEnroller struct{}

func (okEnroller) EnrollProspect(context.Context, string, string) error { return nil }

// flakyStore fails enrichment writes for one domain.
type flakyStore struct {
	store.Store
	domain string
	calls  int
}

func (s *flakyStore) UpdateEnrichment(ctx context.Context, p *model.Prospect) error {
	if p.Domain == s.domain {
		s.calls++
		return errors.New("deadlock detected")
	}
	return s.Store.UpdateEnrichment(ctx, p)
}

func verifiedSignals() signal.Signals {
	rank, da := 6.0, 70.0
	return signal.Signals{
		Rank:            &rank,
		DomainAuthority: &da,
		Language:        "en",
		Emails: []signal.EmailCandidate{
			{Email: "editor@site.com", Via: model.ViaMailto, Confidence: signal.ConfidenceMailto, Validation: model.ValidationVerified},
		},
	}
}

// newStack wires a Runner over a real SQLite store.
func newStack(t *testing.T, st store.Store, sig signal.Signals) *Runner {
	t.Helper()
	gate := enroll.NewGatekeeper(st, okEnroller{}, enroll.WithDeliveryRetry(resilience.RetryConfig{MaxAttempts: 1}))
	e := enrich.NewEnricher(enrich.Options{Store: st, Collector: staticCollector{sig: sig}, Gate: gate})
	return New(Options{Store: st, Enricher: e, Gate: gate, Concurrency: 2, Policies: fastPolicies()})
}

func TestEnrichSweep_EnrichesNewProspects(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	for _, d := range []string{"a.com", "b.com", "c.com"} {
		require.NoError(t, st.CreateProspect(ctx, &model.Prospect{Domain: d}))
	}
	dnc := &model.Prospect{Domain: "dnc.com"}
	require.NoError(t, st.CreateProspect(ctx, dnc))
	_, err := st.SetProspectStatus(ctx, dnc.ID, model.StatusDoNotContact)
	require.NoError(t, err)
	storetest.SeedReady(t, st, storetest.ReadyProspect{Domain: "fresh.com", Score: 50, Tier: 2})

	rep, err := newStack(t, st, verifiedSignals()).EnrichSweep(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, Report{Selected: 3, Succeeded: 3}, rep)

	for _, d := range []string{"a.com", "b.com", "c.com"} {
		p, err := st.GetProspectByDomain(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, model.StatusReadyToContact, p.Status, d)
	}
	p, err := st.GetProspectByDomain(ctx, "dnc.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDoNotContact, p.Status)
}

func TestEnrichSweep_WithAutoEnroll(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	require.NoError(t, st.CreateProspect(ctx, &model.Prospect{Domain: "site.com", Category: "blogger"}))
	storetest.SeedCampaign(t, st, model.Campaign{Name: "en", Language: "en", MinTier: 4})

	settings := enroll.Settings{Enabled: true, MinScore: 40, MaxTier: 2, RequireVerifiedEmail: true}
	rep, err := newStack(t, st, verifiedSignals()).EnrichSweep(ctx, 10, &settings)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Enrolled)

	p, err := st.GetProspectByDomain(ctx, "site.com")
	require.NoError(t, err)
	open, err := st.GetOpenEnrollment(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, open)
}

func TestEnrichSweep_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	base := storetest.New(t)
	for _, d := range []string{"good.com", "bad.com"} {
		require.NoError(t, base.CreateProspect(ctx, &model.Prospect{Domain: d}))
	}
	st := &flakyStore{Store: base, domain: "bad.com"}

	gate := enroll.NewGatekeeper(st, okEnroller{})
	e := enrich.NewEnricher(enrich.Options{Store: st, Collector: staticCollector{sig: verifiedSignals()}})
	r := New(Options{Store: st, Enricher: e, Gate: gate, Concurrency: 1, Policies: fastPolicies()})

	rep, err := r.EnrichSweep(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 3, st.calls)

	bad, err := base.GetProspectByDomain(ctx, "bad.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNew, bad.Status)

	events, err := base.ListEvents(ctx, bad.ID)
	require.NoError(t, err)
	var failed []model.EnrichmentFailed
	for _, ev := range events {
		if f, ok := ev.Payload.(model.EnrichmentFailed); ok {
			failed = append(failed, f)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, enrich.StagePersist, failed[0].Stage)

	good, err := base.GetProspectByDomain(ctx, "good.com")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReadyToContact, good.Status)
}

func TestEnrichSweep_ReenrichesStaleProspects(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	storetest.SeedReady(t, st, storetest.ReadyProspect{Domain: "old.com", Score: 10, Tier: 4})

	r := newStack(t, st, verifiedSignals())
	r.reenrichAfter = time.Hour
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	rep, err := r.EnrichSweep(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)

	p, err := st.GetProspectByDomain(ctx, "old.com")
	require.NoError(t, err)
	assert.Equal(t, 52, *p.Score)
	assert.Equal(t, 2, *p.Tier)
}

func TestAutoEnrollSweep_Disabled(t *testing.T) {
	gate := &mockGate{}
	r := New(Options{Store: storetest.New(t), Enricher: &mockEnricher{}, Gate: gate})

	rep, err := r.AutoEnrollSweep(context.Background(), 10, enroll.Settings{})
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	gate.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything, mock.Anything)
}

func TestAutoEnrollSweep_RespectsHourlyCap(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	storetest.SeedCampaign(t, st, model.Campaign{Name: "en", Language: "en", MinTier: 4})
	for _, d := range []string{"one.com", "two.com"} {
		storetest.SeedReady(t, st, storetest.ReadyProspect{
			Domain: d, Language: "en", Score: 60, Tier: 2, Emails: []string{"hi@" + d},
		})
	}

	r := newStack(t, st, signal.Signals{})
	r.concurrency = 1
	settings := enroll.Settings{Enabled: true, MaxPerHour: 1, MinScore: 40, MaxTier: 2}

	rep, err := r.AutoEnrollSweep(ctx, 10, settings)
	require.NoError(t, err)
	assert.Equal(t, Report{Selected: 2, Succeeded: 2, Enrolled: 1, Skipped: 1}, rep)

	n, err := st.CountEnrollmentsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandleAutoEnroll_StorageErrorRetried(t *testing.T) {
	gate := &mockGate{}
	gate.On("Evaluate", mock.Anything, "p1", mock.Anything).
		Return(enroll.Decision{}, errors.New("connection reset by peer")).Twice()
	gate.On("Evaluate", mock.Anything, "p1", mock.Anything).
		Return(enroll.Decision{Outcome: enroll.OutcomeEnrolled}, nil).Once()

	r := New(Options{Enricher: &mockEnricher{}, Gate: gate, Policies: fastPolicies()})
	s, err := jobs.NewPool(r, jobs.Options{Policies: fastPolicies()}).Run(context.Background(), []jobs.Job{
		jobs.AutoEnrollJob{ProspectID: "p1", Domain: "p1.com", Settings: enroll.Settings{Enabled: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, jobs.Summary{Succeeded: 1}, s)
	gate.AssertNumberOfCalls(t, "Evaluate", 3)
}

func TestHandleEnrich_NotFoundIsPermanent(t *testing.T) {
	e := &mockEnricher{}
	e.On("Enrich", mock.Anything, "gone.com", mock.Anything).Return(nil, store.ErrNotFound)

	err := New(Options{Enricher: e}).HandleEnrich(context.Background(), jobs.EnrichJob{Domain: "gone.com"})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestEnrichDomain_RecordsOneFailure(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	p := &model.Prospect{Domain: "flaky.com"}
	require.NoError(t, st.CreateProspect(ctx, p))

	boom := &enrich.StageError{Stage: enrich.StageContacts, Err: errors.New("deadlock detected")}
	e := &mockEnricher{}
	e.On("Enrich", mock.Anything, "flaky.com", mock.Anything).Return(nil, boom)
	e.On("RecordFailure", mock.Anything, p.ID, boom).Return().Once()

	_, err := New(Options{Store: st, Enricher: e, Policies: fastPolicies()}).EnrichDomain(ctx, "flaky.com", nil)
	require.ErrorIs(t, err, boom)
	e.AssertNumberOfCalls(t, "Enrich", 3)
	e.AssertExpectations(t)
}

func TestEnrichDomain_NotFoundNotRetried(t *testing.T) {
	st := storetest.New(t)
	e := &mockEnricher{}
	e.On("Enrich", mock.Anything, "nope.com", mock.Anything).Return(nil, &enrich.StageError{Stage: enrich.StageLoad, Err: store.ErrNotFound})

	_, err := New(Options{Store: st, Enricher: e, Policies: fastPolicies()}).EnrichDomain(context.Background(), "nope.com", nil)
	require.Error(t, err)
	e.AssertNumberOfCalls(t, "Enrich", 1)
	e.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything, mock.Anything)
}
