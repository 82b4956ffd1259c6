package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store/storetest"
)

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) CountEventsSince(ctx context.Context, since time.Time) (map[model.EventType]int, error) {
	args := m.Called(ctx, since)
	counts, _ := args.Get(0).(map[model.EventType]int)
	return counts, args.Error(1)
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := &mockCounter{}
	counter.On("CountEventsSince", mock.Anything, now.Add(-24*time.Hour)).Return(map[model.EventType]int{
		model.EventEnrichmentCompleted: 15,
		model.EventEnrichmentFailed:    5,
		model.EventSignalUnavailable:   7,
		model.EventEnrollmentSuccess:   4,
		model.EventAutoEnrollSkipped:   9,
		model.EventEnrollmentFailed:    1,
	}, nil)

	c := NewCollector(counter)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 15, snap.EnrichmentsCompleted)
	assert.Equal(t, 5, snap.EnrichmentsFailed)
	assert.InDelta(t, 0.25, snap.EnrichmentFailRate, 1e-9)
	assert.Equal(t, 7, snap.SignalsUnavailable)
	assert.Equal(t, 4, snap.Enrolled)
	assert.Equal(t, 9, snap.EnrollSkipped)
	assert.Equal(t, 1, snap.DeliveryFailures)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
	counter.AssertExpectations(t)
}

func TestCollector_EmptyWindow(t *testing.T) {
	counter := &mockCounter{}
	counter.On("CountEventsSince", mock.Anything, mock.Anything).Return(map[model.EventType]int{}, nil)

	snap, err := NewCollector(counter).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.EnrichmentFailRate)
}

func TestCollector_StoreError(t *testing.T) {
	counter := &mockCounter{}
	counter.On("CountEventsSince", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := NewCollector(counter).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count events")
}

func TestCollector_SQLiteEventLog(t *testing.T) {
	st := storetest.New(t)
	ctx := context.Background()
	p := storetest.SeedReady(t, st, storetest.ReadyProspect{Domain: "blog.fr"})
	require.NoError(t, st.AppendEvent(ctx, model.NewEvent(p.ID, model.SourceEnrichment, model.EnrichmentCompleted{Score: 60, Tier: 2})))
	require.NoError(t, st.AppendEvent(ctx, model.NewEvent(p.ID, model.SourceEnrichment, model.EnrichmentFailed{Stage: "merge", Error: "boom"})))

	snap, err := NewCollector(st).Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.EnrichmentsCompleted)
	assert.Equal(t, 1, snap.EnrichmentsFailed)
	assert.InDelta(t, 0.5, snap.EnrichmentFailRate, 1e-9)
}
