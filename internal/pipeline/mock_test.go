package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/enroll"
)

// --- Enricher Mock ---

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, domain string, req enrich.Request) (*enrich.Result, error) {
	args := m.Called(ctx, domain, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*enrich.Result), args.Error(1)
}

func (m *mockEnricher) RecordFailure(ctx context.Context, prospectID string, err error) {
	m.Called(ctx, prospectID, err)
}

// --- Gate Mock ---

type mockGate struct {
	mock.Mock
}

func (m *mockGate) Evaluate(ctx context.Context, prospectID string, settings enroll.Settings) (enroll.Decision, error) {
	args := m.Called(ctx, prospectID, settings)
	return args.Get(0).(enroll.Decision), args.Error(1)
}
