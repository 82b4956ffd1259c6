// Package monitoring watches the event log for enrichment and delivery
// trouble and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Snapshot summarizes pipeline outcomes over a lookback window.
type Snapshot struct {
	EnrichmentsCompleted int     `json:"enrichments_completed"`
	EnrichmentsFailed    int     `json:"enrichments_failed"`
	EnrichmentFailRate   float64 `json:"enrichment_fail_rate"`
	SignalsUnavailable   int     `json:"signals_unavailable"`
	Enrolled             int     `json:"enrolled"`
	EnrollSkipped        int     `json:"enroll_skipped"`
	DeliveryFailures     int     `json:"delivery_failures"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// EventCounter is the store query the collector needs.
type EventCounter interface {
	CountEventsSince(ctx context.Context, since time.Time) (map[model.EventType]int, error)
}

// Collector builds snapshots from the event log.
type Collector struct {
	events EventCounter
	now    func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(events EventCounter) *Collector {
	return &Collector{events: events, now: time.Now}
}

// Collect counts events written in the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	counts, err := c.events.CountEventsSince(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count events")
	}

	snap := &Snapshot{
		EnrichmentsCompleted: counts[model.EventEnrichmentCompleted],
		EnrichmentsFailed:    counts[model.EventEnrichmentFailed],
		SignalsUnavailable:   counts[model.EventSignalUnavailable],
		Enrolled:             counts[model.EventEnrollmentSuccess],
		EnrollSkipped:        counts[model.EventAutoEnrollSkipped],
		DeliveryFailures:     counts[model.EventEnrollmentFailed],
		LookbackHours:        lookbackHours,
		CollectedAt:          now,
	}
	if finished := snap.EnrichmentsCompleted + snap.EnrichmentsFailed; finished > 0 {
		snap.EnrichmentFailRate = float64(snap.EnrichmentsFailed) / float64(finished)
	}
	return snap, nil
}
