// Package delivery hands enrollments to the email platform, either through
// an HTTP webhook or a RabbitMQ exchange.
package delivery

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
)

// Message is the enrollment request sent to the platform.
type Message struct {
	ID          string    `json:"id"`
	ProspectID  string    `json:"prospect_id"`
	CampaignID  string    `json:"campaign_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func newMessage(prospectID, campaignID string) Message {
	return Message{
		ID:          uuid.New().String(),
		ProspectID:  prospectID,
		CampaignID:  campaignID,
		RequestedAt: time.Now().UTC(),
	}
}

// Enroller is implemented by every delivery mode.
type Enroller interface {
	EnrollProspect(ctx context.Context, prospectID, campaignID string) error
	io.Closer
}

// New builds the Enroller selected by cfg.Mode.
func New(cfg config.DeliveryConfig) (Enroller, error) {
	switch cfg.Mode {
	case "webhook":
		return NewWebhookEnroller(cfg.WebhookURL, cfg.WebhookKey), nil
	case "amqp":
		return DialAMQP(cfg.AMQPURL, cfg.Exchange, cfg.RoutingKey)
	default:
		return nil, eris.Errorf("delivery: unknown mode %q", cfg.Mode)
	}
}
