package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// EventType identifies a payload variant in the event log.
type EventType string

const (
	EventEnrichmentStarted   EventType = "enrichment_started"
	EventEnrichmentCompleted EventType = "enrichment_completed"
	EventEnrichmentFailed    EventType = "enrichment_failed"
	EventSignalUnavailable   EventType = "signal_unavailable"
	EventLanguageHealed      EventType = "language_healed"
	EventContactsDiscovered  EventType = "contacts_discovered"
	EventTaggingFailed       EventType = "tagging_failed"
	EventAutoEnrollSkipped   EventType = "auto_enroll_skipped"
	EventEnrollmentSuccess   EventType = "enrollment_success"
	EventEnrollmentFailed    EventType = "enrollment_failed"
	EventStatusChanged       EventType = "status_changed"
	EventSuppressed          EventType = "suppressed"
)

// EventSource names the component that wrote an event.
type EventSource string

const (
	SourceEnrichment EventSource = "enrichment"
	SourceAutoEnroll EventSource = "auto_enroll"
	SourceWebhook    EventSource = "webhook"
	SourceOperator   EventSource = "operator"
)

// EventPayload is implemented only by the payload types in this file.
type EventPayload interface {
	EventType() EventType
	isEventPayload()
}

// Event is one append-only fact about a prospect.
type Event struct {
	ID           string       `json:"id"`
	ProspectID   string       `json:"prospect_id"`
	ContactID    string       `json:"contact_id,omitempty"`
	EnrollmentID string       `json:"enrollment_id,omitempty"`
	Type         EventType    `json:"type"`
	Source       EventSource  `json:"source"`
	Payload      EventPayload `json:"payload"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewEvent builds an event whose type is taken from the payload variant.
func NewEvent(prospectID string, source EventSource, payload EventPayload) Event {
	return Event{
		ID:         uuid.New().String(),
		ProspectID: prospectID,
		Type:       payload.EventType(),
		Source:     source,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

type EnrichmentStarted struct {
	Trigger string `json:"trigger"` // "batch", "manual", "workflow"
}

type EnrichmentCompleted struct {
	Score            int      `json:"score"`
	Tier             int      `json:"tier"`
	Language         string   `json:"language,omitempty"`
	Country          string   `json:"country,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	ContactFormFound bool     `json:"contact_form_found"`
	ContactsCreated  int      `json:"contacts_created"`
	Tags             []string `json:"tags,omitempty"`
	DurationMs       int64    `json:"duration_ms"`
}

type EnrichmentFailed struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

type SignalUnavailable struct {
	Signal string `json:"signal"`
	Reason string `json:"reason"`
}

type LanguageHealed struct {
	Previous string `json:"previous"`
	Detected string `json:"detected"`
}

type ContactsDiscovered struct {
	Emails  []string `json:"emails"`
	Dropped int      `json:"dropped"`
}

type TaggingFailed struct {
	Error string `json:"error"`
}

type AutoEnrollSkipped struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type EnrollmentSuccess struct {
	CampaignID string  `json:"campaign_id"`
	MatchScore float64 `json:"match_score"`
}

type EnrollmentFailed struct {
	CampaignID string `json:"campaign_id"`
	Error      string `json:"error"`
}

type StatusChanged struct {
	From ProspectStatus `json:"from"`
	To   ProspectStatus `json:"to"`
}

type Suppressed struct {
	Email  string            `json:"email"`
	Reason SuppressionReason `json:"reason"`
}

func (EnrichmentStarted) EventType() EventType   { return EventEnrichmentStarted }
func (EnrichmentCompleted) EventType() EventType { return EventEnrichmentCompleted }
func (EnrichmentFailed) EventType() EventType    { return EventEnrichmentFailed }
func (SignalUnavailable) EventType() EventType   { return EventSignalUnavailable }
func (LanguageHealed) EventType() EventType      { return EventLanguageHealed }
func (ContactsDiscovered) EventType() EventType  { return EventContactsDiscovered }
func (TaggingFailed) EventType() EventType       { return EventTaggingFailed }
func (AutoEnrollSkipped) EventType() EventType   { return EventAutoEnrollSkipped }
func (EnrollmentSuccess) EventType() EventType   { return EventEnrollmentSuccess }
func (EnrollmentFailed) EventType() EventType    { return EventEnrollmentFailed }
func (StatusChanged) EventType() EventType       { return EventStatusChanged }
func (Suppressed) EventType() EventType          { return EventSuppressed }

func (EnrichmentStarted) isEventPayload()   {}
func (EnrichmentCompleted) isEventPayload() {}
func (EnrichmentFailed) isEventPayload()    {}
func (SignalUnavailable) isEventPayload()   {}
func (LanguageHealed) isEventPayload()      {}
func (ContactsDiscovered) isEventPayload()  {}
func (TaggingFailed) isEventPayload()       {}
func (AutoEnrollSkipped) isEventPayload()   {}
func (EnrollmentSuccess) isEventPayload()   {}
func (EnrollmentFailed) isEventPayload()    {}
func (StatusChanged) isEventPayload()       {}
func (Suppressed) isEventPayload()          {}

// EncodePayload serializes a payload for storage.
func EncodePayload(p EventPayload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, eris.Wrapf(err, "model: encode %s payload", p.EventType())
	}
	return data, nil
}

// DecodePayload restores the payload variant for the stored event type.
func DecodePayload(t EventType, data []byte) (EventPayload, error) {
	var p EventPayload
	switch t {
	case EventEnrichmentStarted:
		p = decodeInto[EnrichmentStarted](data)
	case EventEnrichmentCompleted:
		p = decodeInto[EnrichmentCompleted](data)
	case EventEnrichmentFailed:
		p = decodeInto[EnrichmentFailed](data)
	case EventSignalUnavailable:
		p = decodeInto[SignalUnavailable](data)
	case EventLanguageHealed:
		p = decodeInto[LanguageHealed](data)
	case EventContactsDiscovered:
		p = decodeInto[ContactsDiscovered](data)
	case EventTaggingFailed:
		p = decodeInto[TaggingFailed](data)
	case EventAutoEnrollSkipped:
		p = decodeInto[AutoEnrollSkipped](data)
	case EventEnrollmentSuccess:
		p = decodeInto[EnrollmentSuccess](data)
	case EventEnrollmentFailed:
		p = decodeInto[EnrollmentFailed](data)
	case EventStatusChanged:
		p = decodeInto[StatusChanged](data)
	case EventSuppressed:
		p = decodeInto[Suppressed](data)
	default:
		return nil, eris.Errorf("model: unknown event type %q", t)
	}
	if p == nil {
		return nil, eris.Errorf("model: malformed %s payload", t)
	}
	return p, nil
}

// decodeInto returns nil when data does not unmarshal into T.
func decodeInto[T EventPayload](data []byte) EventPayload {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil
		}
	}
	return v
}
