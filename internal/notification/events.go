package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a business event that may trigger a notification.
type EventType string

const (
	EventSecurityAlert   EventType = "user.security_alert"
	EventLoginNewDevice  EventType = "user.login_new_device"
	EventOrderShipped    EventType = "order.shipped"
	EventPaymentReceived EventType = "payment.received"
	EventMaintenance     EventType = "system.maintenance"
)

// Event is the envelope consumed from the event stream.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventData is the recipient-facing payload common to all event types. Vars
// feed the routed template; Email is carried into notification metadata so
// the EMAIL channel worker can address the message.
type EventData struct {
	RecipientID string         `json:"recipient_id"`
	Email       string         `json:"email,omitempty"`
	Vars        map[string]any `json:"vars,omitempty"`
}

// NewEvent wraps a payload in an envelope with a fresh ID and timestamp.
func NewEvent(eventType EventType, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        "evt_" + uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// ParseData decodes the envelope payload.
func (e *Event) ParseData() (*EventData, error) {
	var data EventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
