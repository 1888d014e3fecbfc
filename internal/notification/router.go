package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// Submitter is the orchestrator surface the router drives.
type Submitter interface {
	Submit(ctx context.Context, req *SubmitRequest) (*Notification, error)
}

// RoutingRule maps one event type onto a notification submission.
type RoutingRule struct {
	TemplateKey string
	Category    Category
	Priority    Priority
	Channels    []Channel
}

// DefaultRoutingRules is the built-in event-to-notification mapping. Urgent
// security events bypass DND by priority; marketing-grade traffic stays LOW
// so a DND window suppresses it.
var DefaultRoutingRules = map[EventType]RoutingRule{
	EventSecurityAlert: {
		TemplateKey: "security_alert",
		Category:    CategorySecurity,
		Priority:    PriorityUrgent,
		Channels:    []Channel{ChannelInApp, ChannelEmail},
	},
	EventLoginNewDevice: {
		TemplateKey: "login_new_device",
		Category:    CategorySecurity,
		Priority:    PriorityHigh,
		Channels:    []Channel{ChannelInApp, ChannelEmail},
	},
	EventOrderShipped: {
		TemplateKey: "order_shipped",
		Category:    CategoryOrder,
		Priority:    PriorityNormal,
		Channels:    []Channel{ChannelInApp},
	},
	EventPaymentReceived: {
		TemplateKey: "payment_received",
		Category:    CategoryPayment,
		Priority:    PriorityNormal,
		Channels:    []Channel{ChannelInApp},
	},
	EventMaintenance: {
		TemplateKey: "maintenance_window",
		Category:    CategorySystem,
		Priority:    PriorityLow,
		Channels:    []Channel{ChannelInApp},
	},
}

// Router turns business events from the Kafka stream into notification
// submissions.
type Router struct {
	submitter Submitter
	rules     map[EventType]RoutingRule
}

func NewRouter(submitter Submitter) *Router {
	return &Router{
		submitter: submitter,
		rules:     DefaultRoutingRules,
	}
}

// HandleMessage is the Kafka consumer callback: decode the envelope and
// route it. Unroutable events are logged and dropped, not retried; a
// malformed payload will never become routable.
func (r *Router) HandleMessage(ctx context.Context, key string, value []byte) error {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("Dropping undecodable event (key %s): %v", key, err)
		return nil
	}
	return r.Route(ctx, &event)
}

// Route submits the notification configured for the event type. Events
// with no rule are ignored.
func (r *Router) Route(ctx context.Context, event *Event) error {
	rule, ok := r.rules[event.Type]
	if !ok {
		log.Printf("No routing rule for event type %s, ignoring", event.Type)
		return nil
	}

	data, err := event.ParseData()
	if err != nil {
		log.Printf("Dropping event %s with malformed data: %v", event.ID, err)
		return nil
	}
	if data.RecipientID == "" {
		log.Printf("Dropping event %s without recipient", event.ID)
		return nil
	}

	req := &SubmitRequest{
		RecipientID:  data.RecipientID,
		Category:     rule.Category,
		Priority:     rule.Priority,
		Channels:     rule.Channels,
		TemplateKey:  rule.TemplateKey,
		TemplateVars: data.Vars,
		Metadata:     map[string]string{"event_id": event.ID},
	}
	if data.Email != "" {
		req.Metadata["email"] = data.Email
	}

	if _, err := r.submitter.Submit(ctx, req); err != nil {
		return fmt.Errorf("failed to submit notification for event %s: %w", event.ID, err)
	}
	return nil
}
