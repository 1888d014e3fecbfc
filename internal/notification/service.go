package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EmailQueue is the RabbitMQ queue drained by cmd/worker.
const EmailQueue = "email.notifications"

// Store is the persistence surface the orchestrator needs.
type Store interface {
	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	MarkRead(ctx context.Context, id string) error
	RecordDeliveryAttempt(ctx context.Context, l *DeliveryLog) error
	AdvanceDeliveryLog(ctx context.Context, notificationID string, channel Channel, target DeliveryStatus) (*DeliveryLog, error)
	ListDeliveryLogs(ctx context.Context, notificationID string) ([]*DeliveryLog, error)
}

// Preferences is the read surface of the preference store.
type Preferences interface {
	Get(ctx context.Context, recipientID string, category Category) (*Preference, error)
}

// TemplateFinder resolves template keys for template-based submissions.
type TemplateFinder interface {
	FindByKey(ctx context.Context, key string) (*Template, error)
}

// Pusher routes in-app payloads to live sessions.
type Pusher interface {
	IsConnected(recipientID string) bool
	SendToUser(recipientID string, payload PushPayload) int
}

// Publisher enqueues channel tasks for out-of-process workers.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// EmailTask is the message enqueued for the EMAIL channel worker.
type EmailTask struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Recipient      string `json:"recipient"`
	Title          string `json:"title"`
	Message        string `json:"message"`
}

// Orchestrator is the delivery gate: it consults preferences and the DND
// window, renders template-based content, pushes in-app, enqueues other
// channels, and always writes a delivery log.
type Orchestrator struct {
	store     Store
	prefs     Preferences
	templates TemplateFinder
	pusher    Pusher
	queue     Publisher
	now       func() time.Time
}

func NewOrchestrator(store Store, prefs Preferences, templates TemplateFinder, pusher Pusher, queue Publisher) *Orchestrator {
	return &Orchestrator{
		store:     store,
		prefs:     prefs,
		templates: templates,
		pusher:    pusher,
		queue:     queue,
		now:       time.Now,
	}
}

// Submit validates a request, creates the notification record and runs
// delivery. The notification is returned even when delivery fails; the
// error tells the submission path an internal failure was logged.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*Notification, error) {
	if req.RecipientID == "" {
		return nil, ValidationError("recipient_id", "recipient_id is required")
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, ValidationError("priority", "unknown priority %q", req.Priority)
	}

	title, message := req.Title, req.Message
	channels := req.Channels
	category := req.Category

	if req.TemplateKey != "" {
		t, err := o.templates.FindByKey(ctx, req.TemplateKey)
		if err != nil {
			return nil, err
		}
		if !t.IsActive {
			return nil, ValidationError("template_key", "template %q is not active", req.TemplateKey)
		}
		rendered, err := renderTemplate(t, req.TemplateVars)
		if err != nil {
			return nil, err
		}
		title, message = rendered.Title, rendered.Message
		if category == "" {
			category = t.Category
		}
		if len(channels) == 0 {
			channels = t.DefaultChannels
		}
	}

	if !category.Valid() {
		return nil, ValidationError("category", "unknown category %q", category)
	}
	if title == "" && message == "" {
		return nil, ValidationError("message", "title or message is required")
	}
	if len(channels) == 0 {
		channels = []Channel{ChannelInApp}
	}
	for _, c := range channels {
		if !c.Valid() {
			return nil, ValidationError("channels", "unknown channel %q", c)
		}
	}

	n := &Notification{
		RecipientID: req.RecipientID,
		Title:       title,
		Message:     message,
		Category:    category,
		Priority:    req.Priority,
		ActionURL:   req.ActionURL,
		ActionLabel: req.ActionLabel,
		ImageURL:    req.ImageURL,
		Metadata:    req.Metadata,
	}
	if err := o.store.CreateNotification(ctx, n); err != nil {
		return nil, InternalError(err, "failed to create notification")
	}

	if err := o.Deliver(ctx, n, channels); err != nil {
		return n, err
	}
	return n, nil
}

// Deliver runs the delivery gate for an already-created notification.
//
// A disabled category or an active DND window (for non-urgent priorities)
// writes a FAILED log and returns nil: those are outcomes, not errors. Any
// unexpected failure is recorded as FAILED and returned to the caller;
// there is no automatic retry, re-invocation is an external policy.
func (o *Orchestrator) Deliver(ctx context.Context, n *Notification, channels []Channel) (err error) {
	if len(channels) == 0 {
		channels = []Channel{ChannelInApp}
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic during delivery: %v", r)
			o.recordFailures(ctx, n, channels, msg)
			err = InternalError(nil, "%s", msg)
		}
	}()

	pref := o.checkPreferences(ctx, n)

	if !pref.Enabled {
		o.recordFailures(ctx, n, channels, "category disabled by recipient preference")
		return nil
	}

	if InDNDWindow(pref, o.now()) && n.Priority != PriorityUrgent {
		DNDSuppressed.Inc()
		o.recordFailures(ctx, n, channels, "recipient in Do Not Disturb window")
		return nil
	}

	for _, ch := range channels {
		if err := o.deliverChannel(ctx, n, ch); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) deliverChannel(ctx context.Context, n *Notification, ch Channel) error {
	switch ch {
	case ChannelInApp:
		if err := o.store.RecordDeliveryAttempt(ctx, &DeliveryLog{
			NotificationID: n.ID,
			Channel:        ChannelInApp,
			Status:         StatusSent,
		}); err != nil {
			return InternalError(err, "failed to record delivery log")
		}
		DeliveryAttempts.WithLabelValues(string(ChannelInApp), string(StatusSent)).Inc()

		// Best-effort push. Success or failure here never rewrites the
		// SENT log; only explicit open/click events advance it.
		timer := prometheus.NewTimer(PushLatency)
		queued := o.pusher.SendToUser(n.RecipientID, PushPayload{Type: "notification", Notification: n})
		timer.ObserveDuration()
		if queued == 0 {
			log.Printf("Recipient %s has no live session, notification %s stays queued for pull", n.RecipientID, n.ID)
		}
		return nil

	case ChannelEmail:
		task := EmailTask{
			NotificationID: n.ID,
			RecipientID:    n.RecipientID,
			Recipient:      n.Metadata["email"],
			Title:          n.Title,
			Message:        n.Message,
		}
		body, err := json.Marshal(task)
		if err != nil {
			return InternalError(err, "failed to marshal email task")
		}
		if err := o.queue.Publish(ctx, EmailQueue, body); err != nil {
			o.recordFailures(ctx, n, []Channel{ChannelEmail}, "failed to enqueue email: "+err.Error())
			return InternalError(err, "failed to enqueue email task")
		}
		if err := o.store.RecordDeliveryAttempt(ctx, &DeliveryLog{
			NotificationID: n.ID,
			Channel:        ChannelEmail,
			Status:         StatusSent,
		}); err != nil {
			return InternalError(err, "failed to record delivery log")
		}
		DeliveryAttempts.WithLabelValues(string(ChannelEmail), string(StatusSent)).Inc()
		return nil

	default:
		return ValidationError("channels", "unknown channel %q", ch)
	}
}

// checkPreferences is fail-open: a preference read failure logs and falls
// back to the default (enabled, no DND), trading possible over-delivery
// for never silently dropping a notification.
func (o *Orchestrator) checkPreferences(ctx context.Context, n *Notification) *Preference {
	pref, err := o.prefs.Get(ctx, n.RecipientID, n.Category)
	if err != nil {
		log.Printf("Preference lookup failed for %s/%s, assuming enabled: %v", n.RecipientID, n.Category, err)
		return DefaultPreference(n.RecipientID, n.Category)
	}
	return pref
}

func (o *Orchestrator) recordFailures(ctx context.Context, n *Notification, channels []Channel, reason string) {
	for _, ch := range channels {
		l := &DeliveryLog{
			NotificationID: n.ID,
			Channel:        ch,
			Status:         StatusFailed,
			ErrorMessage:   reason,
		}
		if err := o.store.RecordDeliveryAttempt(ctx, l); err != nil {
			log.Printf("Failed to record FAILED delivery log for %s/%s: %v", n.ID, ch, err)
			continue
		}
		DeliveryAttempts.WithLabelValues(string(ch), string(StatusFailed)).Inc()
	}
}

// TrackOpen records that the recipient opened the notification. Opening
// implies the in-app delivery reached them, so a log still in SENT is
// advanced through DELIVERED to OPENED in one step, and the notification's
// read state is set.
func (o *Orchestrator) TrackOpen(ctx context.Context, notificationID string) error {
	if _, err := o.store.AdvanceDeliveryLog(ctx, notificationID, ChannelInApp, StatusOpened); err != nil {
		return err
	}
	DeliveryAttempts.WithLabelValues(string(ChannelInApp), string(StatusOpened)).Inc()
	return o.store.MarkRead(ctx, notificationID)
}

// TrackClick records that the recipient clicked the notification's action.
// A click implies an open.
func (o *Orchestrator) TrackClick(ctx context.Context, notificationID, actionID string) error {
	if _, err := o.store.AdvanceDeliveryLog(ctx, notificationID, ChannelInApp, StatusClicked); err != nil {
		return err
	}
	DeliveryAttempts.WithLabelValues(string(ChannelInApp), string(StatusClicked)).Inc()
	if actionID != "" {
		log.Printf("Notification %s action %s clicked", notificationID, actionID)
	}
	return o.store.MarkRead(ctx, notificationID)
}

// MarkRead sets the read state without touching the delivery state machine,
// for the pull path's mark-read operation.
func (o *Orchestrator) MarkRead(ctx context.Context, notificationID string) error {
	return o.store.MarkRead(ctx, notificationID)
}
