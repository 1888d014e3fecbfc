package notification

import (
	"time"
)

// Category is the closed set of notification categories.
type Category string

const (
	CategorySystem    Category = "SYSTEM"
	CategorySecurity  Category = "SECURITY"
	CategoryOrder     Category = "ORDER"
	CategoryPayment   Category = "PAYMENT"
	CategoryMarketing Category = "MARKETING"
)

// Categories lists every known category, used when synthesizing default
// preferences for a recipient.
var Categories = []Category{
	CategorySystem,
	CategorySecurity,
	CategoryOrder,
	CategoryPayment,
	CategoryMarketing,
}

func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategorySecurity, CategoryOrder, CategoryPayment, CategoryMarketing:
		return true
	}
	return false
}

// Priority controls whether a notification may bypass Do-Not-Disturb.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Channel is the medium a notification is pushed through.
type Channel string

const (
	ChannelInApp Channel = "IN_APP"
	ChannelEmail Channel = "EMAIL"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail:
		return true
	}
	return false
}

// DeliveryStatus is the state of one delivery attempt.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "SENT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusOpened    DeliveryStatus = "OPENED"
	StatusClicked   DeliveryStatus = "CLICKED"
)

// statusTransitions is the closed transition table for the delivery state
// machine. FAILED and CLICKED are terminal.
var statusTransitions = map[DeliveryStatus][]DeliveryStatus{
	StatusSent:      {StatusDelivered, StatusFailed},
	StatusDelivered: {StatusOpened},
	StatusOpened:    {StatusClicked},
	StatusFailed:    {},
	StatusClicked:   {},
}

// CanTransition reports whether the state machine allows moving from s to
// target in a single step.
func (s DeliveryStatus) CanTransition(target DeliveryStatus) bool {
	for _, next := range statusTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s DeliveryStatus) Terminal() bool {
	return len(statusTransitions[s]) == 0
}

// Successful reports whether the attempt reached the recipient, i.e. any
// state other than FAILED.
func (s DeliveryStatus) Successful() bool {
	return s != StatusFailed
}

// Notification is a single message addressed to one recipient. Immutable
// after creation except for the read state.
type Notification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Category    Category          `json:"category"`
	Priority    Priority          `json:"priority"`
	ActionURL   string            `json:"action_url,omitempty"`
	ActionLabel string            `json:"action_label,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IsRead      bool              `json:"is_read"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DeliveryLog records one (notification, channel) delivery attempt and its
// progress through the state machine. Timestamps are only ever set, never
// cleared, so earlier states stay visible after later transitions.
type DeliveryLog struct {
	ID             string         `json:"id"`
	NotificationID string         `json:"notification_id"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	FailedAt       *time.Time     `json:"failed_at,omitempty"`
	OpenedAt       *time.Time     `json:"opened_at,omitempty"`
	ClickedAt      *time.Time     `json:"clicked_at,omitempty"`
}

// Preference is the per-(recipient, category) delivery setting. A missing
// row means "enabled, no DND"; recipients opt out, they do not opt in.
type Preference struct {
	RecipientID  string    `json:"recipient_id"`
	Category     Category  `json:"category"`
	Enabled      bool      `json:"enabled"`
	DNDEnabled   bool      `json:"dnd_enabled"`
	DNDStartTime string    `json:"dnd_start_time,omitempty"`
	DNDEndTime   string    `json:"dnd_end_time,omitempty"`
	DNDDays      []int     `json:"dnd_days,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultPreference is the synthesized setting for a recipient with no
// stored row.
func DefaultPreference(recipientID string, category Category) *Preference {
	return &Preference{
		RecipientID: recipientID,
		Category:    category,
		Enabled:     true,
		DNDEnabled:  false,
	}
}

// PreferenceUpdate is a partial update; nil fields keep the stored value.
type PreferenceUpdate struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	DNDEnabled   *bool   `json:"dnd_enabled,omitempty"`
	DNDStartTime *string `json:"dnd_start_time,omitempty"`
	DNDEndTime   *string `json:"dnd_end_time,omitempty"`
	DNDDays      *[]int  `json:"dnd_days,omitempty"`
}

// Template is a keyed, versioned message template. Placeholders use the
// {{name}} syntax and every placeholder must be declared in Variables.
type Template struct {
	ID              string    `json:"id"`
	Key             string    `json:"key"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Category        Category  `json:"category"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Variables       []string  `json:"variables"`
	DefaultChannels []Channel `json:"default_channels"`
	DefaultPriority Priority  `json:"default_priority"`
	Version         int       `json:"version"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RenderedTemplate is the output of substituting variables into a template.
type RenderedTemplate struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Version int    `json:"version"`
}

// SubmitRequest is the input to Orchestrator.Submit.
type SubmitRequest struct {
	RecipientID string            `json:"recipient_id"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Category    Category          `json:"category"`
	Priority    Priority          `json:"priority"`
	ActionURL   string            `json:"action_url,omitempty"`
	ActionLabel string            `json:"action_label,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// Optional template-based content: when TemplateKey is set the title
	// and message are rendered from the template and Channels defaults to
	// the template's default channels.
	TemplateKey  string         `json:"template_key,omitempty"`
	TemplateVars map[string]any `json:"template_vars,omitempty"`

	// Channels to deliver on; empty means IN_APP only.
	Channels []Channel `json:"channels,omitempty"`
}
