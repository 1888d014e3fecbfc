package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository handles database operations for notifications, delivery logs,
// preferences and templates.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// statusRank orders the non-failed states so multi-step advances (e.g. an
// open event on a log still in SENT) can be validated and stamped in one
// update.
var statusRank = map[DeliveryStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusOpened:    2,
	StatusClicked:   3,
}

// CreateNotification inserts a new notification, assigning its ID and
// creation time.
func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now().UTC()

	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (id, recipient_id, title, message, category, priority,
			action_url, action_label, image_url, metadata, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		n.ID, n.RecipientID, n.Title, n.Message, n.Category, n.Priority,
		n.ActionURL, n.ActionLabel, n.ImageURL, meta, n.CreatedAt,
	)
	return err
}

// GetNotification retrieves a notification by ID.
func (r *Repository) GetNotification(ctx context.Context, id string) (*Notification, error) {
	query := `
		SELECT id, recipient_id, title, message, category, priority,
			action_url, action_label, image_url, metadata, is_read, read_at, created_at
		FROM notifications WHERE id = $1
	`
	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotifications returns a recipient's notifications, newest first.
func (r *Repository) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]*Notification, error) {
	query := `
		SELECT id, recipient_id, title, message, category, priority,
			action_url, action_label, image_url, metadata, is_read, read_at, created_at
		FROM notifications WHERE recipient_id = $1
	`
	if unreadOnly {
		query += ` AND is_read = false`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead marks a notification read, stamping read_at on the first call
// only.
func (r *Repository) MarkRead(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET is_read = true, read_at = COALESCE(read_at, $2)
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var meta []byte
	err := row.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.Category, &n.Priority,
		&n.ActionURL, &n.ActionLabel, &n.ImageURL, &meta, &n.IsRead, &n.ReadAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &n, nil
}

// RecordDeliveryAttempt upserts the (notification, channel) delivery log.
// The first attempt inserts the row; a re-invocation (external retry
// policy) bumps the attempts counter and overwrites status and error while
// keeping the earliest sent_at/failed_at. l.ID is set to the stored row's
// id, which on conflict is the existing one.
func (r *Repository) RecordDeliveryAttempt(ctx context.Context, l *DeliveryLog) error {
	l.ID = uuid.New().String()
	now := time.Now().UTC()
	if l.Attempts == 0 {
		l.Attempts = 1
	}
	switch l.Status {
	case StatusSent:
		l.SentAt = &now
	case StatusFailed:
		l.FailedAt = &now
	default:
		return fmt.Errorf("delivery attempt must start as SENT or FAILED, got %s", l.Status)
	}

	query := `
		INSERT INTO delivery_logs (id, notification_id, channel, status, attempts,
			error_message, sent_at, failed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (notification_id, channel) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = delivery_logs.attempts + 1,
			error_message = EXCLUDED.error_message,
			sent_at = COALESCE(delivery_logs.sent_at, EXCLUDED.sent_at),
			failed_at = COALESCE(delivery_logs.failed_at, EXCLUDED.failed_at)
		RETURNING id
	`
	return r.db.QueryRowContext(ctx, query,
		l.ID, l.NotificationID, l.Channel, l.Status, l.Attempts,
		nullIfEmpty(l.ErrorMessage), l.SentAt, l.FailedAt, now,
	).Scan(&l.ID)
}

// GetDeliveryLog retrieves the delivery log for one (notification, channel)
// pair.
func (r *Repository) GetDeliveryLog(ctx context.Context, notificationID string, channel Channel) (*DeliveryLog, error) {
	query := `
		SELECT id, notification_id, channel, status, attempts, error_message,
			sent_at, delivered_at, failed_at, opened_at, clicked_at
		FROM delivery_logs WHERE notification_id = $1 AND channel = $2
	`
	l, err := scanDeliveryLog(r.db.QueryRowContext(ctx, query, notificationID, channel))
	if err == sql.ErrNoRows {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListDeliveryLogs returns all delivery logs for a notification.
func (r *Repository) ListDeliveryLogs(ctx context.Context, notificationID string) ([]*DeliveryLog, error) {
	query := `
		SELECT id, notification_id, channel, status, attempts, error_message,
			sent_at, delivered_at, failed_at, opened_at, clicked_at
		FROM delivery_logs WHERE notification_id = $1 ORDER BY channel
	`
	rows, err := r.db.QueryContext(ctx, query, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DeliveryLog
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// AdvanceDeliveryLog moves a delivery log forward to target, stamping the
// timestamp of every state passed through and never clearing an earlier
// one. Moving backwards or out of a terminal state returns
// ErrInvalidTransition.
func (r *Repository) AdvanceDeliveryLog(ctx context.Context, notificationID string, channel Channel, target DeliveryStatus) (*DeliveryLog, error) {
	// Compare-and-swap on the status column: the UPDATE only fires while
	// the row is still in the snapshot's status, so two racing advances
	// cannot write statuses out of rank order. A lost race re-reads and
	// re-checks against the winner's status.
	for attempt := 0; attempt < 3; attempt++ {
		cur, err := r.GetDeliveryLog(ctx, notificationID, channel)
		if err != nil {
			return nil, err
		}

		if cur.Status == target {
			// Duplicate tracking events are fine.
			return cur, nil
		}
		from, okFrom := statusRank[cur.Status]
		to, okTo := statusRank[target]
		if !okFrom || !okTo || to < from {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, target)
		}

		now := time.Now().UTC()
		query := `
			UPDATE delivery_logs SET
				status = $3,
				delivered_at = CASE WHEN $4 >= 1 THEN COALESCE(delivered_at, $5) ELSE delivered_at END,
				opened_at    = CASE WHEN $4 >= 2 THEN COALESCE(opened_at, $5) ELSE opened_at END,
				clicked_at   = CASE WHEN $4 >= 3 THEN COALESCE(clicked_at, $5) ELSE clicked_at END
			WHERE notification_id = $1 AND channel = $2 AND status = $6
		`
		res, err := r.db.ExecContext(ctx, query, notificationID, channel, target, to, now, cur.Status)
		if err != nil {
			return nil, err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue
		}
		return r.GetDeliveryLog(ctx, notificationID, channel)
	}
	return nil, fmt.Errorf("advance delivery log %s/%s: concurrent update contention", notificationID, channel)
}

// FailDeliveryLog moves a SENT log to FAILED with a reason. Logs already
// past SENT are left alone: a delivery the recipient saw cannot fail
// retroactively.
func (r *Repository) FailDeliveryLog(ctx context.Context, notificationID string, channel Channel, reason string) error {
	query := `
		UPDATE delivery_logs SET
			status = $3,
			error_message = $4,
			failed_at = COALESCE(failed_at, $5)
		WHERE notification_id = $1 AND channel = $2 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query, notificationID, channel, StatusFailed, reason, time.Now().UTC(), StatusSent)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: log for %s/%s is not in SENT", ErrInvalidTransition, notificationID, channel)
	}
	return nil
}

func scanDeliveryLog(row rowScanner) (*DeliveryLog, error) {
	var l DeliveryLog
	var errMsg sql.NullString
	err := row.Scan(&l.ID, &l.NotificationID, &l.Channel, &l.Status, &l.Attempts, &errMsg,
		&l.SentAt, &l.DeliveredAt, &l.FailedAt, &l.OpenedAt, &l.ClickedAt)
	if err != nil {
		return nil, err
	}
	l.ErrorMessage = errMsg.String
	return &l, nil
}

// GetPreferenceRow returns the stored preference row, or nil when the
// recipient has no row for the category.
func (r *Repository) GetPreferenceRow(ctx context.Context, recipientID string, category Category) (*Preference, error) {
	query := `
		SELECT recipient_id, category, enabled, dnd_enabled, dnd_start_time, dnd_end_time, dnd_days, updated_at
		FROM notification_preferences WHERE recipient_id = $1 AND category = $2
	`
	p, err := scanPreference(r.db.QueryRowContext(ctx, query, recipientID, category))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPreferenceRows returns every stored preference row for a recipient.
func (r *Repository) ListPreferenceRows(ctx context.Context, recipientID string) ([]*Preference, error) {
	query := `
		SELECT recipient_id, category, enabled, dnd_enabled, dnd_start_time, dnd_end_time, dnd_days, updated_at
		FROM notification_preferences WHERE recipient_id = $1
	`
	rows, err := r.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPreferenceRow writes the full preference row, one per
// (recipient, category).
func (r *Repository) UpsertPreferenceRow(ctx context.Context, p *Preference) error {
	p.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO notification_preferences
			(recipient_id, category, enabled, dnd_enabled, dnd_start_time, dnd_end_time, dnd_days, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (recipient_id, category) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			dnd_enabled = EXCLUDED.dnd_enabled,
			dnd_start_time = EXCLUDED.dnd_start_time,
			dnd_end_time = EXCLUDED.dnd_end_time,
			dnd_days = EXCLUDED.dnd_days,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		p.RecipientID, p.Category, p.Enabled, p.DNDEnabled,
		nullIfEmpty(p.DNDStartTime), nullIfEmpty(p.DNDEndTime),
		pq.Array(p.DNDDays), p.UpdatedAt,
	)
	return err
}

// DeletePreferenceRows removes all of a recipient's preference rows,
// restoring defaults.
func (r *Repository) DeletePreferenceRows(ctx context.Context, recipientID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM notification_preferences WHERE recipient_id = $1`, recipientID)
	return err
}

func scanPreference(row rowScanner) (*Preference, error) {
	var p Preference
	var start, end sql.NullString
	var days pq.Int64Array
	err := row.Scan(&p.RecipientID, &p.Category, &p.Enabled, &p.DNDEnabled, &start, &end, &days, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.DNDStartTime = start.String
	p.DNDEndTime = end.String
	for _, d := range days {
		p.DNDDays = append(p.DNDDays, int(d))
	}
	return &p, nil
}

// CreateTemplate inserts a new template. A duplicate key surfaces as
// ErrDuplicateTemplateKey.
func (r *Repository) CreateTemplate(ctx context.Context, t *Template) error {
	t.ID = uuid.New().String()
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	query := `
		INSERT INTO notification_templates
			(id, key, name, description, category, title, message, variables,
			default_channels, default_priority, version, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Key, t.Name, t.Description, t.Category, t.Title, t.Message,
		pq.Array(t.Variables), pq.Array(channelStrings(t.DefaultChannels)),
		t.DefaultPriority, t.Version, t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateTemplateKey
	}
	return err
}

// UpdateTemplate writes the full template row back.
func (r *Repository) UpdateTemplate(ctx context.Context, t *Template) error {
	t.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE notification_templates SET
			name = $2, description = $3, category = $4, title = $5, message = $6,
			variables = $7, default_channels = $8, default_priority = $9,
			version = $10, is_active = $11, updated_at = $12
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Description, t.Category, t.Title, t.Message,
		pq.Array(t.Variables), pq.Array(channelStrings(t.DefaultChannels)),
		t.DefaultPriority, t.Version, t.IsActive, t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// DeleteTemplate removes a template by ID.
func (r *Repository) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notification_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

// GetTemplateByKey retrieves a template by its unique key.
func (r *Repository) GetTemplateByKey(ctx context.Context, key string) (*Template, error) {
	return r.getTemplate(ctx, `key = $1`, key)
}

// GetTemplateByID retrieves a template by ID.
func (r *Repository) GetTemplateByID(ctx context.Context, id string) (*Template, error) {
	return r.getTemplate(ctx, `id = $1`, id)
}

func (r *Repository) getTemplate(ctx context.Context, where string, arg any) (*Template, error) {
	query := `
		SELECT id, key, name, description, category, title, message, variables,
			default_channels, default_priority, version, is_active, created_at, updated_at
		FROM notification_templates WHERE ` + where

	var t Template
	var vars, channels pq.StringArray
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.Key, &t.Name, &t.Description, &t.Category, &t.Title, &t.Message,
		&vars, &channels, &t.DefaultPriority, &t.Version, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Variables = vars
	for _, c := range channels {
		t.DefaultChannels = append(t.DefaultChannels, Channel(c))
	}
	return &t, nil
}

func channelStrings(channels []Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
