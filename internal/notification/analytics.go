package notification

import (
	"context"
	"sort"
	"time"
)

// DateRange bounds an analytics query: [From, To).
type DateRange struct {
	From time.Time
	To   time.Time
}

// normalized fills an open-ended range: a zero From means "all time" and a
// zero To means "up to now". Without this an omitted To would filter out
// every row.
func (r DateRange) normalized() DateRange {
	if r.To.IsZero() {
		r.To = time.Now().UTC()
	}
	return r
}

// StatusCounts are raw delivery-log counts for one slice of the data.
// Delivered counts every non-FAILED log; Opened and Clicked count logs
// whose timestamps were ever stamped, so a CLICKED log still counts as
// opened.
type StatusCounts struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
}

// Metrics is the per-recipient (or global) engagement summary.
type Metrics struct {
	TotalSent                int     `json:"total_sent"`
	TotalFailed              int     `json:"total_failed"`
	TotalDelivered           int     `json:"total_delivered"`
	TotalOpened              int     `json:"total_opened"`
	TotalClicked             int     `json:"total_clicked"`
	OpenRate                 float64 `json:"open_rate"`
	ClickRate                float64 `json:"click_rate"`
	AverageTimeToOpenSeconds float64 `json:"average_time_to_open_seconds"`
	DeliverySuccessRate      float64 `json:"delivery_success_rate"`
}

// CategoryStats is the engagement summary for one category.
type CategoryStats struct {
	Category    Category `json:"category"`
	StatusCounts
	OpenRate    float64 `json:"open_rate"`
	ClickRate   float64 `json:"click_rate"`
	SuccessRate float64 `json:"success_rate"`
}

// ChannelStats is the delivery summary for one channel.
type ChannelStats struct {
	Channel Channel `json:"channel"`
	StatusCounts
	OpenRate    float64 `json:"open_rate"`
	ClickRate   float64 `json:"click_rate"`
	SuccessRate float64 `json:"success_rate"`
}

// AnalyticsSource is the read surface the aggregator computes from.
type AnalyticsSource interface {
	DeliveryCounts(ctx context.Context, recipientID string, r DateRange) (StatusCounts, error)
	AvgTimeToOpenSeconds(ctx context.Context, recipientID string, r DateRange) (float64, error)
	CategoryCounts(ctx context.Context, r DateRange) (map[Category]StatusCounts, error)
	ChannelCounts(ctx context.Context, r DateRange) (map[Channel]StatusCounts, error)
}

// Analytics computes delivery and engagement metrics on demand. Nothing is
// persisted or rolled up; every query reflects the current log state.
type Analytics struct {
	source AnalyticsSource
}

func NewAnalytics(source AnalyticsSource) *Analytics {
	return &Analytics{source: source}
}

// GetMetrics returns the engagement summary for one recipient, or globally
// when recipientID is empty. All rates guard against a zero denominator.
func (a *Analytics) GetMetrics(ctx context.Context, recipientID string, r DateRange) (*Metrics, error) {
	r = r.normalized()
	counts, err := a.source.DeliveryCounts(ctx, recipientID, r)
	if err != nil {
		return nil, err
	}
	avgOpen, err := a.source.AvgTimeToOpenSeconds(ctx, recipientID, r)
	if err != nil {
		return nil, err
	}
	return buildMetrics(counts, avgOpen), nil
}

// GetCategoryStats returns per-category counts and rates over the range.
func (a *Analytics) GetCategoryStats(ctx context.Context, r DateRange) ([]CategoryStats, error) {
	r = r.normalized()
	byCategory, err := a.source.CategoryCounts(ctx, r)
	if err != nil {
		return nil, err
	}

	out := make([]CategoryStats, 0, len(byCategory))
	for cat, counts := range byCategory {
		out = append(out, CategoryStats{
			Category:     cat,
			StatusCounts: counts,
			OpenRate:     ratio(counts.Opened, counts.Delivered),
			ClickRate:    ratio(counts.Clicked, counts.Opened),
			SuccessRate:  ratio(counts.Delivered, counts.Total),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// GetChannelPerformance returns per-channel counts and rates over the
// range.
func (a *Analytics) GetChannelPerformance(ctx context.Context, r DateRange) ([]ChannelStats, error) {
	r = r.normalized()
	byChannel, err := a.source.ChannelCounts(ctx, r)
	if err != nil {
		return nil, err
	}

	out := make([]ChannelStats, 0, len(byChannel))
	for ch, counts := range byChannel {
		out = append(out, ChannelStats{
			Channel:      ch,
			StatusCounts: counts,
			OpenRate:     ratio(counts.Opened, counts.Delivered),
			ClickRate:    ratio(counts.Clicked, counts.Opened),
			SuccessRate:  ratio(counts.Delivered, counts.Total),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

func buildMetrics(counts StatusCounts, avgOpenSeconds float64) *Metrics {
	return &Metrics{
		TotalSent:                counts.Total,
		TotalFailed:              counts.Failed,
		TotalDelivered:           counts.Delivered,
		TotalOpened:              counts.Opened,
		TotalClicked:             counts.Clicked,
		OpenRate:                 ratio(counts.Opened, counts.Delivered),
		ClickRate:                ratio(counts.Clicked, counts.Opened),
		AverageTimeToOpenSeconds: avgOpenSeconds,
		DeliverySuccessRate:      ratio(counts.Delivered, counts.Total),
	}
}

// ratio returns a/b, or 0 when b is 0. Click rate is conditioned on opens,
// not on deliveries, so each caller picks its own denominator.
func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// DeliveryCounts aggregates delivery logs in range, optionally scoped to
// one recipient.
func (r *Repository) DeliveryCounts(ctx context.Context, recipientID string, dr DateRange) (StatusCounts, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE dl.status <> 'FAILED'),
			COUNT(*) FILTER (WHERE dl.status = 'FAILED'),
			COUNT(*) FILTER (WHERE dl.opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE dl.clicked_at IS NOT NULL)
		FROM delivery_logs dl
		JOIN notifications n ON n.id = dl.notification_id
		WHERE dl.created_at >= $1 AND dl.created_at < $2
			AND ($3 = '' OR n.recipient_id = $3)
	`
	var c StatusCounts
	err := r.db.QueryRowContext(ctx, query, dr.From, dr.To, recipientID).
		Scan(&c.Total, &c.Delivered, &c.Failed, &c.Opened, &c.Clicked)
	return c, err
}

// AvgTimeToOpenSeconds averages read_at - created_at over read
// notifications in range.
func (r *Repository) AvgTimeToOpenSeconds(ctx context.Context, recipientID string, dr DateRange) (float64, error) {
	query := `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (read_at - created_at))), 0)
		FROM notifications
		WHERE is_read = true AND read_at IS NOT NULL
			AND created_at >= $1 AND created_at < $2
			AND ($3 = '' OR recipient_id = $3)
	`
	var avg float64
	err := r.db.QueryRowContext(ctx, query, dr.From, dr.To, recipientID).Scan(&avg)
	return avg, err
}

// CategoryCounts aggregates delivery logs per notification category.
func (r *Repository) CategoryCounts(ctx context.Context, dr DateRange) (map[Category]StatusCounts, error) {
	query := `
		SELECT n.category, COUNT(*),
			COUNT(*) FILTER (WHERE dl.status <> 'FAILED'),
			COUNT(*) FILTER (WHERE dl.status = 'FAILED'),
			COUNT(*) FILTER (WHERE dl.opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE dl.clicked_at IS NOT NULL)
		FROM delivery_logs dl
		JOIN notifications n ON n.id = dl.notification_id
		WHERE dl.created_at >= $1 AND dl.created_at < $2
		GROUP BY n.category
	`
	rows, err := r.db.QueryContext(ctx, query, dr.From, dr.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Category]StatusCounts)
	for rows.Next() {
		var cat Category
		var c StatusCounts
		if err := rows.Scan(&cat, &c.Total, &c.Delivered, &c.Failed, &c.Opened, &c.Clicked); err != nil {
			return nil, err
		}
		out[cat] = c
	}
	return out, rows.Err()
}

// ChannelCounts aggregates delivery logs per channel.
func (r *Repository) ChannelCounts(ctx context.Context, dr DateRange) (map[Channel]StatusCounts, error) {
	query := `
		SELECT dl.channel, COUNT(*),
			COUNT(*) FILTER (WHERE dl.status <> 'FAILED'),
			COUNT(*) FILTER (WHERE dl.status = 'FAILED'),
			COUNT(*) FILTER (WHERE dl.opened_at IS NOT NULL),
			COUNT(*) FILTER (WHERE dl.clicked_at IS NOT NULL)
		FROM delivery_logs dl
		WHERE dl.created_at >= $1 AND dl.created_at < $2
		GROUP BY dl.channel
	`
	rows, err := r.db.QueryContext(ctx, query, dr.From, dr.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Channel]StatusCounts)
	for rows.Next() {
		var ch Channel
		var c StatusCounts
		if err := rows.Scan(&ch, &c.Total, &c.Delivered, &c.Failed, &c.Opened, &c.Clicked); err != nil {
			return nil, err
		}
		out[ch] = c
	}
	return out, rows.Err()
}
