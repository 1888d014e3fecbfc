package notification

import (
	"context"
	"testing"
	"time"
)

// fakeSource returns canned counts and records the range it was queried
// with.
type fakeSource struct {
	counts     StatusCounts
	avgOpen    float64
	byCategory map[Category]StatusCounts
	byChannel  map[Channel]StatusCounts
	lastRange  DateRange
}

func (f *fakeSource) DeliveryCounts(ctx context.Context, recipientID string, r DateRange) (StatusCounts, error) {
	f.lastRange = r
	return f.counts, nil
}

func (f *fakeSource) AvgTimeToOpenSeconds(ctx context.Context, recipientID string, r DateRange) (float64, error) {
	return f.avgOpen, nil
}

func (f *fakeSource) CategoryCounts(ctx context.Context, r DateRange) (map[Category]StatusCounts, error) {
	return f.byCategory, nil
}

func (f *fakeSource) ChannelCounts(ctx context.Context, r DateRange) (map[Channel]StatusCounts, error) {
	return f.byChannel, nil
}

func TestGetMetrics(t *testing.T) {
	a := NewAnalytics(&fakeSource{
		counts:  StatusCounts{Total: 12, Delivered: 10, Failed: 2, Opened: 4, Clicked: 1},
		avgOpen: 95.0,
	})

	m, err := a.GetMetrics(context.Background(), "", DateRange{})
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}

	if m.TotalSent != 12 || m.TotalDelivered != 10 || m.TotalFailed != 2 {
		t.Errorf("totals = %+v", m)
	}
	if m.OpenRate != 0.4 {
		t.Errorf("open rate = %v, want 0.4", m.OpenRate)
	}
	if m.ClickRate != 0.25 {
		t.Errorf("click rate = %v, want 0.25 (clicks over opens)", m.ClickRate)
	}
	if m.DeliverySuccessRate != 10.0/12.0 {
		t.Errorf("success rate = %v", m.DeliverySuccessRate)
	}
	if m.AverageTimeToOpenSeconds != 95.0 {
		t.Errorf("avg time to open = %v", m.AverageTimeToOpenSeconds)
	}
}

func TestGetMetricsOpenEndedRange(t *testing.T) {
	src := &fakeSource{counts: StatusCounts{Total: 3, Delivered: 3}}
	a := NewAnalytics(src)

	before := time.Now().UTC()
	if _, err := a.GetMetrics(context.Background(), "", DateRange{}); err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}

	// An omitted To must become "up to now", not the zero time: the store
	// filters created_at < To, which excludes everything otherwise.
	if src.lastRange.To.IsZero() {
		t.Fatal("zero To was passed through to the source")
	}
	if src.lastRange.To.Before(before) {
		t.Errorf("To = %v, want >= %v", src.lastRange.To, before)
	}
	if !src.lastRange.From.IsZero() {
		t.Errorf("From = %v, want zero (all time)", src.lastRange.From)
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.GetMetrics(context.Background(), "", DateRange{From: from, To: to}); err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if !src.lastRange.From.Equal(from) || !src.lastRange.To.Equal(to) {
		t.Errorf("explicit range was altered: %+v", src.lastRange)
	}
}

func TestGetMetricsZeroDenominators(t *testing.T) {
	a := NewAnalytics(&fakeSource{})

	m, err := a.GetMetrics(context.Background(), "", DateRange{})
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if m.OpenRate != 0 || m.ClickRate != 0 || m.DeliverySuccessRate != 0 {
		t.Errorf("rates on empty data should be 0, got %+v", m)
	}
}

func TestGetCategoryStatsSorted(t *testing.T) {
	a := NewAnalytics(&fakeSource{
		byCategory: map[Category]StatusCounts{
			CategorySystem: {Total: 5, Delivered: 5, Opened: 1},
			CategoryOrder:  {Total: 10, Delivered: 8, Failed: 2, Opened: 4, Clicked: 2},
		},
	})

	stats, err := a.GetCategoryStats(context.Background(), DateRange{})
	if err != nil {
		t.Fatalf("GetCategoryStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len = %d, want 2", len(stats))
	}
	if stats[0].Category != CategoryOrder || stats[1].Category != CategorySystem {
		t.Errorf("categories not sorted: %s, %s", stats[0].Category, stats[1].Category)
	}
	if stats[0].OpenRate != 0.5 {
		t.Errorf("ORDER open rate = %v, want 0.5", stats[0].OpenRate)
	}
	if stats[0].SuccessRate != 0.8 {
		t.Errorf("ORDER success rate = %v, want 0.8", stats[0].SuccessRate)
	}
}

func TestGetChannelPerformance(t *testing.T) {
	a := NewAnalytics(&fakeSource{
		byChannel: map[Channel]StatusCounts{
			ChannelEmail: {Total: 4, Delivered: 3, Failed: 1, Opened: 0},
			ChannelInApp: {Total: 10, Delivered: 10, Opened: 5, Clicked: 5},
		},
	})

	stats, err := a.GetChannelPerformance(context.Background(), DateRange{})
	if err != nil {
		t.Fatalf("GetChannelPerformance failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("len = %d, want 2", len(stats))
	}
	if stats[0].Channel != ChannelEmail {
		t.Errorf("channels not sorted: %s first", stats[0].Channel)
	}
	if stats[1].ClickRate != 1.0 {
		t.Errorf("IN_APP click rate = %v, want 1.0", stats[1].ClickRate)
	}
}
