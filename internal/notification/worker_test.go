package notification

import (
	"context"
	"encoding/json"
	"testing"
)

func queuedEmail(t *testing.T, store *memStore) (EmailTask, []byte) {
	t.Helper()
	n := &Notification{RecipientID: "u1", Title: "hi", Message: "hello", Category: CategorySystem}
	if err := store.CreateNotification(context.Background(), n); err != nil {
		t.Fatalf("CreateNotification failed: %v", err)
	}
	if err := store.RecordDeliveryAttempt(context.Background(), &DeliveryLog{
		NotificationID: n.ID,
		Channel:        ChannelEmail,
		Status:         StatusSent,
	}); err != nil {
		t.Fatalf("RecordDeliveryAttempt failed: %v", err)
	}

	task := EmailTask{
		NotificationID: n.ID,
		RecipientID:    "u1",
		Recipient:      "u1@example.com",
		Title:          "hi",
		Message:        "hello",
	}
	body, _ := json.Marshal(task)
	return task, body
}

func TestWorkerProcessTaskSuccess(t *testing.T) {
	store := newMemStore()
	sender := &fakeSender{}
	w := NewEmailWorker(store, sender, nil)

	task, body := queuedEmail(t, store)
	if err := w.ProcessTask(context.Background(), body); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	if len(sender.sent) != 1 || sender.sent[0] != "u1@example.com" {
		t.Errorf("sent = %v", sender.sent)
	}
	l := store.log(task.NotificationID, ChannelEmail)
	if l.Status != StatusDelivered {
		t.Errorf("log status = %s, want DELIVERED", l.Status)
	}
	if l.DeliveredAt == nil {
		t.Error("delivered_at not stamped")
	}
}

func TestWorkerProcessTaskMissingRecipient(t *testing.T) {
	store := newMemStore()
	sender := &fakeSender{}
	w := NewEmailWorker(store, sender, nil)

	task, _ := queuedEmail(t, store)
	task.Recipient = ""
	body, _ := json.Marshal(task)

	if err := w.ProcessTask(context.Background(), body); err != nil {
		t.Fatalf("missing recipient should ack, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be sent without an address")
	}
	l := store.log(task.NotificationID, ChannelEmail)
	if l.Status != StatusFailed {
		t.Errorf("log status = %s, want FAILED", l.Status)
	}
}

func TestWorkerProcessTaskProviderFailure(t *testing.T) {
	store := newMemStore()
	// Without redis the attempt counter saturates, so a single provider
	// failure exhausts the retry budget and fails the log.
	sender := &fakeSender{failures: 1}
	w := NewEmailWorker(store, sender, nil)

	task, body := queuedEmail(t, store)
	if err := w.ProcessTask(context.Background(), body); err != nil {
		t.Fatalf("exhausted retries should ack, got %v", err)
	}

	l := store.log(task.NotificationID, ChannelEmail)
	if l.Status != StatusFailed {
		t.Errorf("log status = %s, want FAILED", l.Status)
	}
	if l.ErrorMessage == "" {
		t.Error("failure reason should be recorded")
	}
}

func TestWorkerProcessTaskUndecodable(t *testing.T) {
	w := NewEmailWorker(newMemStore(), &fakeSender{}, nil)
	if err := w.ProcessTask(context.Background(), []byte("not json")); err != nil {
		t.Errorf("undecodable task should be dropped, got %v", err)
	}
}
