package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const emailWorkerMaxRetries = 3

// WorkerStore is the persistence surface the email worker needs to advance
// or fail the EMAIL delivery log.
type WorkerStore interface {
	AdvanceDeliveryLog(ctx context.Context, notificationID string, channel Channel, target DeliveryStatus) (*DeliveryLog, error)
	FailDeliveryLog(ctx context.Context, notificationID string, channel Channel, reason string) error
}

// EmailWorker drains the EMAIL queue: it sends each task through the
// configured sender and advances the delivery log to DELIVERED on the
// provider's confirmation. Redis guards against duplicate sends when the
// broker redelivers an already-processed task.
type EmailWorker struct {
	store  WorkerStore
	sender Sender
	redis  *redis.Client
}

func NewEmailWorker(store WorkerStore, sender Sender, redisClient *redis.Client) *EmailWorker {
	return &EmailWorker{
		store:  store,
		sender: sender,
		redis:  redisClient,
	}
}

// ProcessTask handles one queued email task. Returning an error makes the
// broker requeue the task; after the retry budget is exhausted the
// delivery log is failed and the task is acked away.
func (w *EmailWorker) ProcessTask(ctx context.Context, body []byte) error {
	var task EmailTask
	if err := json.Unmarshal(body, &task); err != nil {
		log.Printf("Dropping undecodable email task: %v", err)
		return nil
	}

	if w.alreadySent(ctx, task.NotificationID) {
		log.Printf("Email for notification %s already sent (idempotent skip)", task.NotificationID)
		return nil
	}

	if task.Recipient == "" {
		w.fail(ctx, task.NotificationID, "no email address on record for recipient")
		return nil
	}

	if err := w.sender.Send(ctx, task.Recipient, task.Title, task.Message); err != nil {
		attempts := w.bumpAttempts(ctx, task.NotificationID)
		if attempts >= emailWorkerMaxRetries {
			log.Printf("Email for notification %s exceeded %d attempts, failing: %v",
				task.NotificationID, emailWorkerMaxRetries, err)
			w.fail(ctx, task.NotificationID, "email provider error: "+err.Error())
			return nil
		}
		log.Printf("Email send failed for notification %s (attempt %d), requeueing: %v",
			task.NotificationID, attempts, err)
		return err
	}

	w.markSent(ctx, task.NotificationID)

	if _, err := w.store.AdvanceDeliveryLog(ctx, task.NotificationID, ChannelEmail, StatusDelivered); err != nil {
		log.Printf("Failed to advance EMAIL delivery log for %s: %v", task.NotificationID, err)
	}
	DeliveryAttempts.WithLabelValues(string(ChannelEmail), string(StatusDelivered)).Inc()
	return nil
}

func (w *EmailWorker) fail(ctx context.Context, notificationID, reason string) {
	if err := w.store.FailDeliveryLog(ctx, notificationID, ChannelEmail, reason); err != nil {
		log.Printf("Failed to mark EMAIL delivery failed for %s: %v", notificationID, err)
		return
	}
	DeliveryAttempts.WithLabelValues(string(ChannelEmail), string(StatusFailed)).Inc()
}

func (w *EmailWorker) alreadySent(ctx context.Context, notificationID string) bool {
	if w.redis == nil {
		return false
	}
	exists, err := w.redis.Exists(ctx, "notif:email:sent:"+notificationID).Result()
	if err != nil {
		log.Printf("Redis error checking idempotency: %v", err)
		return false
	}
	return exists > 0
}

func (w *EmailWorker) markSent(ctx context.Context, notificationID string) {
	if w.redis == nil {
		return
	}
	if err := w.redis.Set(ctx, "notif:email:sent:"+notificationID, "1", 24*time.Hour).Err(); err != nil {
		log.Printf("Redis error marking idempotency: %v", err)
	}
}

func (w *EmailWorker) bumpAttempts(ctx context.Context, notificationID string) int {
	if w.redis == nil {
		return emailWorkerMaxRetries
	}
	key := fmt.Sprintf("notif:email:attempts:%s", notificationID)
	n, err := w.redis.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("Redis error counting attempts: %v", err)
		return emailWorkerMaxRetries
	}
	w.redis.Expire(ctx, key, time.Hour)
	return int(n)
}
