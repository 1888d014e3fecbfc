package notification

import (
	"context"
	"log"
)

// Sender delivers one rendered message to an out-of-app address. The
// worker picks the sender by channel; today only EMAIL exists, future
// channels add a constant, a queue and a sender.
type Sender interface {
	Send(ctx context.Context, recipient, title, content string) error
	Channel() Channel
}

// LogSender is the development fallback used when no provider credentials
// are configured. It only logs the message.
type LogSender struct {
	channel Channel
}

func NewLogSender(channel Channel) *LogSender {
	return &LogSender{channel: channel}
}

func (s *LogSender) Channel() Channel {
	return s.channel
}

func (s *LogSender) Send(ctx context.Context, recipient, title, content string) error {
	log.Printf("[%s DRIVER] To: %s", s.channel, recipient)
	log.Printf("[%s DRIVER] Subject: %s", s.channel, title)
	log.Printf("[%s DRIVER] Body:\n%s", s.channel, content)
	return nil
}
