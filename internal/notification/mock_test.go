package notification

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memStore is an in-memory Store and WorkerStore for orchestrator and
// worker tests.
type memStore struct {
	mu            sync.Mutex
	notifications map[string]*Notification
	logs          map[string]*DeliveryLog // key: notificationID + "/" + channel

	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		notifications: make(map[string]*Notification),
		logs:          make(map[string]*DeliveryLog),
	}
}

func logKey(notificationID string, ch Channel) string {
	return notificationID + "/" + string(ch)
}

func (m *memStore) CreateNotification(ctx context.Context, n *Notification) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = fmt.Sprintf("n-%d", len(m.notifications)+1)
	}
	n.CreatedAt = time.Now().UTC()
	m.notifications[n.ID] = n
	return nil
}

func (m *memStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return n, nil
}

func (m *memStore) MarkRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotificationNotFound
	}
	if !n.IsRead {
		now := time.Now().UTC()
		n.IsRead = true
		n.ReadAt = &now
	}
	return nil
}

func (m *memStore) RecordDeliveryAttempt(ctx context.Context, l *DeliveryLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := logKey(l.NotificationID, l.Channel)
	now := time.Now().UTC()
	if existing, ok := m.logs[key]; ok {
		existing.Status = l.Status
		existing.Attempts++
		existing.ErrorMessage = l.ErrorMessage
		l.ID = existing.ID
		return nil
	}
	stored := *l
	if stored.ID == "" {
		stored.ID = fmt.Sprintf("dl-%d", len(m.logs)+1)
	}
	l.ID = stored.ID
	stored.Attempts = 1
	switch l.Status {
	case StatusSent:
		stored.SentAt = &now
	case StatusFailed:
		stored.FailedAt = &now
	}
	m.logs[key] = &stored
	return nil
}

func (m *memStore) AdvanceDeliveryLog(ctx context.Context, notificationID string, channel Channel, target DeliveryStatus) (*DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[logKey(notificationID, channel)]
	if !ok {
		return nil, ErrDeliveryLogNotFound
	}
	if l.Status == target {
		return l, nil
	}
	from, okFrom := statusRank[l.Status]
	to, okTo := statusRank[target]
	if !okFrom || !okTo || to < from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, target)
	}
	now := time.Now().UTC()
	if to >= statusRank[StatusDelivered] && l.DeliveredAt == nil {
		l.DeliveredAt = &now
	}
	if to >= statusRank[StatusOpened] && l.OpenedAt == nil {
		l.OpenedAt = &now
	}
	if to >= statusRank[StatusClicked] && l.ClickedAt == nil {
		l.ClickedAt = &now
	}
	l.Status = target
	return l, nil
}

func (m *memStore) FailDeliveryLog(ctx context.Context, notificationID string, channel Channel, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[logKey(notificationID, channel)]
	if !ok {
		return ErrDeliveryLogNotFound
	}
	if l.Status != StatusSent {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, StatusFailed)
	}
	now := time.Now().UTC()
	l.Status = StatusFailed
	l.ErrorMessage = reason
	l.FailedAt = &now
	return nil
}

func (m *memStore) ListDeliveryLogs(ctx context.Context, notificationID string) ([]*DeliveryLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DeliveryLog
	for _, l := range m.logs {
		if l.NotificationID == notificationID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) log(notificationID string, ch Channel) *DeliveryLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[logKey(notificationID, ch)]
}

// memPrefRepo is an in-memory PreferenceRepository.
type memPrefRepo struct {
	mu   sync.Mutex
	rows map[string]*Preference // key: recipientID + "/" + category

	getErr error
}

func newMemPrefRepo() *memPrefRepo {
	return &memPrefRepo{rows: make(map[string]*Preference)}
}

func prefKey(recipientID string, c Category) string {
	return recipientID + "/" + string(c)
}

func (m *memPrefRepo) GetPreferenceRow(ctx context.Context, recipientID string, c Category) (*Preference, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[prefKey(recipientID, c)], nil
}

func (m *memPrefRepo) ListPreferenceRows(ctx context.Context, recipientID string) ([]*Preference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Preference
	for _, p := range m.rows {
		if p.RecipientID == recipientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPrefRepo) UpsertPreferenceRow(ctx context.Context, p *Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[prefKey(p.RecipientID, p.Category)] = p
	return nil
}

func (m *memPrefRepo) DeletePreferenceRows(ctx context.Context, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.rows {
		if p.RecipientID == recipientID {
			delete(m.rows, k)
		}
	}
	return nil
}

// memTemplateRepo is an in-memory TemplateRepository.
type memTemplateRepo struct {
	mu        sync.Mutex
	templates map[string]*Template // key: template ID
}

func newMemTemplateRepo() *memTemplateRepo {
	return &memTemplateRepo{templates: make(map[string]*Template)}
}

func (m *memTemplateRepo) CreateTemplate(ctx context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.templates {
		if existing.Key == t.Key {
			return ErrDuplicateTemplateKey
		}
	}
	t.ID = fmt.Sprintf("t-%d", len(m.templates)+1)
	t.Version = 1
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	copied := *t
	m.templates[t.ID] = &copied
	return nil
}

func (m *memTemplateRepo) UpdateTemplate(ctx context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; !ok {
		return ErrTemplateNotFound
	}
	t.UpdatedAt = time.Now().UTC()
	copied := *t
	m.templates[t.ID] = &copied
	return nil
}

func (m *memTemplateRepo) DeleteTemplate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(m.templates, id)
	return nil
}

func (m *memTemplateRepo) GetTemplateByKey(ctx context.Context, key string) (*Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.templates {
		if t.Key == key {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrTemplateNotFound
}

func (m *memTemplateRepo) GetTemplateByID(ctx context.Context, id string) (*Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	copied := *t
	return &copied, nil
}

// fakePusher records pushes instead of writing to sockets.
type fakePusher struct {
	mu        sync.Mutex
	connected map[string]bool
	pushes    []PushPayload
}

func newFakePusher(connected ...string) *fakePusher {
	p := &fakePusher{connected: make(map[string]bool)}
	for _, id := range connected {
		p.connected[id] = true
	}
	return p
}

func (p *fakePusher) IsConnected(recipientID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[recipientID]
}

func (p *fakePusher) SendToUser(recipientID string, payload PushPayload) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected[recipientID] {
		return 0
	}
	p.pushes = append(p.pushes, payload)
	return 1
}

// fakeQueue records published messages, optionally failing.
type fakeQueue struct {
	mu        sync.Mutex
	published map[string][][]byte
	err       error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][][]byte)}
}

func (q *fakeQueue) Publish(ctx context.Context, queue string, body []byte) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[queue] = append(q.published[queue], body)
	return nil
}

// fakeSender records sent emails, optionally failing a number of times.
type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (s *fakeSender) Channel() Channel { return ChannelEmail }

func (s *fakeSender) Send(ctx context.Context, recipient, title, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("provider unavailable")
	}
	s.sent = append(s.sent, recipient)
	return nil
}

func newTestOrchestrator(store *memStore, prefRepo *memPrefRepo, pusher *fakePusher, queue *fakeQueue) *Orchestrator {
	templates := NewTemplateService(newMemTemplateRepo())
	return NewOrchestrator(store, NewPreferenceStore(prefRepo, nil), templates, pusher, queue)
}
