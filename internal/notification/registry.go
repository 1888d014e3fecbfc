package notification

import (
	"encoding/json"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	registryShards    = 16
	sessionSendBuffer = 32
	sessionWriteWait  = 10 * time.Second
)

// PushPayload is the frame written to live in-app sessions.
type PushPayload struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
}

// Session is one live push-capable websocket connection. Outbound frames go
// through a buffered channel drained by writePump, so senders never block
// on a slow client.
type Session struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func NewSession(conn *websocket.Conn) *Session {
	return &Session{
		conn: conn,
		send: make(chan []byte, sessionSendBuffer),
	}
}

// enqueue hands a frame to the writer without blocking. Frames are dropped
// when the buffer is full; the delivery log is the durable record, the
// socket is best-effort.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// WritePump drains the outbound buffer onto the wire. It returns when the
// session is closed or a write fails.
func (s *Session) WritePump() {
	for msg := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("Websocket write failed: %v", err)
			return
		}
	}
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.send)
		s.conn.Close()
	})
}

// ConnectionRegistry tracks which recipients currently have live sessions
// and routes in-app pushes to them. State is sharded by recipient so
// unrelated connect/disconnect/send calls do not serialize on one lock.
type ConnectionRegistry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
}

func NewConnectionRegistry() *ConnectionRegistry {
	r := &ConnectionRegistry{}
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]map[*Session]struct{})
	}
	return r
}

func (r *ConnectionRegistry) shard(recipientID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(recipientID))
	return &r.shards[h.Sum32()%registryShards]
}

// Register adds a session for a recipient. One recipient may hold several
// concurrent sessions (multiple tabs or devices).
func (r *ConnectionRegistry) Register(recipientID string, s *Session) {
	sh := r.shard(recipientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set, ok := sh.sessions[recipientID]
	if !ok {
		set = make(map[*Session]struct{})
		sh.sessions[recipientID] = set
	}
	set[s] = struct{}{}
}

// Deregister removes a session. Removing the last session drops the
// recipient from the map entirely.
func (r *ConnectionRegistry) Deregister(recipientID string, s *Session) {
	sh := r.shard(recipientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set, ok := sh.sessions[recipientID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(sh.sessions, recipientID)
	}
}

// IsConnected reports whether the recipient has at least one live session.
func (r *ConnectionRegistry) IsConnected(recipientID string) bool {
	sh := r.shard(recipientID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.sessions[recipientID]) > 0
}

// SendToUser pushes a payload to every live session of the recipient,
// best-effort. A disconnected recipient is a no-op, not an error: the
// notification stays queryable through the pull path. Returns the number
// of sessions the payload was queued to.
func (r *ConnectionRegistry) SendToUser(recipientID string, payload PushPayload) int {
	msg, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal push payload: %v", err)
		return 0
	}

	sh := r.shard(recipientID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	queued := 0
	for s := range sh.sessions[recipientID] {
		if s.enqueue(msg) {
			queued++
		}
	}
	return queued
}

// ConnectedRecipients returns the number of recipients with at least one
// live session, for the metrics gauge.
func (r *ConnectionRegistry) ConnectedRecipients() int {
	total := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		total += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return total
}
