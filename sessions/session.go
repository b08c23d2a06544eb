package sessions

import (
	"encoding/json"
	"time"
)

// PendingRequest is one ledger entry: a server-initiated sub-request that was
// sent to the client and not yet answered.
type PendingRequest struct {
	Method         string    `json:"method,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	TimeoutSeconds int       `json:"timeout_seconds"`
}

// Deadline returns the instant after which the entry is considered expired.
func (p PendingRequest) Deadline() time.Time {
	return p.CreatedAt.Add(time.Duration(p.TimeoutSeconds) * time.Second)
}

// Session is the durable record of one logical client connection. Methods
// are plain mutations: the caller (normally the engine) is responsible for
// holding the session-scoped lock and for persisting through a Store.
type Session struct {
	ID         string                    `json:"id"`
	Queue      []json.RawMessage         `json:"queue,omitempty"`
	Pending    map[string]PendingRequest `json:"pending,omitempty"`
	Meta       map[string]string         `json:"meta,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	LastAccess time.Time                 `json:"last_access"`
}

// New creates an empty session record with the given id.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		Pending:    make(map[string]PendingRequest),
		Meta:       make(map[string]string),
		CreatedAt:  now,
		LastAccess: now,
	}
}

// AddPending registers a sub-request in the ledger. Correlation ids are
// never reused within a session, so an insert never observes a live entry
// under the same key.
func (s *Session) AddPending(correlationID string, timeout time.Duration, method string) {
	if s.Pending == nil {
		s.Pending = make(map[string]PendingRequest)
	}
	s.Pending[correlationID] = PendingRequest{
		Method:         method,
		CreatedAt:      time.Now().UTC(),
		TimeoutSeconds: int(timeout / time.Second),
	}
}

// ResolvePending removes the ledger entry for correlationID, reporting
// whether it was present. A second resolution of the same id returns false,
// which makes duplicate late answers harmless.
func (s *Session) ResolvePending(correlationID string) bool {
	if _, ok := s.Pending[correlationID]; !ok {
		return false
	}
	delete(s.Pending, correlationID)
	return true
}

// ListExpired returns the correlation ids of all ledger entries whose
// deadline is at or before now.
func (s *Session) ListExpired(now time.Time) []string {
	var expired []string
	for id, p := range s.Pending {
		if !p.Deadline().After(now) {
			expired = append(expired, id)
		}
	}
	return expired
}

// NextDeadline returns the earliest pending deadline, if any.
func (s *Session) NextDeadline() (time.Time, bool) {
	var min time.Time
	for _, p := range s.Pending {
		d := p.Deadline()
		if min.IsZero() || d.Before(min) {
			min = d
		}
	}
	return min, !min.IsZero()
}

// EnqueueOutgoing appends a serialized outbound message. Delivery order is
// production order.
func (s *Session) EnqueueOutgoing(msg []byte) {
	s.Queue = append(s.Queue, json.RawMessage(append([]byte(nil), msg...)))
}

// DrainOutgoing atomically empties the queue and returns its contents. A
// drain of an empty queue returns nil.
func (s *Session) DrainOutgoing() []json.RawMessage {
	if len(s.Queue) == 0 {
		return nil
	}
	out := s.Queue
	s.Queue = nil
	return out
}

// RequeueOutgoing puts undelivered messages back at the front of the
// queue, preserving their original order.
func (s *Session) RequeueOutgoing(msgs []json.RawMessage) {
	if len(msgs) == 0 {
		return
	}
	s.Queue = append(append([]json.RawMessage{}, msgs...), s.Queue...)
}

// SetMeta records a session-lifetime key/value pair, last write wins.
func (s *Session) SetMeta(key, value string) {
	if s.Meta == nil {
		s.Meta = make(map[string]string)
	}
	s.Meta[key] = value
}

// GetMeta reads a metadata value.
func (s *Session) GetMeta(key string) (string, bool) {
	v, ok := s.Meta[key]
	return v, ok
}

// Touch updates the last-access stamp, used by stores with sliding
// expiration.
func (s *Session) Touch(now time.Time) {
	s.LastAccess = now.UTC()
}

// Clone returns a deep copy. Stores use it so that callers never share
// mutable state with the store's own records.
func (s *Session) Clone() *Session {
	cp := &Session{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		LastAccess: s.LastAccess,
	}
	if s.Queue != nil {
		cp.Queue = make([]json.RawMessage, len(s.Queue))
		for i, m := range s.Queue {
			cp.Queue[i] = append(json.RawMessage(nil), m...)
		}
	}
	if s.Pending != nil {
		cp.Pending = make(map[string]PendingRequest, len(s.Pending))
		for k, v := range s.Pending {
			cp.Pending[k] = v
		}
	}
	if s.Meta != nil {
		cp.Meta = make(map[string]string, len(s.Meta))
		for k, v := range s.Meta {
			cp.Meta[k] = v
		}
	}
	return cp
}
