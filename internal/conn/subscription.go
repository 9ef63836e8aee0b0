package conn

// Handle is the consumer-facing surface of a subscription.
type Handle interface {
	TopicKey() string
	Unsubscribe()
}

// Subscription is the handle returned by Manager.Subscribe. A handle created
// while disconnected becomes active transparently once the queue is flushed.
type Subscription struct {
	m         *Manager
	key       string
	handler   Handler
	queued    bool
	cancelled bool
}

// TopicKey returns the composite topic key this handle is bound to.
func (s *Subscription) TopicKey() string { return s.key }

// Unsubscribe removes the subscription. Safe in every state: a still-queued
// handle is removed from the queue, an active one is deregistered and an
// UNSUBSCRIBE frame sent best-effort. Never fails.
func (s *Subscription) Unsubscribe() {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	if s.queued {
		for i, q := range m.pending {
			if q == s {
				m.pending = append(m.pending[:i], m.pending[i+1:]...)
				break
			}
		}
		return
	}
	// Only remove the registry entry if it is still ours; a replacing
	// subscribe may have taken the key over.
	if cur, ok := m.subs[s.key]; ok && cur == s {
		delete(m.subs, s.key)
		if m.state == Connected && m.conn != nil {
			if err := m.writeFrame(m.conn, unsubscribeFrame(s.key)); err != nil {
				m.log.Debug("unsubscribe write failed", "topic", s.key, "error", err)
			}
		}
	}
}
