package proxichat

import (
	"encoding/json"
	"sync"
)

// Subscription scopes a set of event handlers to an owner's lifetime.
// Handlers are attached on acquisition and are guaranteed to be
// detached exactly once, however many exit paths release the
// subscription. Re-entering a screen acquires a fresh subscription;
// handlers never persist across attempts.
type Subscription struct {
	conn   *Conn
	events []string
	once   sync.Once
}

// Subscribe attaches the given handlers and returns their scope.
func (c *Conn) Subscribe(handlers map[string]func(json.RawMessage)) *Subscription {
	s := &Subscription{conn: c, events: make([]string, 0, len(handlers))}
	for event, fn := range handlers {
		c.On(event, fn)
		s.events = append(s.events, event)
	}
	return s
}

// Close detaches every handler in the scope. Safe to call multiple
// times and from any exit path.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		for _, event := range s.events {
			s.conn.Off(event)
		}
	})
}
