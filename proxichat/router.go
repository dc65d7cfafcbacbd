package proxichat

import "context"

// Navigator is the screen-transition surface the embedding UI provides.
// ShowChat replaces the matching screen so that "back" cannot return to
// a stale waiting state; ShowSetup returns the user to the
// configuration step with the server's message shown verbatim.
type Navigator interface {
	ShowChat(chat *Chat, match Match)
	ShowSetup(message string)
}

// Router resolves a search outcome into a navigation transition and
// seeds the chat session for a successful pairing.
type Router struct {
	conn   *Conn
	nav    Navigator
	logger Logger
}

// NewRouter binds the navigator to the shared connection.
func NewRouter(conn *Conn, nav Navigator) *Router {
	return &Router{conn: conn, nav: nav, logger: conn.logger}
}

// Attach wires the search outcome callbacks. On a match the chat room
// is joined before the navigation fires, so the chat screen starts
// with an already receiving session.
func (r *Router) Attach(ctx context.Context, s *Search) {
	s.OnMatched(func(m Match) {
		chat := NewChat(r.conn)
		if err := chat.Open(ctx, m.ChatID); err != nil {
			r.logger.Error("chat open failed", map[string]any{
				"chat_id": m.ChatID,
				"error":   err.Error(),
			})
			r.nav.ShowSetup("Could not open the chat. Please search again.")
			return
		}
		r.nav.ShowChat(chat, m)
	})
	s.OnTimedOut(func(t Timeout) {
		r.nav.ShowSetup(t.Message)
	})
}
