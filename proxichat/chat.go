package proxichat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Chat is an active session with exactly one peer. The transcript is
// append-only and ordered by local send/receipt time; payload
// timestamps are never used for ordering because no cross-client clock
// synchronization is assumed.
type Chat struct {
	conn        *Conn
	logger      Logger
	dedupWindow time.Duration
	selfName    string
	now         func() time.Time

	mu         sync.Mutex
	chatID     string
	open       bool
	transcript []Message
	recentSent []sentRecord
	sub        *Subscription
	onMessage  func(Message)
}

// sentRecord remembers an outgoing message for echo deduplication.
type sentRecord struct {
	text string
	at   time.Time
}

// NewChat prepares a session controller on the shared connection. Echo
// deduplication follows Config.EchoDedupWindow.
func NewChat(conn *Conn) *Chat {
	selfName := strings.TrimSpace(conn.cfg.DisplayName)
	if selfName == "" {
		selfName = DefaultDisplayName
	}
	return &Chat{
		conn:        conn,
		logger:      conn.logger,
		dedupWindow: conn.cfg.EchoDedupWindow,
		selfName:    selfName,
		now:         time.Now,
	}
}

// OnMessage registers a callback fired for every transcript append,
// own and peer messages alike.
func (c *Chat) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// ChatID returns the id of the open session, empty before Open.
func (c *Chat) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Open joins the room for chatID and starts receiving messages. Works
// both for a fresh match and for re-opening a recent chat. Opening an
// already open session is a no-op for the same chatID and an error for
// a different one.
func (c *Chat) Open(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if c.open {
		same := c.chatID == chatID
		c.mu.Unlock()
		if same {
			return nil
		}
		return NewError(ErrorInvalidRequest, "chat already open for another session")
	}
	c.chatID = chatID
	c.open = true
	c.sub = c.conn.Subscribe(map[string]func(json.RawMessage){
		EventReceiveMessage: c.handleReceive,
	})
	sub := c.sub
	c.mu.Unlock()

	if err := c.conn.Emit(ctx, EventJoinChat, JoinChatPayload{ChatID: chatID}); err != nil {
		sub.Close()
		c.mu.Lock()
		c.open = false
		c.sub = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// Send appends the message locally (optimistic echo) and emits it.
// Empty or whitespace-only text is a no-op. Text over MaxMessageLen is
// rejected.
func (c *Chat) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	// The cap counts characters, not bytes.
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return NewError(ErrorMessageTooLong, "message exceeds 500 characters")
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return NewError(ErrorChatClosed, "send on closed chat")
	}
	chatID := c.chatID
	msg := Message{
		ChatID:    chatID,
		Sender:    SenderSelf,
		Text:      text,
		Timestamp: c.now(),
	}
	c.transcript = append(c.transcript, msg)
	if c.dedupWindow > 0 {
		c.recentSent = append(c.recentSent, sentRecord{text: text, at: msg.Timestamp})
	}
	cb := c.onMessage
	c.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
	return c.conn.Emit(ctx, EventSendMessage, SendMessagePayload{ChatID: chatID, Text: text})
}

// Transcript returns a copy of the session's messages in append order.
func (c *Chat) Transcript() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Close detaches the incoming-message handler. No leave event is sent;
// the server does not require one. Messages arriving after Close are
// ignored.
func (c *Chat) Close() {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	sub.Close()
}

func (c *Chat) handleReceive(data json.RawMessage) {
	var ev ReceiveMessageEvent
	if err := UnmarshalData(data, &ev); err != nil {
		c.logger.Warn("bad receive-message payload", map[string]any{"error": err.Error()})
		return
	}

	c.mu.Lock()
	if !c.open || ev.ChatID != c.chatID {
		c.mu.Unlock()
		c.logger.Debug("dropping message for other chat", map[string]any{"chat_id": ev.ChatID})
		return
	}
	if c.dropEchoLocked(ev.Sender, ev.Text) {
		c.mu.Unlock()
		return
	}
	msg := Message{
		ChatID:    ev.ChatID,
		Sender:    SenderPeer,
		Text:      ev.Text,
		Timestamp: c.now(),
	}
	c.transcript = append(c.transcript, msg)
	cb := c.onMessage
	c.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
}

// dropEchoLocked reports whether the inbound message is a server echo
// of a recently sent own message. A payload whose sender names someone
// other than this client is never an echo, even with matching text.
// Each sent record absorbs at most one echo.
func (c *Chat) dropEchoLocked(sender, text string) bool {
	if c.dedupWindow <= 0 {
		return false
	}
	if sender != "" && sender != c.selfName {
		return false
	}
	cutoff := c.now().Add(-c.dedupWindow)
	kept := c.recentSent[:0]
	dropped := false
	for _, rec := range c.recentSent {
		if rec.at.Before(cutoff) {
			continue
		}
		if !dropped && rec.text == text {
			dropped = true
			continue
		}
		kept = append(kept, rec)
	}
	c.recentSent = kept
	return dropped
}
