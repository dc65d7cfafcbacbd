package proxichat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNavigator struct {
	chats  chan *Chat
	setups chan string
}

func newFakeNavigator() *fakeNavigator {
	return &fakeNavigator{
		chats:  make(chan *Chat, 1),
		setups: make(chan string, 1),
	}
}

func (n *fakeNavigator) ShowChat(chat *Chat, _ Match) { n.chats <- chat }
func (n *fakeNavigator) ShowSetup(message string)     { n.setups <- message }

func TestRouterMatchedStartsChat(t *testing.T) {
	c, ft := newTestConn(t)
	s, payload := startWaitingSearch(t, c, ft)

	nav := newFakeNavigator()
	NewRouter(c, nav).Attach(context.Background(), s)

	ft.push(t, EventMatchFound, MatchFoundEvent{
		RequestID:        payload.RequestID,
		ChatID:           "chat-7",
		OtherDisplayName: "Bob",
	})

	var chat *Chat
	select {
	case chat = <-nav.chats:
	case <-time.After(2 * time.Second):
		t.Fatal("navigator not shown a chat")
	}
	assert.Equal(t, "chat-7", chat.ChatID())

	// The room was joined before navigation fired.
	fr := awaitFrame(t, ft, EventJoinChat)
	assert.JSONEq(t, `{"chatId":"chat-7"}`, string(fr.Data))
}

func TestRouterTimeoutReturnsToSetup(t *testing.T) {
	c, ft := newTestConn(t)
	s, payload := startWaitingSearch(t, c, ft)

	nav := newFakeNavigator()
	NewRouter(c, nav).Attach(context.Background(), s)

	const serverMsg = "Nobody nearby right now."
	ft.push(t, EventMatchTimeout, MatchTimeoutEvent{RequestID: payload.RequestID, Message: serverMsg})

	select {
	case msg := <-nav.setups:
		assert.Equal(t, serverMsg, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("navigator not returned to setup")
	}
	require.Equal(t, SearchTimedOut, s.State())
}
