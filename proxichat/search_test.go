package proxichat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vilnius = Location{Latitude: 54.6872, Longitude: 25.2797}

// gateLocator blocks location acquisition until the gate is closed,
// modelling the async suspension point where re-entrant invocations
// pile up.
type gateLocator struct {
	loc  Location
	gate chan struct{}
}

func (g gateLocator) RequestPermission(context.Context) error { return nil }

func (g gateLocator) CurrentLocation(context.Context) (Location, error) {
	<-g.gate
	return g.loc, nil
}

type denyLocator struct{}

func (denyLocator) RequestPermission(context.Context) error { return errors.New("user declined") }
func (denyLocator) CurrentLocation(context.Context) (Location, error) {
	return Location{}, errors.New("unreachable")
}

type noFixLocator struct{}

func (noFixLocator) RequestPermission(context.Context) error { return nil }
func (noFixLocator) CurrentLocation(context.Context) (Location, error) {
	return Location{}, errors.New("gps unavailable")
}

func validRequest() SearchRequest {
	return SearchRequest{DisplayName: "Alice", RadiusKm: 5, DurationMin: 10}
}

func startWaitingSearch(t *testing.T, c *Conn, ft *fakeTransport) (*Search, JoinPoolPayload) {
	t.Helper()
	s, err := NewSearch(c, FixedLocator{Location: vilnius}, validRequest())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, SearchWaiting, s.State())

	fr := awaitFrame(t, ft, EventJoinPool)
	var payload JoinPoolPayload
	require.NoError(t, json.Unmarshal(fr.Data, &payload))
	return s, payload
}

func TestSearchRequestValidation(t *testing.T) {
	c, _ := newTestConn(t)

	for _, req := range []SearchRequest{
		{RadiusKm: 0, DurationMin: 10},
		{RadiusKm: 51, DurationMin: 10},
		{RadiusKm: 5, DurationMin: 0},
		{RadiusKm: 5, DurationMin: 65},
		{RadiusKm: 5, DurationMin: 7}, // not a multiple of 5
	} {
		_, err := NewSearch(c, FixedLocator{}, req)
		require.Error(t, err, "request %+v", req)
		assert.Equal(t, ErrorInvalidRequest, Code(err))
	}
}

func TestSearchDefaultDisplayName(t *testing.T) {
	c, ft := newTestConn(t)
	s, err := NewSearch(c, FixedLocator{Location: vilnius}, SearchRequest{RadiusKm: 5, DurationMin: 10})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	fr := awaitFrame(t, ft, EventJoinPool)
	var payload JoinPoolPayload
	require.NoError(t, json.Unmarshal(fr.Data, &payload))
	assert.Equal(t, DefaultDisplayName, payload.DisplayName)
}

func TestSearchJoinGuardSingleEmit(t *testing.T) {
	c, ft := newTestConn(t)
	gate := make(chan struct{})
	s, err := NewSearch(c, gateLocator{loc: vilnius, gate: gate}, validRequest())
	require.NoError(t, err)

	// Re-enter the async chain concurrently; both entries suspend on
	// the location fix and race into the join step together.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Start(context.Background()))
		}()
	}
	close(gate)
	wg.Wait()

	fr := awaitFrame(t, ft, EventJoinPool)
	assertNoFrame(t, ft, EventJoinPool)

	// Radius and duration go out as numbers, never strings.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(fr.Data, &raw))
	assert.Equal(t, float64(5), raw["radiusKm"])
	assert.Equal(t, float64(10), raw["durationMin"])
	assert.Equal(t, vilnius.Latitude, raw["latitude"])
	assert.Equal(t, vilnius.Longitude, raw["longitude"])
}

func TestSearchRestartAfterWaitingIsInert(t *testing.T) {
	c, ft := newTestConn(t)
	s, payload := startWaitingSearch(t, c, ft)

	// A second sequential entry into the chain must not regress the
	// state machine or emit again.
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, SearchWaiting, s.State())
	assertNoFrame(t, ft, EventJoinPool)

	// The attempt is still resolvable after the re-entry.
	matched := make(chan Match, 1)
	s.OnMatched(func(m Match) { matched <- m })
	ft.push(t, EventMatchFound, MatchFoundEvent{
		RequestID:        payload.RequestID,
		ChatID:           "chat-1",
		OtherDisplayName: "Bob",
	})
	select {
	case m := <-matched:
		assert.Equal(t, "chat-1", m.ChatID)
	case <-time.After(2 * time.Second):
		t.Fatal("match callback not invoked")
	}
	assert.Equal(t, SearchMatched, s.State())
}

func TestSearchPermissionDenied(t *testing.T) {
	c, ft := newTestConn(t)
	s, err := NewSearch(c, denyLocator{}, validRequest())
	require.NoError(t, err)

	failed := make(chan error, 1)
	s.OnError(func(err error) { failed <- err })

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsPermissionDenied(err))
	assert.Equal(t, SearchErrored, s.State())
	assert.Equal(t, ErrorPermissionDenied, Code(<-failed))

	// No join is ever sent on a denied permission.
	assertNoFrame(t, ft, EventJoinPool)
}

func TestSearchAcquisitionFailure(t *testing.T) {
	c, ft := newTestConn(t)
	s, err := NewSearch(c, noFixLocator{}, validRequest())
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrorAcquisitionFailed, Code(err))
	assert.Equal(t, SearchErrored, s.State())
	assertNoFrame(t, ft, EventJoinPool)
}

func TestSearchMatchResolvesOnce(t *testing.T) {
	c, ft := newTestConn(t)
	s, payload := startWaitingSearch(t, c, ft)

	matched := make(chan Match, 2)
	s.OnMatched(func(m Match) { matched <- m })

	ft.push(t, EventMatchFound, MatchFoundEvent{
		RequestID:        payload.RequestID,
		ChatID:           "chat-1",
		OtherDisplayName: "Bob",
	})

	select {
	case m := <-matched:
		assert.Equal(t, "chat-1", m.ChatID)
		assert.Equal(t, "Bob", m.OtherDisplayName)
	case <-time.After(2 * time.Second):
		t.Fatal("match callback not invoked")
	}
	assert.Equal(t, SearchMatched, s.State())

	// Handlers are detached on resolution; a duplicate delivery is
	// ignored.
	ft.push(t, EventMatchFound, MatchFoundEvent{ChatID: "chat-2", OtherDisplayName: "Eve"})
	flush(t, c, ft)
	assert.Empty(t, matched)
}

func TestSearchTimeoutReturnsVerbatimMessage(t *testing.T) {
	c, ft := newTestConn(t)
	s, payload := startWaitingSearch(t, c, ft)

	timedOut := make(chan Timeout, 1)
	s.OnTimedOut(func(to Timeout) { timedOut <- to })

	const serverMsg = "No one found nearby within 10 minutes. Try widening your search."
	ft.push(t, EventMatchTimeout, MatchTimeoutEvent{RequestID: payload.RequestID, Message: serverMsg})

	select {
	case to := <-timedOut:
		assert.Equal(t, serverMsg, to.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback not invoked")
	}
	assert.Equal(t, SearchTimedOut, s.State())
}

func TestSearchDropsMismatchedRequestID(t *testing.T) {
	c, ft := newTestConn(t)
	s, payload := startWaitingSearch(t, c, ft)

	matched := make(chan Match, 2)
	s.OnMatched(func(m Match) { matched <- m })

	ft.push(t, EventMatchFound, MatchFoundEvent{
		RequestID: "someone-elses-request",
		ChatID:    "chat-0",
	})
	flush(t, c, ft)
	assert.Empty(t, matched)
	assert.Equal(t, SearchWaiting, s.State())

	ft.push(t, EventMatchFound, MatchFoundEvent{
		RequestID:        payload.RequestID,
		ChatID:           "chat-1",
		OtherDisplayName: "Bob",
	})
	select {
	case m := <-matched:
		assert.Equal(t, "chat-1", m.ChatID)
	case <-time.After(2 * time.Second):
		t.Fatal("match callback not invoked")
	}
}

func TestSearchCancelIgnoresLateResult(t *testing.T) {
	c, ft := newTestConn(t)
	s, payload := startWaitingSearch(t, c, ft)

	matched := make(chan Match, 1)
	s.OnMatched(func(m Match) { matched <- m })

	s.Cancel()
	ft.push(t, EventMatchFound, MatchFoundEvent{RequestID: payload.RequestID, ChatID: "chat-1"})
	flush(t, c, ft)
	assert.Empty(t, matched)
}

func TestMatchFoundWithoutWaitingAttempt(t *testing.T) {
	c, ft := newTestConn(t)

	// No attempt is waiting; a pushed match must change nothing.
	ft.push(t, EventMatchFound, MatchFoundEvent{ChatID: "orphan"})
	flush(t, c, ft)
	assert.Equal(t, StateConnected, c.State())
}

func TestSearchRejectsConcurrentAttempt(t *testing.T) {
	c, ft := newTestConn(t)
	first, payload := startWaitingSearch(t, c, ft)

	second, err := NewSearch(c, FixedLocator{Location: vilnius}, validRequest())
	require.NoError(t, err)
	err = second.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrorSearchActive, Code(err))
	assert.Equal(t, SearchErrored, second.State())
	assertNoFrame(t, ft, EventJoinPool)

	// Resolving the first attempt frees the connection for a new one.
	matched := make(chan Match, 1)
	first.OnMatched(func(m Match) { matched <- m })
	ft.push(t, EventMatchFound, MatchFoundEvent{RequestID: payload.RequestID, ChatID: "chat-1"})
	select {
	case <-matched:
	case <-time.After(2 * time.Second):
		t.Fatal("match callback not invoked")
	}

	third, err := NewSearch(c, FixedLocator{Location: vilnius}, validRequest())
	require.NoError(t, err)
	require.NoError(t, third.Start(context.Background()))
	awaitFrame(t, ft, EventJoinPool)
}

func TestSearchDisconnectWhileWaitingStaysPending(t *testing.T) {
	c, ft := newTestConn(t)
	s, _ := startWaitingSearch(t, c, ft)

	surfaced := make(chan error, 1)
	s.OnError(func(err error) { surfaced <- err })

	_ = ft.Close(websocket.StatusAbnormalClosure, "network gone")

	select {
	case err := <-surfaced:
		assert.Equal(t, ErrorConnectionLost, Code(err))
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss not surfaced")
	}
	// The attempt is not auto-resolved; it stays pending until a late
	// event or an explicit cancel.
	assert.Equal(t, SearchWaiting, s.State())
	s.Cancel()
}
