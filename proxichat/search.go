package proxichat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Search drives one matching attempt through the sequence
// permission -> location fix -> pool join -> match or timeout.
// An instance is single-use: a new attempt means a new Search, which
// resets the join-guard and acquires fresh event handlers.
//
// Outcomes are delivered through the OnMatched / OnTimedOut / OnError
// callbacks from the connection's read loop. At most one outcome is
// delivered; events arriving after the attempt resolved or was
// cancelled are dropped.
type Search struct {
	conn      *Conn
	loc       Locator
	req       SearchRequest
	requestID string
	logger    Logger

	// joined is the join-guard: re-entrant invocations of the async
	// chain must not emit a second join-pool for the same attempt, and
	// once it is set they must not touch the attempt's state either.
	joined atomic.Bool

	mu      sync.Mutex
	state   SearchState
	sub     *Subscription
	done    bool
	claimed bool

	onState   func(SearchState)
	onMatched func(Match)
	onTimeout func(Timeout)
	onError   func(error)
}

// NewSearch validates the request and prepares an attempt on the shared
// connection. The request's display name falls back to the connection's
// configured one, then to "Anonymous".
func NewSearch(conn *Conn, loc Locator, req SearchRequest) (*Search, error) {
	if req.DisplayName == "" {
		req.DisplayName = conn.cfg.DisplayName
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &Search{
		conn:      conn,
		loc:       loc,
		req:       req,
		requestID: uuid.NewString(),
		logger:    conn.logger,
		state:     SearchIdle,
	}, nil
}

// OnStateChanged registers a callback for attempt progress, used by
// the matching screen for status text.
func (s *Search) OnStateChanged(fn func(SearchState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnMatched registers a callback for a successful pairing.
func (s *Search) OnMatched(fn func(Match)) {
	s.mu.Lock()
	s.onMatched = fn
	s.mu.Unlock()
}

// OnTimedOut registers a callback for a server-declared timeout.
func (s *Search) OnTimedOut(fn func(Timeout)) {
	s.mu.Lock()
	s.onTimeout = fn
	s.mu.Unlock()
}

// OnError registers a callback for attempt failures. While waiting, a
// connection drop is surfaced here without resolving the attempt.
func (s *Search) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// State returns the current attempt state.
func (s *Search) State() SearchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestID returns the correlation id sent with join-pool.
func (s *Search) RequestID() string { return s.requestID }

// Start runs the attempt up to the waiting state: request permission,
// acquire a location fix, emit exactly one join-pool. It returns once
// the attempt is waiting; the outcome arrives via callbacks. A
// re-entered invocation, concurrent or after the attempt reached
// waiting, is absorbed by the join-guard and returns nil without
// emitting or touching the attempt's state. Starting a separate
// attempt while one is already in flight on the same connection fails
// with ErrorSearchActive.
func (s *Search) Start(ctx context.Context) error {
	if !s.advance(SearchRequestingPermission) {
		return nil
	}
	if err := s.loc.RequestPermission(ctx); err != nil {
		ferr := WrapError(ErrorPermissionDenied, "location permission required", err)
		s.failPreJoin(ferr)
		return ferr
	}

	if !s.advance(SearchAcquiringLocation) {
		return nil
	}
	fix, err := s.loc.CurrentLocation(ctx)
	if err != nil {
		ferr := WrapError(ErrorAcquisitionFailed, "no location fix obtainable", err)
		s.failPreJoin(ferr)
		return ferr
	}

	if !s.joined.CompareAndSwap(false, true) {
		return nil
	}
	if !s.conn.claimSearch() {
		ferr := NewError(ErrorSearchActive, "another matching attempt is already in flight")
		s.fail(ferr)
		return ferr
	}

	s.mu.Lock()
	if s.done {
		// Cancelled while suspended on the location fix.
		s.mu.Unlock()
		s.conn.releaseSearch()
		return nil
	}
	s.claimed = true
	s.state = SearchJoining
	s.sub = s.conn.Subscribe(map[string]func(json.RawMessage){
		EventMatchFound:   s.handleMatch,
		EventMatchTimeout: s.handleTimeout,
		EventDisconnect:   s.handleDisconnect,
	})
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(SearchJoining)
	}

	payload := JoinPoolPayload{
		RequestID:   s.requestID,
		DisplayName: s.req.DisplayName,
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		RadiusKm:    s.req.RadiusKm,
		DurationMin: s.req.DurationMin,
	}
	if err := s.conn.Emit(ctx, EventJoinPool, payload); err != nil {
		s.fail(err)
		return err
	}
	s.logger.Debug("joined pool", map[string]any{
		"request_id": s.requestID,
		"radius_km":  s.req.RadiusKm,
	})

	s.setState(SearchWaiting)
	return nil
}

// Cancel abandons the attempt: handlers are detached and any late
// result is ignored. Nothing is sent to the server.
func (s *Search) Cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	sub := s.sub
	s.sub = nil
	claimed := s.claimed
	s.claimed = false
	s.mu.Unlock()
	sub.Close()
	if claimed {
		s.conn.releaseSearch()
	}
}

func (s *Search) handleMatch(data json.RawMessage) {
	var ev MatchFoundEvent
	if err := UnmarshalData(data, &ev); err != nil {
		s.logger.Warn("bad match-found payload", map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if s.done || s.state != SearchWaiting {
		s.mu.Unlock()
		return
	}
	if ev.RequestID != "" && ev.RequestID != s.requestID {
		s.mu.Unlock()
		s.logger.Debug("dropping stale match-found", map[string]any{"request_id": ev.RequestID})
		return
	}
	s.done = true
	s.state = SearchMatched
	sub := s.sub
	s.sub = nil
	claimed := s.claimed
	s.claimed = false
	cbState, cbMatch := s.onState, s.onMatched
	s.mu.Unlock()

	sub.Close()
	if claimed {
		s.conn.releaseSearch()
	}
	if cbState != nil {
		cbState(SearchMatched)
	}
	if cbMatch != nil {
		cbMatch(Match{ChatID: ev.ChatID, OtherDisplayName: ev.OtherDisplayName})
	}
}

func (s *Search) handleTimeout(data json.RawMessage) {
	var ev MatchTimeoutEvent
	if err := UnmarshalData(data, &ev); err != nil {
		s.logger.Warn("bad match-timeout payload", map[string]any{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if s.done || s.state != SearchWaiting {
		s.mu.Unlock()
		return
	}
	if ev.RequestID != "" && ev.RequestID != s.requestID {
		s.mu.Unlock()
		s.logger.Debug("dropping stale match-timeout", map[string]any{"request_id": ev.RequestID})
		return
	}
	s.done = true
	s.state = SearchTimedOut
	sub := s.sub
	s.sub = nil
	claimed := s.claimed
	s.claimed = false
	cbState, cbTimeout := s.onState, s.onTimeout
	s.mu.Unlock()

	sub.Close()
	if claimed {
		s.conn.releaseSearch()
	}
	if cbState != nil {
		cbState(SearchTimedOut)
	}
	if cbTimeout != nil {
		cbTimeout(Timeout{Message: ev.Message})
	}
}

func (s *Search) handleDisconnect(json.RawMessage) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if s.state == SearchWaiting {
		// The attempt stays pending; a late match or an explicit Cancel
		// resolves it. The drop is only surfaced.
		cb := s.onError
		s.mu.Unlock()
		if cb != nil {
			cb(NewError(ErrorConnectionLost, "channel dropped while waiting for a match"))
		}
		return
	}
	s.mu.Unlock()
	s.fail(NewError(ErrorConnectionLost, "channel dropped before join completed"))
}

// advance moves through a pre-join state and notifies the progress
// callback. It reports false when the attempt is done or has already
// joined the pool: a re-entered invocation of the chain must exit
// without touching the live attempt's state.
func (s *Search) advance(st SearchState) bool {
	s.mu.Lock()
	if s.done || s.joined.Load() {
		s.mu.Unlock()
		return false
	}
	s.state = st
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	return true
}

// failPreJoin resolves a locator failure, unless a concurrent entry of
// the chain already joined the pool, in which case the live attempt
// stays untouched.
func (s *Search) failPreJoin(err error) {
	if s.joined.Load() {
		return
	}
	s.fail(err)
}

// setState advances a non-terminal state and notifies the progress
// callback. No-op once the attempt is done.
func (s *Search) setState(st SearchState) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.state = st
	cb := s.onState
	s.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// fail resolves the attempt into the errored terminal state.
func (s *Search) fail(err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.state = SearchErrored
	sub := s.sub
	s.sub = nil
	claimed := s.claimed
	s.claimed = false
	cbState, cbErr := s.onState, s.onError
	s.mu.Unlock()

	sub.Close()
	if claimed {
		s.conn.releaseSearch()
	}
	if cbState != nil {
		cbState(SearchErrored)
	}
	if cbErr != nil {
		cbErr(err)
	}
}
