package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/proxichat/proxichat-sdk-go/proxichat/rest"
)

// Store keeps chat rooms and recent-chat summaries in memory for the
// lifetime of the process. Nothing is persisted; restarting the server
// forgets all sessions.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	chatID string
	// members maps connection id to display name in join order; the
	// order matters only for the unscoped dev listing below.
	members     map[string]string
	joinOrder   []string
	createdAt   time.Time
	lastMessage string
	lastAt      time.Time
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*room)}
}

// CreateRoom registers a freshly matched pair.
func (s *Store) CreateRoom(chatID string, a, b Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[chatID] = &room{
		chatID:    chatID,
		members:   map[string]string{a.ConnID: a.DisplayName, b.ConnID: b.DisplayName},
		joinOrder: []string{a.ConnID, b.ConnID},
		createdAt: time.Now(),
	}
}

// JoinRoom adds a connection to a room, creating the room when the
// chatID is unknown so that re-opened sessions survive a server
// restart on the client side.
func (s *Store) JoinRoom(chatID, connID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[chatID]
	if !ok {
		r = &room{
			chatID:    chatID,
			members:   make(map[string]string),
			createdAt: time.Now(),
		}
		s.rooms[chatID] = r
	}
	if _, known := r.members[connID]; !known {
		r.joinOrder = append(r.joinOrder, connID)
	}
	r.members[connID] = displayName
}

// Peers returns the connection ids of the other members of a room.
// The sender is excluded: the dev server never echoes a message back.
func (s *Store) Peers(chatID, fromConnID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[chatID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != fromConnID {
			out = append(out, id)
		}
	}
	return out
}

// RecordMessage updates the room's recent-chat summary fields.
func (s *Store) RecordMessage(chatID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[chatID]; ok {
		r.lastMessage = text
		r.lastAt = time.Now()
	}
}

// Summaries lists all rooms, most recently active first. The dev
// listing is unscoped (no identity), so the shown name is simply the
// most recently joined member.
func (s *Store) Summaries() []rest.ChatSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]rest.ChatSummary, 0, len(s.rooms))
	for _, r := range s.rooms {
		sum := rest.ChatSummary{
			ChatID:      r.chatID,
			LastMessage: r.lastMessage,
		}
		if n := len(r.joinOrder); n > 0 {
			sum.OtherDisplayName = r.members[r.joinOrder[n-1]]
		}
		at := r.lastAt
		if at.IsZero() {
			at = r.createdAt
		}
		ts := at
		sum.Timestamp = &ts
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(*out[j].Timestamp)
	})
	return out
}
