// Package devserver implements the server side of the session protocol
// for local development: an in-memory matching pool, chat rooms with
// rebroadcast to peers, and the recent-chats listing. It is an
// exerciser for the wire contract, not the production matcher.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/proxichat/proxichat-sdk-go/proxichat"
)

// Server wires the websocket endpoint, the pool and the room store.
type Server struct {
	cfg   Config
	log   *slog.Logger
	pool  *Pool
	store *Store

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	id   string
	send chan proxichat.Frame

	mu   sync.Mutex
	name string
}

func (c *client) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *client) displayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		return proxichat.DefaultDisplayName
	}
	return c.name
}

// New constructs a development server.
func New(cfg Config, log *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		store:   NewStore(),
		clients: make(map[string]*client),
	}
	s.pool = NewPool(s, cfg.TimeoutScale)
	return s
}

// Handler returns the HTTP handler: websocket endpoint, recent chats
// and health, wrapped with CORS for cross-origin mobile clients.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/chats", s.handleChats).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	}).Handler(r)
}

// Matched implements PoolEvents: create the room and tell both sides.
func (s *Server) Matched(chatID string, a, b Candidate) {
	s.store.CreateRoom(chatID, a, b)
	s.log.Info("pair matched",
		"chat_id", chatID, "a", a.DisplayName, "b", b.DisplayName)

	s.push(a.ConnID, proxichat.EventMatchFound, proxichat.MatchFoundEvent{
		RequestID:        a.RequestID,
		ChatID:           chatID,
		OtherDisplayName: b.DisplayName,
	})
	s.push(b.ConnID, proxichat.EventMatchFound, proxichat.MatchFoundEvent{
		RequestID:        b.RequestID,
		ChatID:           chatID,
		OtherDisplayName: a.DisplayName,
	})
}

// TimedOut implements PoolEvents.
func (s *Server) TimedOut(c Candidate) {
	s.log.Info("search timed out", "conn_id", c.ConnID, "radius_km", c.RadiusKm)
	s.push(c.ConnID, proxichat.EventMatchTimeout, proxichat.MatchTimeoutEvent{
		RequestID: c.RequestID,
		Message: fmt.Sprintf("No one found within %d km in %d minutes. Try widening your search.",
			c.RadiusKm, c.DurationMin),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) handleChats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.store.Summaries())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "bye")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cl := &client{id: uuid.NewString(), send: make(chan proxichat.Frame, 32)}
	s.addClient(cl)
	defer func() {
		s.removeClient(cl.id)
		s.pool.Leave(cl.id)
	}()
	s.log.Info("client connected", "conn_id", cl.id)

	go func() {
		for {
			select {
			case fr := <-cl.send:
				if err := wsjson.Write(ctx, ws, fr); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	s.push(cl.id, proxichat.EventConnect, proxichat.ConnectInfo{ConnectionID: cl.id})

	for {
		var fr proxichat.Frame
		if err := wsjson.Read(ctx, ws, &fr); err != nil {
			s.log.Info("client disconnected", "conn_id", cl.id)
			return
		}
		s.handleFrame(cl, fr)
	}
}

func (s *Server) handleFrame(cl *client, fr proxichat.Frame) {
	switch fr.Event {
	case proxichat.EventJoinPool:
		var p proxichat.JoinPoolPayload
		if err := proxichat.UnmarshalData(fr.Data, &p); err != nil {
			s.log.Warn("bad join-pool payload", "conn_id", cl.id, "error", err)
			return
		}
		if p.DisplayName != "" {
			cl.setName(p.DisplayName)
		}
		s.log.Info("join pool",
			"conn_id", cl.id, "radius_km", p.RadiusKm, "duration_min", p.DurationMin)
		s.pool.Join(Candidate{
			ConnID:      cl.id,
			RequestID:   p.RequestID,
			DisplayName: cl.displayName(),
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			RadiusKm:    p.RadiusKm,
			DurationMin: p.DurationMin,
		})

	case proxichat.EventJoinChat:
		var p proxichat.JoinChatPayload
		if err := proxichat.UnmarshalData(fr.Data, &p); err != nil {
			s.log.Warn("bad join-chat payload", "conn_id", cl.id, "error", err)
			return
		}
		s.store.JoinRoom(p.ChatID, cl.id, cl.displayName())

	case proxichat.EventSendMessage:
		var p proxichat.SendMessagePayload
		if err := proxichat.UnmarshalData(fr.Data, &p); err != nil {
			s.log.Warn("bad send-message payload", "conn_id", cl.id, "error", err)
			return
		}
		s.store.RecordMessage(p.ChatID, p.Text)
		for _, peerID := range s.store.Peers(p.ChatID, cl.id) {
			s.push(peerID, proxichat.EventReceiveMessage, proxichat.ReceiveMessageEvent{
				ChatID: p.ChatID,
				Sender: cl.displayName(),
				Text:   p.Text,
			})
		}

	default:
		s.log.Debug("unhandled event", "conn_id", cl.id, "event", fr.Event)
	}
}

func (s *Server) addClient(cl *client) {
	s.mu.Lock()
	s.clients[cl.id] = cl
	s.mu.Unlock()
}

func (s *Server) removeClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// push queues a frame for a client, dropping it when the client's
// queue is full or the client is gone.
func (s *Server) push(connID, event string, payload any) {
	s.mu.Lock()
	cl, ok := s.clients[connID]
	s.mu.Unlock()
	if !ok {
		return
	}
	fr, err := proxichat.NewFrame(event, payload)
	if err != nil {
		s.log.Error("frame marshal failed", "event", event, "error", err)
		return
	}
	select {
	case cl.send <- fr:
	default:
		s.log.Warn("dropping frame, client queue full", "conn_id", connID, "event", event)
	}
}
