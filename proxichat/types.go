package proxichat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event names on the wire. These are part of the server contract and
// must match exactly.
const (
	EventJoinPool       = "join-pool"
	EventMatchFound     = "match-found"
	EventMatchTimeout   = "match-timeout"
	EventJoinChat       = "join-chat"
	EventSendMessage    = "send-message"
	EventReceiveMessage = "receive-message"

	// Synthetic events surfaced locally for diagnostics. "connect" is
	// also the first frame the server pushes after accepting.
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// SearchRequest bounds.
const (
	MinRadiusKm     = 1
	MaxRadiusKm     = 50
	MinDurationMin  = 5
	MaxDurationMin  = 60
	DurationStepMin = 5

	MaxMessageLen = 500

	DefaultDisplayName = "Anonymous"
)

// Frame is the envelope used in both directions: an event name plus a
// JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a Frame for the given event.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, WrapError(ErrorSerialization, "marshal "+event+" payload", err)
	}
	return Frame{Event: event, Data: data}, nil
}

// UnmarshalData decodes a frame payload into target.
func UnmarshalData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}

// ConnectInfo is the payload of the server's connect frame.
type ConnectInfo struct {
	ConnectionID string `json:"connectionId"`
}

// JoinPoolPayload registers the client as a matching candidate.
// Radius and duration are numeric on the wire, never strings.
type JoinPoolPayload struct {
	RequestID   string  `json:"requestId,omitempty"`
	DisplayName string  `json:"displayName,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	RadiusKm    int     `json:"radiusKm"`
	DurationMin int     `json:"durationMin"`
}

// MatchFoundEvent announces a resolved pairing. RequestID is echoed by
// servers that support explicit correlation; clients tolerate its
// absence.
type MatchFoundEvent struct {
	RequestID        string `json:"requestId,omitempty"`
	ChatID           string `json:"chatId"`
	OtherDisplayName string `json:"otherDisplayName"`
}

// MatchTimeoutEvent announces that no peer was found in time.
type MatchTimeoutEvent struct {
	RequestID string `json:"requestId,omitempty"`
	Message   string `json:"message"`
}

// JoinChatPayload joins the room for a session.
type JoinChatPayload struct {
	ChatID string `json:"chatId"`
}

// SendMessagePayload carries an outgoing chat message.
type SendMessagePayload struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

// ReceiveMessageEvent delivers a chat message. Sender is the display
// name chosen by the sending peer; the client labels messages self or
// peer locally and does not trust this field for ordering or identity.
type ReceiveMessageEvent struct {
	ChatID string `json:"chatId"`
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// SearchRequest is a user's intent to be matched. Latitude and
// longitude are acquired separately through a Locator and are not part
// of the request the user fills in.
type SearchRequest struct {
	DisplayName string
	RadiusKm    int
	DurationMin int
}

// Normalize fills defaults; empty display names become "Anonymous".
func (r SearchRequest) Normalize() SearchRequest {
	if strings.TrimSpace(r.DisplayName) == "" {
		r.DisplayName = DefaultDisplayName
	}
	return r
}

// Validate checks the request against the protocol bounds.
func (r SearchRequest) Validate() error {
	if r.RadiusKm < MinRadiusKm || r.RadiusKm > MaxRadiusKm {
		return NewError(ErrorInvalidRequest,
			fmt.Sprintf("radiusKm %d out of range [%d,%d]", r.RadiusKm, MinRadiusKm, MaxRadiusKm))
	}
	if r.DurationMin < MinDurationMin || r.DurationMin > MaxDurationMin || r.DurationMin%DurationStepMin != 0 {
		return NewError(ErrorInvalidRequest,
			fmt.Sprintf("durationMin %d must be in [%d,%d] in steps of %d",
				r.DurationMin, MinDurationMin, MaxDurationMin, DurationStepMin))
	}
	return nil
}

// Match is a resolved pairing.
type Match struct {
	ChatID           string
	OtherDisplayName string
}

// Timeout is a resolved non-pairing; Message is shown to the user
// verbatim.
type Timeout struct {
	Message string
}

// Sender labels who produced a transcript entry.
type Sender int

const (
	SenderSelf Sender = iota
	SenderPeer
)

func (s Sender) String() string {
	switch s {
	case SenderSelf:
		return "self"
	case SenderPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// Message is one entry in a chat transcript. Timestamp is assigned by
// this client at send or receipt time; it is display metadata only and
// never used for ordering.
type Message struct {
	ChatID    string    `json:"chatId"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
