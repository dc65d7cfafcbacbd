package proxichat

import "time"

// Config controls how the SDK connects.
type Config struct {
	// URL is the websocket endpoint of the event channel.
	URL string

	// DisplayName is the default name used for search attempts when the
	// request leaves it empty.
	DisplayName string

	// RESTBaseURL, when set, enables the recent-chats REST client on
	// the connection, e.g. "http://localhost:8080".
	RESTBaseURL string

	HandshakeTimeout time.Duration
	// ReadTimeout of zero disables the read deadline. A search can
	// legitimately sit idle for up to an hour waiting for a match, so
	// zero is the default; servers handle idle detection with
	// ping/pong.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// EmitBuffer is the capacity of the outgoing frame queue.
	EmitBuffer int

	// EchoDedupWindow, when positive, drops an inbound message that
	// repeats a recently sent own message (same chat, same text) within
	// the window. Needed only against servers that echo the sender's
	// own messages back. Zero disables deduplication.
	EchoDedupWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DisplayName:      DefaultDisplayName,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		EmitBuffer:       16,
	}
}

// Validate reports obviously unusable configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	return nil
}
