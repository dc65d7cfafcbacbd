package rest

import "time"

// ChatSummary is one entry of the recent-sessions listing.
type ChatSummary struct {
	ChatID           string     `json:"chatId"`
	OtherDisplayName string     `json:"otherDisplayName"`
	LastMessage      string     `json:"lastMessage,omitempty"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
	UnreadCount      int        `json:"unreadCount,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
