package domain

import (
	"encoding/json"
	"time"
)

const (
	TypeHeartbeat = "heartbeat"
	TypePresence  = "presence"
	TypeHandshake = "handshake"
	TypeError     = "error"
)

// Broadcast event names.
const (
	EventBecameOnline  = "presence.online"
	EventBecameOffline = "presence.offline"
)

// HandshakeResponse is sent once on connect.
type HandshakeResponse struct {
	Type         string `json:"type"` // "handshake"
	AccountID    string `json:"account_id"`
	ConnectionID string `json:"connection_id"`
}

// ClientFrame is the minimal envelope a client sends over the socket.
type ClientFrame struct {
	Type string `json:"type"`
}

// PresenceEvent is pushed to the audience of an account on a transition.
type PresenceEvent struct {
	Type         string     `json:"type"` // "presence"
	Event        string     `json:"event"`
	AccountID    string     `json:"account_id"`
	IsOnline     bool       `json:"is_online"`
	LastOnlineAt *time.Time `json:"last_online_at,omitempty"`
}

// Envelope carries one notification between instances. Every instance
// delivers Payload to whichever audience members it holds sockets for.
type Envelope struct {
	Audience []string        `json:"audience"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
}

// ErrorMessage is WS-safe error
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}
