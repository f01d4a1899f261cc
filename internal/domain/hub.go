package domain

import (
	"context"
	"encoding/json"
	"time"
)

// HubState is the connection state of the duplex hub channel.
type HubState int32

const (
	HubDisconnected HubState = iota
	HubConnecting
	HubConnected
	HubReconnecting
	HubClosed
)

func (s HubState) String() string {
	switch s {
	case HubDisconnected:
		return "disconnected"
	case HubConnecting:
		return "connecting"
	case HubConnected:
		return "connected"
	case HubReconnecting:
		return "reconnecting"
	case HubClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HubHandler receives the raw arguments of a named inbound hub event.
type HubHandler func(args []json.RawMessage)

// Hub is a live duplex connection to the platform hub. Implementations
// supervise the underlying channel (automatic reconnect) for the lifetime
// of the connection handle.
type Hub interface {
	// Send issues a fire-and-forget remote invocation. A failure is
	// returned to the caller, never swallowed; callers decide whether it
	// is fatal to the operation that issued it.
	Send(ctx context.Context, target string, args ...any) error
	// On registers the handler for a named inbound event. One handler per
	// event name is expected for the lifetime of the connection.
	On(target string, handler HubHandler)
	State() HubState
	// Close tears the channel down. Closing an already-closed connection
	// is a caller error.
	Close() error
}

// HubCredentials authenticate a hub connection attempt.
type HubCredentials struct {
	Authorization string // full bearer string ("res <userID>:<token>")
	MachineID     string // stable per-process client identifier
}

// HubDialer establishes hub connections.
type HubDialer interface {
	Dial(ctx context.Context, creds HubCredentials) (Hub, error)
}

// UserSession is an authenticated platform session credential.
type UserSession struct {
	UserID string    `json:"userId"`
	Token  string    `json:"token"`
	Expire time.Time `json:"expire"`
}

// SessionAPI is the REST surface used to acquire, extend and revoke a
// session credential and to read contact records.
type SessionAPI interface {
	Login(ctx context.Context, username, password, totp, machineID string) (*UserSession, error)
	Extend(ctx context.Context, authorization string) error
	Logout(ctx context.Context, userID, token, authorization string) error
	Contacts(ctx context.Context, userID, authorization string) ([]Contact, error)
	User(ctx context.Context, id string) (*User, error)
}
