// Package ipc implements the local-socket server (spec.md §4.6): one
// goroutine per accepted connection, a version-gated init handshake,
// and mode-tagged processors (Command/Intercept/Subscribe/CodeStream/
// PluginService) dispatched uniformly, per spec.md §9 "dynamic
// dispatch over processor kinds is a tagged variant with a uniform
// process(connection) operation, not inheritance."
package ipc

import "fmt"

// Mode names the kind of session a client requests at init time.
type Mode string

const (
	ModeCommand       Mode = "Command"
	ModeIntercept     Mode = "Intercept"
	ModeSubscribe     Mode = "Subscribe"
	ModeCodeStream    Mode = "CodeStream"
	ModePluginService Mode = "PluginService"
)

// SubscriptionMode selects how a Subscribe-mode connection receives
// updates (spec.md §3 "Subscription").
type SubscriptionMode string

const (
	SubscriptionFull  SubscriptionMode = "Full"
	SubscriptionPatch SubscriptionMode = "Patch"
)

// Protocol version window (spec.md §6 "Protocol version gate"). The
// job-layers patch suppression named there applies below version 11.
const (
	MinimumProtocolVersion = 8
	CurrentProtocolVersion = 12

	JobLayersMinVersion = 11
)

// ServerInitMessage is the first line sent to every new connection
// (spec.md §4.6 step 1).
type ServerInitMessage struct {
	Id string `json:"Id"`
}

// ClientInitMessage is the line the client replies with (spec.md §4.6
// step 2).
type ClientInitMessage struct {
	Version int  `json:"Version"`
	Mode    Mode `json:"Mode"`

	// Subscribe mode only.
	SubscriptionMode SubscriptionMode `json:"SubscriptionMode,omitempty"`
	Filters          []Filter         `json:"Filters,omitempty"`
}

// APIError is the typed error shape for failed Command/Intercept/
// PluginService replies and init-time rejections (spec.md §6).
type APIError struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Type, e.Message) }

// ErrIncompatibleVersion is returned (wrapped in an APIError) when a
// client's declared protocol version falls outside
// [MinimumProtocolVersion, CurrentProtocolVersion].
func ErrIncompatibleVersion(got int) *APIError {
	return &APIError{
		Type:    "IncompatibleVersion",
		Message: fmt.Sprintf("protocol version %d outside [%d, %d]", got, MinimumProtocolVersion, CurrentProtocolVersion),
	}
}

// Envelope is the JSON message shape for Command, Intercept, and
// PluginService modes (spec.md §6 "IPC endpoint"). It carries no
// length prefix of its own; see EnvelopeProcessor for framing.
type Envelope struct {
	Command string      `json:"Command"`
	Args    interface{} `json:"Args,omitempty"`
}

// Reply is the server's response envelope to a Command/Intercept/
// PluginService request.
type Reply struct {
	Success bool        `json:"Success"`
	Result  interface{} `json:"Result,omitempty"`
	Error   *APIError   `json:"Error,omitempty"`
}

// Acknowledge is the only client-to-server message shape in Subscribe
// mode (spec.md §6).
type Acknowledge struct {
	Acknowledge bool `json:"Acknowledge"`
}
