// Package protocol defines the client-facing gateway wire protocol: a
// subset of the upstream platform's opcodes, sufficient for HELLO,
// IDENTIFY, heartbeating, and dispatch.
package protocol

import "encoding/json"

// Opcode is a gateway payload's "op" field.
type Opcode int

const (
	OpDispatch          Opcode = 0
	OpHeartbeat         Opcode = 1
	OpIdentify          Opcode = 2
	OpResume            Opcode = 6
	OpInvalidSession    Opcode = 9
	OpHello             Opcode = 10
	OpHeartbeatACK      Opcode = 11
)

// HelloIntervalMillis is the heartbeat_interval advertised in HELLO.
const HelloIntervalMillis = 41250

// Dispatch event names the core special-cases by name: READY and
// RESUMED are never broadcast, and the GUILD_* events also update the
// shard's guild tracker.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"

	EventGuildCreate = "GUILD_CREATE"
	EventGuildUpdate = "GUILD_UPDATE"
	EventGuildDelete = "GUILD_DELETE"
)

// Envelope is the minimal shape every gateway payload shares. Only `Op`
// and (for dispatch) `T`/`S` are read on the hot path; `D` is left as
// raw JSON so callers decide whether to decode it further.
type Envelope struct {
	Op Opcode          `json:"op"`
	T  *string         `json:"t"`
	S  *int64          `json:"s"`
	D  json.RawMessage `json:"d,omitempty"`
}

// HelloPayload is the `d` body of an op=10 HELLO.
type HelloPayload struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// Hello renders the HELLO control frame as text.
func Hello() string {
	return `{"t":null,"s":null,"op":10,"d":{"heartbeat_interval":41250}}`
}

// HeartbeatACK renders the HEARTBEAT_ACK control frame as text.
func HeartbeatACK() string {
	return `{"t":null,"s":null,"op":11,"d":null}`
}

// InvalidSession renders the INVALID_SESSION control frame as text.
func InvalidSession() string {
	return `{"t":null,"s":null,"op":9,"d":false}`
}

// IdentifyPayload is the `d` body of an op=2 IDENTIFY frame.
type IdentifyPayload struct {
	Token    string `json:"token"`
	Shard    [2]int `json:"shard"`
	Compress bool   `json:"compress"`
}

// IdentifyFrame is the full op=2 envelope, used only to reach `d`
// without a second parse of the outer envelope.
type IdentifyFrame struct {
	Op Opcode          `json:"op"`
	D  IdentifyPayload `json:"d"`
}

// OpcodeOnly extracts just the `op` field from a raw frame, avoiding a
// full decode on the hot path (heartbeats and forwarded commands never
// need more than this).
type OpcodeOnly struct {
	Op Opcode `json:"op"`
}
