// Package protocol defines the transport-agnostic message envelope exchanged
// between paired devices.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
)

// Recognized envelope actions. Senders running a newer or older app version
// may legitimately emit actions we do not know; those are logged and ignored.
const (
	ActionRequestPrograms = "requestPrograms"
	ActionProgramsUpdated = "programsUpdated"
	ActionSyncPrograms    = "syncPrograms"
	ActionSaveSession     = "saveSession"
	ActionPing            = "ping"
)

var (
	// ErrMalformedPayload indicates the envelope or its payload could not be decoded.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnknownAction indicates an action this version does not recognize.
	ErrUnknownAction = errors.New("unknown action")
)

// Envelope is the key/value map carried by the connectivity channel. Payload,
// when present, is base64-encoded JSON so the envelope survives transports
// that only pass string values.
type Envelope struct {
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"requestID,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// CatalogSnapshot is the payload for catalog pulls and pushes.
type CatalogSnapshot struct {
	Count     int              `json:"count"`
	Timestamp time.Time        `json:"timestamp"`
	Programs  []domain.Program `json:"programs"`
}

// NewCatalogSnapshot stamps a snapshot of the given catalog.
func NewCatalogSnapshot(catalog []domain.Program, at time.Time) CatalogSnapshot {
	return CatalogSnapshot{
		Count:     len(catalog),
		Timestamp: at.UTC(),
		Programs:  catalog,
	}
}

// SessionPush is the payload for saveSession messages.
type SessionPush struct {
	Session domain.Session `json:"session"`
}

// SessionAck optionally acknowledges a saveSession push.
type SessionAck struct {
	SessionID string `json:"session_id"`
	Duplicate bool   `json:"duplicate"`
}

// PingAck is the required reply to a liveness probe.
type PingAck struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// NewPingAck builds the alive reply.
func NewPingAck(at time.Time) PingAck {
	return PingAck{Status: "alive", Timestamp: at.UTC().Unix()}
}

// NewEnvelope wraps the payload in an envelope stamped at the given time.
// A nil payload produces an envelope with no payload field.
func NewEnvelope(action string, at time.Time, payload any) (Envelope, error) {
	env := Envelope{Action: action, Timestamp: at.UTC().Unix()}
	if payload == nil {
		return env, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", action, err)
	}
	env.Payload = base64.StdEncoding.EncodeToString(body)
	return env, nil
}

// DecodePayload unpacks the base64 JSON payload into v.
func (e Envelope) DecodePayload(v any) error {
	if e.Payload == "" {
		return fmt.Errorf("%w: empty payload for action %q", ErrMalformedPayload, e.Action)
	}
	body, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses an envelope off the wire. An envelope without an
// action is malformed regardless of the rest of its contents.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Action == "" {
		return Envelope{}, fmt.Errorf("%w: missing action", ErrMalformedPayload)
	}
	return env, nil
}
