/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package wire defines the framed JSON message protocol spoken between the
// coordinator and each recording device.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is offered during handshake; devices on an incompatible
// major version are rejected rather than half-understood.
const ProtocolVersion = "1.0"

// MaxMessageSize is the hard cap on one encoded message, envelope included.
const MaxMessageSize = 1 << 20 // 1 MiB

// MessageType discriminates the envelope payload.
type MessageType string

const (
	TypeHandshake             MessageType = "handshake"
	TypeCommand               MessageType = "command"
	TypeAcknowledgment        MessageType = "acknowledgment"
	TypeFrame                 MessageType = "frame"
	TypeStatus                MessageType = "status"
	TypeHeartbeat             MessageType = "heartbeat"
	TypeCapabilityNegotiation MessageType = "capability_negotiation"
	TypeCapabilityResponse    MessageType = "capability_response"
	TypeError                 MessageType = "error"
	TypeDisconnect            MessageType = "disconnect"
)

// knownTypes guards decoding; an unknown type degrades to a typed error so
// version skew never crashes the coordinator.
var knownTypes = map[MessageType]struct{}{
	TypeHandshake:             {},
	TypeCommand:               {},
	TypeAcknowledgment:        {},
	TypeFrame:                 {},
	TypeStatus:                {},
	TypeHeartbeat:             {},
	TypeCapabilityNegotiation: {},
	TypeCapabilityResponse:    {},
	TypeError:                 {},
	TypeDisconnect:            {},
}

// Message is the wire envelope. Timestamp is fractional seconds since the
// Unix epoch in the sender's clock. A message is immutable once constructed;
// each maps to exactly one logical event.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp float64         `json:"timestamp"`
	MessageID string          `json:"message_id"`
	Version   string          `json:"version"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// New builds a message of the given type around a payload struct, stamping
// it with a fresh UUID and the current coordinator clock.
func New(msgType MessageType, payload interface{}) (*Message, error) {
	m := &Message{
		Type:      msgType,
		Timestamp: ToTimestamp(time.Now()),
		MessageID: uuid.NewString(),
		Version:   ProtocolVersion,
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}

		m.Payload = data
	}

	return m, nil
}

// DecodePayload unmarshals the type-specific payload into dst.
func (m *Message) DecodePayload(dst interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyPayload, m.Type)
	}

	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}

	return nil
}

// ToTimestamp converts a time to the wire representation.
func ToTimestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromTimestamp converts a wire timestamp back to a time.
func FromTimestamp(ts float64) time.Time {
	return time.Unix(0, int64(ts*float64(time.Second)))
}

// HandshakePayload opens a device session.
type HandshakePayload struct {
	DeviceName   string   `json:"device_name"`
	Transport    string   `json:"transport,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Version      string   `json:"version"`
}

// CommandPayload carries a coordinator instruction to a device.
type CommandPayload struct {
	Command    string          `json:"command"`
	RequireAck bool            `json:"require_ack,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// AckPayload acknowledges a prior message by id.
type AckPayload struct {
	RelatedID string          `json:"related_id"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FramePayload carries one sensor or image frame.
type FramePayload struct {
	Sequence  uint64 `json:"sequence"`
	Encoding  string `json:"encoding,omitempty"`
	Checksum  string `json:"checksum,omitempty"`
	Data      []byte `json:"data"`
	DeviceKey string `json:"device_key,omitempty"`
}

// StatusPayload is a free-form device status update.
type StatusPayload struct {
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Battery int    `json:"battery,omitempty"`
}

// HeartbeatPayload is a periodic liveness signal, independent of data.
type HeartbeatPayload struct {
	SentAt float64 `json:"sent_at"`
}

// CapabilityPayload lists feature strings during negotiation.
type CapabilityPayload struct {
	Capabilities []string `json:"capabilities"`
}

// ErrorSeverity grades protocol error payloads.
type ErrorSeverity string

const (
	SeverityWarning ErrorSeverity = "warning"
	SeverityError   ErrorSeverity = "error"
	SeverityFatal   ErrorSeverity = "fatal"
)

// ErrorPayload reports a failure, optionally tied to a prior message.
type ErrorPayload struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Severity  ErrorSeverity `json:"severity"`
	RelatedID string        `json:"related_id,omitempty"`
}

// DisconnectPayload announces an orderly shutdown of the session.
type DisconnectPayload struct {
	Reason string `json:"reason,omitempty"`
}

// TimeProbePayload is the device-side answer to a time_probe command: the
// device clock at request receipt and at response transmission, both in
// fractional seconds of the device clock.
type TimeProbePayload struct {
	DeviceRecv float64 `json:"device_recv"`
	DeviceSend float64 `json:"device_send"`
}
