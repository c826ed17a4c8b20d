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

package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsEnvelope(t *testing.T) {
	m, err := New(TypeHeartbeat, HeartbeatPayload{SentAt: 12345.5})
	require.NoError(t, err)

	assert.Equal(t, TypeHeartbeat, m.Type)
	assert.Equal(t, ProtocolVersion, m.Version)
	assert.Greater(t, m.Timestamp, float64(0))

	_, err = uuid.Parse(m.MessageID)
	require.NoError(t, err, "message id must be a UUID")

	var hb HeartbeatPayload
	require.NoError(t, m.DecodePayload(&hb))
	assert.InDelta(t, 12345.5, hb.SentAt, 1e-9)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m, err := New(TypeCommand, CommandPayload{Command: "start_recording", RequireAck: true})
	require.NoError(t, err)

	data, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, m.Type, decoded.Type)
	assert.Equal(t, m.MessageID, decoded.MessageID)
	assert.Equal(t, m.Version, decoded.Version)

	var cmd CommandPayload
	require.NoError(t, decoded.DecodePayload(&cmd))
	assert.Equal(t, "start_recording", cmd.Command)
	assert.True(t, cmd.RequireAck)
}

func TestEncodeRejectsMissingFields(t *testing.T) {
	base := func() *Message {
		return &Message{
			Type:      TypeStatus,
			Timestamp: ToTimestamp(time.Now()),
			MessageID: uuid.NewString(),
			Version:   ProtocolVersion,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Message)
		want   error
	}{
		{"missing type", func(m *Message) { m.Type = "" }, ErrMissingType},
		{"missing id", func(m *Message) { m.MessageID = "" }, ErrMissingMessageID},
		{"missing version", func(m *Message) { m.Version = "" }, ErrMissingVersion},
		{"missing timestamp", func(m *Message) { m.Timestamp = 0 }, ErrMissingTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)

			_, err := Encode(m)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestEncodeRejectsOversize(t *testing.T) {
	m, err := New(TypeFrame, FramePayload{Data: bytes.Repeat([]byte{0xAB}, MaxMessageSize)})
	require.NoError(t, err)

	_, err = Encode(m)

	var oversize *OversizeError
	require.ErrorAs(t, err, &oversize)
	assert.Greater(t, oversize.Size, MaxMessageSize)
}

func TestDecodeRejectsOversizeBeforeParsing(t *testing.T) {
	// Not even valid JSON: the size check must fire first.
	data := bytes.Repeat([]byte{'x'}, MaxMessageSize+1)

	_, err := Decode(data)

	var oversize *OversizeError
	require.ErrorAs(t, err, &oversize)
}

func TestDecodeUnknownTypeIsTyped(t *testing.T) {
	m := &Message{
		Type:      "telepathy",
		Timestamp: ToTimestamp(time.Now()),
		MessageID: uuid.NewString(),
		Version:   ProtocolVersion,
	}

	data, err := Encode(m)
	require.NoError(t, err)

	_, err = Decode(data)

	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "telepathy", unknown.Type)
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123456000)

	ts := ToTimestamp(now)
	back := FromTimestamp(ts)

	assert.WithinDuration(t, now, back, time.Microsecond)
}

func TestConnReadWrite(t *testing.T) {
	client, server := net.Pipe()
	a := NewConn(client)
	b := NewConn(server)

	defer func() {
		_ = a.Close()
		_ = b.Close()
	}()

	sent, err := New(TypeStatus, StatusPayload{State: "idle", Battery: 80})
	require.NoError(t, err)

	errCh := make(chan error, 1)

	go func() {
		errCh <- a.WriteMessage(context.Background(), sent)
	}()

	got, err := b.ReadMessage(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, sent.MessageID, got.MessageID)

	var status StatusPayload
	require.NoError(t, got.DecodePayload(&status))
	assert.Equal(t, "idle", status.State)
	assert.Equal(t, 80, status.Battery)
}

func TestConnRejectsOversizeHeader(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConn(server)

	defer func() {
		_ = client.Close()
		_ = conn.Close()
	}()

	// A frame header declaring 2 MiB: rejected before any body is read.
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 2<<20)

	go func() {
		_, _ = client.Write(header[:])
	}()

	_, err := conn.ReadMessage(context.Background())

	var oversize *OversizeError
	require.ErrorAs(t, err, &oversize)
	assert.Equal(t, 2<<20, oversize.Size)
}

func TestConnReadHonorsContextDeadline(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConn(server)

	defer func() {
		_ = client.Close()
		_ = conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.ReadMessage(ctx)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "expiry must surface as an error, not a hang")
}

func TestConnClosedIsSentinel(t *testing.T) {
	client, server := net.Pipe()
	conn := NewConn(server)

	_ = client.Close()
	require.NoError(t, conn.Close())

	_, err := conn.ReadMessage(context.Background())
	require.ErrorIs(t, err, ErrConnClosed)

	m, err := New(TypeHeartbeat, HeartbeatPayload{SentAt: 1})
	require.NoError(t, err)

	err = conn.WriteMessage(context.Background(), m)
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestDecodePayloadEmpty(t *testing.T) {
	m := &Message{
		Type:      TypeHeartbeat,
		Timestamp: ToTimestamp(time.Now()),
		MessageID: uuid.NewString(),
		Version:   ProtocolVersion,
	}

	var hb HeartbeatPayload
	require.ErrorIs(t, m.DecodePayload(&hb), ErrEmptyPayload)
}
