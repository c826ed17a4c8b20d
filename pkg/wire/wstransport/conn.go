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

// Package wstransport carries the wire protocol over WebSocket for devices
// (typically smartphones) that cannot hold a raw TCP session open.
package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recsync/recsync/pkg/wire"
)

const defaultIODeadline = 30 * time.Second

// Conn adapts a WebSocket connection to wire.MessageConn. Each WebSocket
// message holds exactly one encoded envelope; the 1 MiB cap is enforced by
// the read limit before decoding.
type Conn struct {
	ws      *websocket.Conn
	readMu  sync.Mutex
	writeMu sync.Mutex
}

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(wire.MaxMessageSize)

	return &Conn{ws: ws}
}

// Dial connects to a device's WebSocket endpoint (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	return NewConn(ws), nil
}

// Upgrade promotes an inbound HTTP request to a device connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade to WebSocket: %w", err)
	}

	return NewConn(ws), nil
}

// ReadMessage implements wire.MessageConn.
func (c *Conn) ReadMessage(ctx context.Context) (*wire.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.ws.SetReadDeadline(deadlineFrom(ctx)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read WebSocket message: %w", err)
	}

	if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: control frame %d", wire.ErrMissingType, msgType)
	}

	return wire.Decode(data)
}

// WriteMessage implements wire.MessageConn.
func (c *Conn) WriteMessage(ctx context.Context, m *wire.Message) error {
	data, err := wire.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(deadlineFrom(ctx)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write WebSocket message: %w", err)
	}

	return nil
}

// RemoteAddr implements wire.MessageConn.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close implements wire.MessageConn.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func deadlineFrom(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}

	return time.Now().Add(defaultIODeadline)
}

var _ wire.MessageConn = (*Conn)(nil)
