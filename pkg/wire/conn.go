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
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MessageConn is a message-oriented connection to one device. Implementations
// exist for framed TCP (this package) and WebSocket (wstransport). Every
// operation carries an explicit deadline taken from the context; expiry
// surfaces as a typed failure, never a silent hang.
type MessageConn interface {
	ReadMessage(ctx context.Context) (*Message, error)
	WriteMessage(ctx context.Context, m *Message) error
	RemoteAddr() string
	Close() error
}

// defaultIODeadline bounds reads/writes whose context has no deadline.
const defaultIODeadline = 30 * time.Second

// lengthPrefixSize is the 4-byte big-endian frame header.
const lengthPrefixSize = 4

// Conn frames messages over a stream transport with a length prefix.
type Conn struct {
	conn    net.Conn
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// NewConn wraps an established stream connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Dial connects to a device over TCP, optionally with TLS 1.2+.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if tlsConfig != nil {
		cfg := tlsConfig.Clone()
		if cfg.MinVersion == 0 {
			cfg.MinVersion = tls.VersionTLS12
		}

		tlsConn := tls.Client(conn, cfg)

		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake with %s failed: %w", addr, err)
		}

		conn = tlsConn
	}

	return NewConn(conn), nil
}

// ReadMessage reads one length-prefixed message. Frames whose declared
// length exceeds MaxMessageSize are rejected before any payload is read.
func (c *Conn) ReadMessage(ctx context.Context) (*Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.isClosed() {
		return nil, ErrConnClosed
	}

	if err := c.conn.SetReadDeadline(deadlineFrom(ctx)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	var header [lengthPrefixSize]byte

	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, &OversizeError{Size: int(size)}
	}

	body := make([]byte, size)

	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	return Decode(body)
}

// WriteMessage encodes and writes one length-prefixed message.
func (c *Conn) WriteMessage(ctx context.Context, m *Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return ErrConnClosed
	}

	if err := c.conn.SetWriteDeadline(deadlineFrom(ctx)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	frame := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[lengthPrefixSize:], data)

	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// RemoteAddr implements MessageConn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close implements MessageConn.
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	return c.closed
}

func deadlineFrom(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}

	return time.Now().Add(defaultIODeadline)
}

// Listener accepts framed device connections.
type Listener struct {
	ln net.Listener
}

// Listen opens a TCP listener, optionally with TLS 1.2+.
func Listen(addr string, tlsConfig *tls.Config) (*Listener, error) {
	var (
		ln  net.Listener
		err error
	)

	if tlsConfig != nil {
		cfg := tlsConfig.Clone()
		if cfg.MinVersion == 0 {
			cfg.MinVersion = tls.VersionTLS12
		}

		ln, err = tls.Listen("tcp", addr, cfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &Listener{ln: ln}, nil
}

// Accept waits for the next device connection.
func (l *Listener) Accept() (*Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}

	return NewConn(conn), nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

var _ MessageConn = (*Conn)(nil)
