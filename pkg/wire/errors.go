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
	"errors"
	"fmt"
)

var (
	// ErrMissingType is returned when the envelope lacks a message type.
	ErrMissingType = errors.New("message type is required")
	// ErrMissingMessageID is returned when the envelope lacks a message id.
	ErrMissingMessageID = errors.New("message id is required")
	// ErrMissingVersion is returned when the envelope lacks a protocol version.
	ErrMissingVersion = errors.New("protocol version is required")
	// ErrMissingTimestamp is returned when the envelope lacks a timestamp.
	ErrMissingTimestamp = errors.New("message timestamp is required")
	// ErrEmptyPayload is returned when a payload was expected but absent.
	ErrEmptyPayload = errors.New("message payload is empty")
	// ErrConnClosed is returned for operations on a closed connection.
	ErrConnClosed = errors.New("connection is closed")
)

// OversizeError reports a message that exceeds MaxMessageSize. The message
// is rejected whole; it is never partially parsed.
type OversizeError struct {
	Size int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("message size %d exceeds maximum %d", e.Size, MaxMessageSize)
}

// UnknownTypeError reports a message type this protocol version does not
// recognize, so forward/backward version skew degrades gracefully.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}
