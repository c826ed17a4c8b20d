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
	"encoding/json"
	"fmt"
)

// Encode serializes a message, enforcing required envelope fields and the
// maximum encoded size. The codec is stateless and safe for concurrent use.
func Encode(m *Message) ([]byte, error) {
	if err := validateEnvelope(m); err != nil {
		return nil, err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	if len(data) > MaxMessageSize {
		return nil, &OversizeError{Size: len(data)}
	}

	return data, nil
}

// Decode parses a message, rejecting oversize input before any parsing and
// surfacing unknown types as a typed error rather than a crash.
func Decode(data []byte) (*Message, error) {
	if len(data) > MaxMessageSize {
		return nil, &OversizeError{Size: len(data)}
	}

	var m Message

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	if err := validateEnvelope(&m); err != nil {
		return nil, err
	}

	if _, ok := knownTypes[m.Type]; !ok {
		return nil, &UnknownTypeError{Type: string(m.Type)}
	}

	return &m, nil
}

func validateEnvelope(m *Message) error {
	if m.Type == "" {
		return ErrMissingType
	}

	if m.MessageID == "" {
		return ErrMissingMessageID
	}

	if m.Version == "" {
		return ErrMissingVersion
	}

	if m.Timestamp == 0 {
		return ErrMissingTimestamp
	}

	return nil
}
