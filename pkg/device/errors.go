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

package device

import (
	"context"
	"errors"

	"github.com/recsync/recsync/pkg/wire"
)

var (
	// ErrManagerClosed is returned for operations after Stop.
	ErrManagerClosed = errors.New("device manager is closed")

	// ErrUnknownDevice is returned for operations on a device key that
	// was never attached.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrNotConnected is returned when a command is sent to a device
	// that is not currently connected.
	ErrNotConnected = errors.New("device is not connected")

	// ErrVersionMismatch terminates the retry loop: the device speaks an
	// incompatible protocol version.
	ErrVersionMismatch = errors.New("incompatible protocol version")

	// ErrCapabilityMismatch terminates the retry loop: the device lacks
	// a capability the coordinator requires.
	ErrCapabilityMismatch = errors.New("capability mismatch")

	// ErrUserCancelled terminates the retry loop on explicit detach.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrAckTimeout reports a command whose required acknowledgment never
	// arrived within the deadline.
	ErrAckTimeout = errors.New("acknowledgment timed out")

	errHandshakeExpected = errors.New("expected handshake as first message")
)

// retryable classifies an error per the connection/protocol taxonomy.
// Connection failures (timeout, refused, lost, reset) retry with backoff;
// protocol failures and explicit cancellation go straight to Failed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrVersionMismatch),
		errors.Is(err, ErrCapabilityMismatch),
		errors.Is(err, ErrUserCancelled),
		errors.Is(err, context.Canceled):
		return false
	}

	var oversize *wire.OversizeError
	if errors.As(err, &oversize) {
		return false
	}

	var unknown *wire.UnknownTypeError
	if errors.As(err, &unknown) {
		return false
	}

	return true
}
