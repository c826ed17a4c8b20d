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

package models

import (
	"strings"
	"time"
)

// TransportType identifies how a recording device is reached.
type TransportType string

const (
	TransportUSBSerial TransportType = "usb_serial"
	TransportBluetooth TransportType = "bluetooth"
	TransportTCP       TransportType = "tcp"
	TransportWebSocket TransportType = "websocket"
)

// ConnectionState is the lifecycle state of a device connection.
type ConnectionState string

const (
	StateUnknown      ConnectionState = "unknown"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateStreaming    ConnectionState = "streaming"
	StateIdle         ConnectionState = "idle"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

// DeviceKey derives the stable identity key for a device from its declared
// name and transport address. The key is what survives restarts; the address
// alone does not, since DHCP leases and BT pairings move around. Keys are
// lowercase slugs safe for every persistence backend.
func DeviceKey(address, name string) string {
	return slug(name) + "-" + slug(address)
}

func slug(s string) string {
	var b strings.Builder

	lastDash := true // suppress leading dash

	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)

			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')

				lastDash = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "-")
}

// DeviceRecord is the persisted view of a recording device. Records are
// created on first attach and never deleted; a record whose LastSeen is older
// than the retention window is marked stale instead.
type DeviceRecord struct {
	DeviceID      string          `json:"device_id"`
	Name          string          `json:"name"`
	Address       string          `json:"address"`
	Transport     TransportType   `json:"transport"`
	State         ConnectionState `json:"state"`
	Capabilities  []string        `json:"capabilities,omitempty"`
	Priority      int             `json:"priority"`
	AutoReconnect bool            `json:"auto_reconnect"`
	ConnectCount  int             `json:"connect_count"`
	LastError     string          `json:"last_error,omitempty"`
	LastHeartbeat time.Time       `json:"last_heartbeat,omitempty"`
	FirstSeen     time.Time       `json:"first_seen"`
	LastSeen      time.Time       `json:"last_seen"`
	Stale         bool            `json:"stale,omitempty"`
}

// HasCapability reports whether the device declared the given feature string.
func (r *DeviceRecord) HasCapability(cap string) bool {
	for _, c := range r.Capabilities {
		if c == cap {
			return true
		}
	}

	return false
}
