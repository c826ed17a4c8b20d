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

import "time"

// Delay returns the backoff delay before retry attempt n (1-based):
// min(base * 2^(n-1), max). Monotonically non-decreasing in n.
func (b *BackoffConfig) Delay(attempt int) time.Duration {
	base := time.Duration(b.BaseDelay)
	maxDelay := time.Duration(b.MaxDelay)

	if attempt <= 1 {
		return base
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay || d < 0 { // overflow guard
			return maxDelay
		}
	}

	return d
}
