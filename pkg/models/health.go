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

import "time"

// Health is the Shared Store's upstream liveness record (spec.md §3). It
// transitions only on a liveness-probe result, never on an individual
// metric-fetch failure (I4).
type Health struct {
	UpstreamReachable bool
	LastRoundTrip     time.Duration
	LastProbeAt       time.Time
}
