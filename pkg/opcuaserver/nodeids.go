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

package opcuaserver

import (
	"fmt"

	"github.com/gopcua/opcua/ua"
)

// Node ids are a pure function of configuration identifiers (spec.md §9):
// external SCADA projects hardcode these strings, so they must never
// depend on registration order or be reassigned across restarts.

func appNodeID(ns uint16, applicationID string) *ua.NodeID {
	return ua.NewStringNodeID(ns, fmt.Sprintf("app:%s", applicationID))
}

func deviceNodeID(ns uint16, deviceID string) *ua.NodeID {
	return ua.NewStringNodeID(ns, fmt.Sprintf("dev:%s", deviceID))
}

func metricNodeID(ns uint16, deviceID, metricAlias string) *ua.NodeID {
	return ua.NewStringNodeID(ns, fmt.Sprintf("var:%s/%s", deviceID, metricAlias))
}
