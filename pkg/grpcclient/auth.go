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

package grpcclient

import "context"

// bearerCredentials implements credentials.PerRPCCredentials, attaching a
// static bearer token to every RPC the way the ChirpStack API expects
// ("authorization: Bearer <token>") rather than the teacher's mTLS/SPIFFE
// peer-identity model, which doesn't apply to an external ChirpStack peer.
type bearerCredentials struct {
	token               string
	requireTransportTLS bool
}

func (b bearerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{
		"authorization": "Bearer " + b.token,
	}, nil
}

func (b bearerCredentials) RequireTransportSecurity() bool {
	return b.requireTransportTLS
}
