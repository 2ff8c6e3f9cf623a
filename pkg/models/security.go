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

// SecurityMode selects how the Poller's gRPC connection to the upstream
// ChirpStack server is secured.
type SecurityMode string

const (
	SecurityModeNone SecurityMode = "none"
	SecurityModeTLS  SecurityMode = "tls"
)

// TLSConfig names the certificate material for a TLS-secured upstream
// connection. Unlike the teacher's internal fleet, the upstream here is an
// external ChirpStack deployment, so there is no client certificate/mTLS
// requirement by default; CertFile/KeyFile supply a client certificate
// when one is needed. ClientCAFile is accepted in the configuration but
// is not read by the upstream gRPC client.
type TLSConfig struct {
	CAFile       string `json:"ca_file,omitempty"`
	CertFile     string `json:"cert_file,omitempty"`
	KeyFile      string `json:"key_file,omitempty"`
	ClientCAFile string `json:"client_ca_file,omitempty"`
	ServerName   string `json:"server_name,omitempty"`
}

// SecurityConfig holds the upstream connection's transport security mode
// and TLS material. The bearer token, ChirpStack's own convention for gRPC
// API clients, is carried separately in UpstreamConfig.BearerToken.
type SecurityConfig struct {
	Mode SecurityMode `json:"mode"`
	TLS  TLSConfig    `json:"tls"`
}
