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

package poller

import (
	"sync"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/store"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/upstream"
)

// State is the Poller's informational state machine (spec.md §4.C).
type State int

const (
	StateInit State = iota
	StateConnecting
	StateRunning
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Poller is the resilient, concurrent upstream client described in
// spec.md §4.C. It owns one long-lived upstream connection, runs a single
// periodic tick loop, and publishes observed values and health into the
// Store.
type Poller struct {
	cfg    *models.GatewayConfig
	store  *store.Store
	client upstream.Client
	clock  Clock
	logger logger.Logger

	closeFn func() error

	state   State
	stateMu sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startWg   sync.WaitGroup

	// ClientFactory builds the upstream.Client used for polling and
	// reconnecting. Set via WithClientFactory at construction, or left nil
	// to dial a live ChirpStack endpoint through pkg/grpcclient.
	ClientFactory func() (upstream.Client, func() error, error)
}

func (p *Poller) setState(s State) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	p.state = s
}

// State reports the Poller's current informational state.
func (p *Poller) State() State {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	return p.state
}
