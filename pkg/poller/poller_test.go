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
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/store"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/upstream"
)

// fakeUpstream is an in-memory upstream.Client stand-in used to drive the
// Poller's tick loop without a live ChirpStack endpoint.
type fakeUpstream struct {
	mu sync.Mutex

	listErr    error
	devices    map[string][]upstream.Device
	metrics    map[string][]upstream.Sample
	metricsErr map[string]error

	listCalls int32
}

func (f *fakeUpstream) ListApplications(_ context.Context, _ string) ([]upstream.Application, error) {
	atomic.AddInt32(&f.listCalls, 1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	return []upstream.Application{{ID: "A1", Name: "app-1"}}, nil
}

func (f *fakeUpstream) ListDevices(_ context.Context, applicationID string) ([]upstream.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.devices[applicationID], nil
}

func (f *fakeUpstream) GetDeviceMetrics(_ context.Context, deviceID string, _ time.Duration) ([]upstream.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.metricsErr[deviceID]; ok && err != nil {
		return nil, err
	}

	return f.metrics[deviceID], nil
}

// fakeClock/fakeTicker give the test full control over when ticks fire.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *fakeClock) Ticker(_ time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time, 16)}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()                  { t.stopped.Store(true) }
func (t *fakeTicker) fire()                  { t.ch <- time.Now() }

func deviceOnePointConfig() *models.GatewayConfig {
	return &models.GatewayConfig{
		Applications: []models.ApplicationConfig{{
			ApplicationID: "A1",
			Devices: []models.DeviceConfig{{
				DeviceID: "D1",
				Metrics: []models.MetricConfig{
					{MetricName: "temperature", MetricAlias: "temp", Kind: models.KindFloat},
				},
			}},
		}},
		Upstream: models.UpstreamConfig{Address: "chirpstack:8080", TenantID: "t1"},
		Poller: models.PollerConfig{
			PollPeriod:   models.Duration(time.Second),
			RetryCount:   2,
			RetryDelay:   models.Duration(time.Millisecond),
			MetricWindow: 3,
		},
	}
}

func newTestPoller(t *testing.T, cfg *models.GatewayConfig, fu *fakeUpstream) (*Poller, *store.Store) {
	t.Helper()

	st := store.New(cfg)
	clock := newFakeClock()

	factory := WithClientFactory(func() (upstream.Client, func() error, error) {
		return fu, func() error { return nil }, nil
	})

	p, err := New(context.Background(), cfg, st, clock, logger.NewTestLogger(), factory)
	require.NoError(t, err)

	return p, st
}

// TestColdStartPopulatesStore covers spec.md §8 scenario 1 with a single
// application and device: a fresh Poller populates the Store on its first
// tick.
func TestColdStartPopulatesStore(t *testing.T) {
	cfg := deviceOnePointConfig()
	fu := &fakeUpstream{
		metrics: map[string][]upstream.Sample{
			"D1": {{MetricName: "temperature", Value: 21.5, ObservedAt: time.Now()}},
		},
	}

	p, st := newTestPoller(t, cfg, fu)

	require.NoError(t, p.tick(context.Background()))

	val, ok, err := st.Get(store.Key{DeviceID: "D1", MetricName: "temperature"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 21.5, val.Float)

	health := st.GetHealth()
	assert.True(t, health.UpstreamReachable)
}

// TestUpstreamDownLeavesStaleValues covers scenario 2: a liveness probe
// failure marks health unreachable and leaves prior Store values intact
// (I3).
func TestUpstreamDownLeavesStaleValues(t *testing.T) {
	cfg := deviceOnePointConfig()
	fu := &fakeUpstream{
		metrics: map[string][]upstream.Sample{
			"D1": {{MetricName: "temperature", Value: 21.5, ObservedAt: time.Now()}},
		},
	}

	p, st := newTestPoller(t, cfg, fu)
	require.NoError(t, p.tick(context.Background()))

	fu.mu.Lock()
	fu.listErr = assertErr
	fu.mu.Unlock()

	require.NoError(t, p.tick(context.Background()))

	val, ok, err := st.Get(store.Key{DeviceID: "D1", MetricName: "temperature"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 21.5, val.Float, "stale value must survive an unreachable upstream")

	health := st.GetHealth()
	assert.False(t, health.UpstreamReachable)
}

// TestFlapRecovery covers scenario 3: upstream goes down then comes back;
// health and values both recover on the next successful tick (P6).
func TestFlapRecovery(t *testing.T) {
	cfg := deviceOnePointConfig()
	fu := &fakeUpstream{
		metrics: map[string][]upstream.Sample{
			"D1": {{MetricName: "temperature", Value: 10, ObservedAt: time.Now()}},
		},
	}

	p, st := newTestPoller(t, cfg, fu)

	fu.mu.Lock()
	fu.listErr = assertErr
	fu.mu.Unlock()

	require.NoError(t, p.tick(context.Background()))
	assert.False(t, st.GetHealth().UpstreamReachable)

	fu.mu.Lock()
	fu.listErr = nil
	fu.metrics["D1"] = []upstream.Sample{{MetricName: "temperature", Value: 99, ObservedAt: time.Now()}}
	fu.mu.Unlock()

	require.NoError(t, p.tick(context.Background()))

	assert.True(t, st.GetHealth().UpstreamReachable)

	val, ok, err := st.Get(store.Key{DeviceID: "D1", MetricName: "temperature"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 99.0, val.Float)
}

// TestConfiguredMetricAbsentUpstream covers scenario 6: a configured
// metric that never appears in the upstream response leaves its Store
// entry unset forever, without error.
func TestConfiguredMetricAbsentUpstream(t *testing.T) {
	cfg := deviceOnePointConfig()
	fu := &fakeUpstream{metrics: map[string][]upstream.Sample{"D1": nil}}

	p, st := newTestPoller(t, cfg, fu)
	require.NoError(t, p.tick(context.Background()))

	val, ok, err := st.Get(store.Key{DeviceID: "D1", MetricName: "temperature"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.KindFloat, val.Kind)
}

// blockingUpstream blocks every ListApplications call on release, counting
// how many calls actually entered the probe concurrently.
type blockingUpstream struct {
	fakeUpstream

	armed      atomic.Bool
	release    chan struct{}
	entered    int32
	maxEntered int32
}

func (b *blockingUpstream) ListApplications(ctx context.Context, tenantID string) ([]upstream.Application, error) {
	if !b.armed.Load() {
		return b.fakeUpstream.ListApplications(ctx, tenantID)
	}

	n := atomic.AddInt32(&b.entered, 1)

	for {
		old := atomic.LoadInt32(&b.maxEntered)
		if n <= old || atomic.CompareAndSwapInt32(&b.maxEntered, old, n) {
			break
		}
	}

	<-b.release

	atomic.AddInt32(&b.entered, -1)

	return b.fakeUpstream.ListApplications(ctx, tenantID)
}

// TestOverrunSkipsNotQueues covers P5: if a tick is still running when the
// ticker fires again, the new tick is skipped rather than queued, so at
// most one probe is ever in flight at a time.
func TestOverrunSkipsNotQueues(t *testing.T) {
	cfg := deviceOnePointConfig()

	bu := &blockingUpstream{
		fakeUpstream: fakeUpstream{metrics: map[string][]upstream.Sample{"D1": nil}},
		release:      make(chan struct{}),
	}

	st := store.New(cfg)
	clock := newFakeClock()

	factory := WithClientFactory(func() (upstream.Client, func() error, error) {
		return bu, func() error { return nil }, nil
	})

	p, err := New(context.Background(), cfg, st, clock, logger.NewTestLogger(), factory)
	require.NoError(t, err)

	ft := &fakeTicker{ch: make(chan time.Time, 4)}
	p.clock = boundTickerClock{ticker: ft}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startDone := make(chan error, 1)

	go func() { startDone <- p.Start(ctx) }()

	// Let the initial synchronous tick complete unblocked, then arm
	// blocking for the ticker-driven ticks under test.
	time.Sleep(20 * time.Millisecond)
	bu.armed.Store(true)

	ft.fire()
	ft.fire()

	time.Sleep(20 * time.Millisecond)

	assert.LessOrEqual(t, atomic.LoadInt32(&bu.maxEntered), int32(1), "no more than one probe should be in flight at once")

	close(bu.release)
	cancel()

	select {
	case <-startDone:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}

type boundTickerClock struct {
	ticker Ticker
}

func (b boundTickerClock) Now() time.Time              { return time.Now() }
func (b boundTickerClock) Ticker(time.Duration) Ticker { return b.ticker }

var assertErr = &fakeStatusErr{}

type fakeStatusErr struct{}

func (f *fakeStatusErr) Error() string { return "upstream unavailable" }
