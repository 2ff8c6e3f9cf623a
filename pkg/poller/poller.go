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

// Package poller implements the resilient, concurrent upstream client
// described in spec.md §4.C: it probes upstream liveness, enumerates
// devices per configured application, fetches per-device metric series,
// and publishes the latest values and health into the Shared Store.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/grpcclient"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/store"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/upstream"
)

const (
	stopTimeout       = 10 * time.Second
	livenessProbeFrac = 4 // liveness deadline = poll_period / livenessProbeFrac
)

// Option customizes a Poller at construction time. Tests use
// WithClientFactory to inject a fake upstream.Client instead of dialing a
// live ChirpStack endpoint.
type Option func(*Poller)

// WithClientFactory overrides how the Poller obtains its upstream.Client,
// bypassing the default gRPC dial entirely.
func WithClientFactory(f func() (upstream.Client, func() error, error)) Option {
	return func(p *Poller) { p.ClientFactory = f }
}

// New creates a Poller bound to cfg and store. If clock is nil, the real
// wall clock is used. The upstream connection is established here or, on
// failure, left to the retry loop inside Start — New never aborts the
// process on a failed initial dial (spec.md §4.C "Startup").
func New(ctx context.Context, cfg *models.GatewayConfig, st *store.Store, clock Clock, log logger.Logger, opts ...Option) (*Poller, error) {
	if len(cfg.Applications) == 0 {
		return nil, errNoApplicationsConfigured
	}

	if clock == nil {
		clock = realClock{}
	}

	p := &Poller{
		cfg:    cfg,
		store:  st,
		clock:  clock,
		logger: log,
		done:   make(chan struct{}),
		state:  StateInit,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.ClientFactory == nil {
		p.ClientFactory = p.defaultClientFactory
	}

	client, closeFn, err := p.ClientFactory()
	if err != nil {
		log.Warn().Err(err).Msg("initial connection to upstream failed, will retry on first tick")
	} else {
		p.client = client
		p.closeFn = closeFn
	}

	return p, nil
}

func (p *Poller) defaultClientFactory() (upstream.Client, func() error, error) {
	ctx := context.Background()

	gc, err := grpcclient.NewClient(ctx, grpcclient.ClientConfig{
		Address:     p.cfg.Upstream.Address,
		BearerToken: p.cfg.Upstream.BearerToken,
		Security:    p.cfg.Upstream.Security,
		Logger:      p.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return upstream.NewChirpstackClient(gc.GetConnection()), gc.Close, nil
}

// Start implements lifecycle.Service. It runs the periodic tick loop until
// ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	interval := time.Duration(p.cfg.Poller.PollPeriod)
	ticker := p.clock.Ticker(interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", interval).Msg("starting poller")

	p.startWg.Add(1)
	defer p.startWg.Done()

	p.wg.Add(1)
	defer p.wg.Done()

	p.tickOnce(ctx)

	var tickInFlight sync.Mutex

	for {
		select {
		case <-ctx.Done():
			p.setState(StateStopped)
			return nil
		case <-p.done:
			p.setState(StateStopped)
			return nil
		case <-ticker.Chan():
			// Tick overrun safety (spec.md §4.C): if the previous tick is
			// still running, skip this one rather than queuing it.
			if !tickInFlight.TryLock() {
				p.logger.Warn().Msg("previous tick still in flight, skipping this tick")
				continue
			}

			p.wg.Add(1)

			go func() {
				defer p.wg.Done()
				defer tickInFlight.Unlock()

				p.tickOnce(ctx)
			}()
		}
	}
}

func (p *Poller) tickOnce(ctx context.Context) {
	if err := p.tick(ctx); err != nil {
		p.logger.Error().Err(err).Msg("error during poll tick")
	}
}

// tick performs the three steps of spec.md §4.C: liveness probe,
// per-application/per-device fan-out, and projection into the Store.
func (p *Poller) tick(ctx context.Context) error {
	if p.client == nil {
		client, closeFn, err := p.ClientFactory()
		if err != nil {
			p.setState(StateDegraded)
			p.store.SetHealth(false, 0)

			return fmt.Errorf("reconnect to upstream failed: %w", err)
		}

		p.client = client
		p.closeFn = closeFn
	}

	if !p.probeLiveness(ctx) {
		// Existing values are left untouched (I3); steps 2-3 are skipped.
		return nil
	}

	p.setState(StateRunning)

	devicesAttempted, metricsWritten := p.fanOutApplications(ctx)

	p.logger.Info().
		Int("devices_attempted", devicesAttempted).
		Int("metrics_written", metricsWritten).
		Bool("upstream_reachable", true).
		Msg("poll tick completed")

	return nil
}

// probeLiveness issues the cheap liveness call (spec.md §4.C step 1) with
// a deadline shorter than poll_period so a slow upstream doesn't starve
// metric fetches.
func (p *Poller) probeLiveness(ctx context.Context) bool {
	deadline := time.Duration(p.cfg.Poller.PollPeriod) / livenessProbeFrac
	if deadline <= 0 {
		deadline = time.Second
	}

	probeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := p.clock.Now()

	_, err := p.client.ListApplications(probeCtx, p.cfg.Upstream.TenantID)

	rtt := p.clock.Now().Sub(start)

	if err != nil {
		p.logger.Warn().Err(err).Msg("liveness probe failed, upstream considered unreachable")
		p.store.SetHealth(false, rtt)
		p.setState(StateDegraded)

		return false
	}

	p.store.SetHealth(true, rtt)

	return true
}

type deviceResult struct {
	deviceID string
	written  int
}

// fanOutApplications dispatches per-device fetches in parallel, bounded by
// the number of configured devices; ordering between devices is
// irrelevant (I3 depends only on per-key atomicity).
func (p *Poller) fanOutApplications(ctx context.Context) (devicesAttempted, metricsWritten int) {
	results := make(chan deviceResult, 64)

	var wg sync.WaitGroup

	for ai := range p.cfg.Applications {
		app := &p.cfg.Applications[ai]

		for di := range app.Devices {
			dev := &app.Devices[di]
			devicesAttempted++

			wg.Add(1)

			go func(dev *models.DeviceConfig) {
				defer wg.Done()

				written := p.pollDevice(ctx, dev)
				results <- deviceResult{deviceID: dev.DeviceID, written: written}
			}(dev)
		}
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		metricsWritten += r.written
	}

	return devicesAttempted, metricsWritten
}

// pollDevice fetches one device's metric series (with retry on transient
// failure) and projects matching samples into the Store (spec.md §4.C
// steps 2-3). One bad device never poisons siblings.
func (p *Poller) pollDevice(ctx context.Context, dev *models.DeviceConfig) int {
	deadline := time.Duration(p.cfg.Poller.PollPeriod)

	fetchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	window := time.Duration(p.cfg.Poller.MetricWindow) * time.Duration(p.cfg.Poller.PollPeriod)

	samples, err := p.fetchWithRetry(fetchCtx, dev.DeviceID, window)
	if err != nil {
		p.logDeviceError(dev.DeviceID, err)
		return 0
	}

	latest := latestByMetric(samples)

	written := 0

	for _, m := range dev.Metrics {
		sample, ok := latest[m.MetricName]
		if !ok {
			// Configured metric absent from this response; leave the
			// Store entry as-is (I3). No error is logged above debug —
			// an indefinitely-absent metric is an expected, quiet state
			// (spec.md §8 scenario 6).
			p.logger.Debug().Str("device", dev.DeviceID).Str("metric", m.MetricName).
				Msg("configured metric absent from upstream response")

			continue
		}

		value, err := coerce(m.Kind, sample.Value)
		if err != nil {
			p.logger.Warn().Err(err).Str("device", dev.DeviceID).Str("metric", m.MetricName).
				Msg("dropping sample of unsupported upstream kind")

			continue
		}

		key := store.Key{DeviceID: dev.DeviceID, MetricName: m.MetricName}

		if err := p.store.Set(key, value); err != nil {
			p.logger.Warn().Err(err).Str("device", dev.DeviceID).Str("metric", m.MetricName).
				Msg("store rejected poller write")

			continue
		}

		written++
	}

	return written
}

// fetchWithRetry retries a transient upstream failure up to RetryCount
// times, sleeping RetryDelay between attempts; a permanent error is
// surfaced immediately without retry (spec.md §4.C "Retry policy").
func (p *Poller) fetchWithRetry(ctx context.Context, deviceID string, window time.Duration) ([]upstream.Sample, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.Poller.RetryCount; attempt++ {
		samples, err := p.client.GetDeviceMetrics(ctx, deviceID, window)
		if err == nil {
			return samples, nil
		}

		lastErr = err

		if errors.Is(err, upstream.ErrPermanent) {
			return nil, err
		}

		if attempt == p.cfg.Poller.RetryCount {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(p.cfg.Poller.RetryDelay)):
		}
	}

	return nil, lastErr
}

func (p *Poller) logDeviceError(deviceID string, err error) {
	if errors.Is(err, upstream.ErrPermanent) {
		p.logger.Error().Err(err).Str("device", deviceID).Msg("permanent upstream error fetching device metrics")
		return
	}

	p.logger.Warn().Err(err).Str("device", deviceID).Msg("transient upstream error fetching device metrics, giving up for this tick")
}

func latestByMetric(samples []upstream.Sample) map[string]upstream.Sample {
	latest := make(map[string]upstream.Sample, len(samples))

	for _, s := range samples {
		if existing, ok := latest[s.MetricName]; !ok || s.ObservedAt.After(existing.ObservedAt) {
			latest[s.MetricName] = s
		}
	}

	return latest
}

// coerce materializes an upstream float64 sample as the metric's declared
// kind. The Poller only ingests the upstream "gauge" kind; values destined
// for a non-Float declared kind still arrive as float64 from ChirpStack
// and are coerced in the obvious way, except String, which spec.md §3
// explicitly says is dropped with a warning since there is no sensible
// gauge-to-string coercion.
func coerce(kind models.Kind, raw float64) (models.Value, error) {
	switch kind {
	case models.KindFloat:
		return models.FloatValue(raw), nil
	case models.KindInt:
		return models.IntValue(int64(raw)), nil
	case models.KindBool:
		return models.BoolValue(raw != 0), nil
	case models.KindString:
		return models.Value{}, fmt.Errorf("metric kind %s cannot be materialized from an upstream gauge sample", kind)
	default:
		return models.Value{}, fmt.Errorf("unrecognized metric kind %s", kind)
	}
}

// Stop implements lifecycle.Service.
func (p *Poller) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	p.closeOnce.Do(func() { close(p.done) })

	p.startWg.Wait()
	p.wg.Wait()

	if p.closeFn != nil {
		if err := p.closeFn(); err != nil {
			p.logger.Error().Err(err).Msg("error closing upstream connection")
		}
	}

	select {
	case <-stopCtx.Done():
		return stopCtx.Err()
	default:
		return nil
	}
}

// Close releases the upstream connection outside of the Start/Stop
// lifecycle (e.g. if New succeeds but Start is never called).
func (p *Poller) Close() error {
	p.closeOnce.Do(func() { close(p.done) })

	if p.closeFn != nil {
		if err := p.closeFn(); err != nil {
			return fmt.Errorf("%w: %w", errClosing, err)
		}
	}

	return nil
}
