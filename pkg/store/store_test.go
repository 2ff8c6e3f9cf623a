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

package store_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/store"
)

func twoAppConfig() *models.GatewayConfig {
	return &models.GatewayConfig{
		Applications: []models.ApplicationConfig{
			{
				ApplicationID: "A1",
				Devices: []models.DeviceConfig{
					{
						DeviceID: "D1",
						Metrics: []models.MetricConfig{
							{MetricName: "M1", MetricAlias: "m1", Kind: models.KindFloat},
							{MetricName: "M2", MetricAlias: "m2", Kind: models.KindFloat},
						},
					},
				},
			},
			{
				ApplicationID: "A2",
				Devices: []models.DeviceConfig{
					{
						DeviceID: "D2",
						Metrics: []models.MetricConfig{
							{MetricName: "M3", MetricAlias: "m3", Kind: models.KindFloat},
						},
					},
				},
			},
		},
	}
}

func TestKeyStability(t *testing.T) {
	s := store.New(twoAppConfig())

	require.Equal(t, 3, s.KeyCount())

	require.NoError(t, s.Set(store.Key{DeviceID: "D1", MetricName: "M1"}, models.FloatValue(1.5)))

	assert.Equal(t, 3, s.KeyCount())
}

func TestUnknownKeyRejected(t *testing.T) {
	s := store.New(twoAppConfig())

	_, _, err := s.Get(store.Key{DeviceID: "D1", MetricName: "unknown"})
	require.ErrorIs(t, err, store.ErrUnknownKey)

	err = s.Set(store.Key{DeviceID: "D1", MetricName: "unknown"}, models.FloatValue(1))
	require.ErrorIs(t, err, store.ErrUnknownKey)
}

func TestKindMismatchRejectedWithoutClobbering(t *testing.T) {
	s := store.New(twoAppConfig())
	key := store.Key{DeviceID: "D1", MetricName: "M1"}

	require.NoError(t, s.Set(key, models.FloatValue(1.5)))

	err := s.Set(key, models.StringValue("oops"))
	require.ErrorIs(t, err, store.ErrKindMismatch)

	value, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.5, value.Float, 0.0001)
}

func TestNoClobberOnFailure(t *testing.T) {
	s := store.New(twoAppConfig())
	key := store.Key{DeviceID: "D1", MetricName: "M1"}

	require.NoError(t, s.Set(key, models.FloatValue(2.5)))

	// A failed poll never calls Set; the prior value must still read back.
	value, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 2.5, value.Float, 0.0001)
}

func TestUnpopulatedReadsZeroValue(t *testing.T) {
	s := store.New(twoAppConfig())

	value, ok, err := s.Get(store.Key{DeviceID: "D2", MetricName: "M3"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.KindFloat, value.Kind)
	assert.InDelta(t, 0, value.Float, 0.0001)
}

func TestHealthTransitionsOnlyOnProbe(t *testing.T) {
	s := store.New(twoAppConfig())

	s.SetHealth(true, 10*time.Millisecond)

	h := s.GetHealth()
	assert.True(t, h.UpstreamReachable)
	assert.Equal(t, 10*time.Millisecond, h.LastRoundTrip)

	s.SetHealth(false, 0)

	h = s.GetHealth()
	assert.False(t, h.UpstreamReachable)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := store.New(twoAppConfig())
	key := store.Key{DeviceID: "D1", MetricName: "M1"}

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func(n int) {
			defer wg.Done()
			_ = s.Set(key, models.FloatValue(float64(n)))
		}(i)

		go func() {
			defer wg.Done()

			_, _, err := s.Get(key)
			assert.True(t, err == nil || errors.Is(err, store.ErrUnknownKey))
		}()
	}

	wg.Wait()

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	assert.True(t, ok)
}
