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
	"sync"
	"testing"

	"github.com/gopcua/opcua/server/attrs"
	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/store"
)

// fakeNode is a minimal stand-in for the protocol engine's node type,
// exercising exactly the Attribute/SetAttribute surface the sync bridge
// depends on. Standing up a live TCP OPC UA session is out of scope for
// this package's tests (SPEC_FULL.md §10.4); the bridge logic is tested
// directly against this fake instead.
type fakeNode struct {
	mu    sync.Mutex
	attrs map[attrs.AttributeID]*ua.DataValue
}

func newFakeNode(initial *ua.Variant) *fakeNode {
	return &fakeNode{attrs: map[attrs.AttributeID]*ua.DataValue{
		attrs.Value: {Value: initial},
	}}
}

func (f *fakeNode) ID() *ua.NodeID { return nil }

func (f *fakeNode) Attribute(id attrs.AttributeID) *ua.DataValue {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attrs[id]
}

func (f *fakeNode) SetAttribute(id attrs.AttributeID, v *ua.DataValue) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attrs[id] = v
}

func oneWritableMetricConfig() *models.GatewayConfig {
	return &models.GatewayConfig{
		Applications: []models.ApplicationConfig{
			{
				ApplicationID: "A1",
				Devices: []models.DeviceConfig{
					{
						DeviceID: "D1",
						Metrics: []models.MetricConfig{
							{MetricName: "M1", MetricAlias: "m1", Kind: models.KindFloat, Writable: true},
						},
					},
				},
			},
		},
	}
}

func newTestBinding(cfg *models.GatewayConfig, st *store.Store) *Binding {
	return &Binding{cfg: cfg, store: st, logger: logger.NewTestLogger()}
}

// TestSyncMetricReadsGoodAfterPollerWrite is scenario 1 of spec.md §8 at
// the binding layer: a value the Poller wrote reads back Good.
func TestSyncMetricReadsGoodAfterPollerWrite(t *testing.T) {
	cfg := oneWritableMetricConfig()
	st := store.New(cfg)
	key := store.Key{DeviceID: "D1", MetricName: "M1"}
	node := newFakeNode(zeroVariant(models.KindFloat))

	b := newTestBinding(cfg, st)
	bm := &boundMetric{node: node, key: key, kind: models.KindFloat, writable: true, lastPushed: zeroVariant(models.KindFloat)}

	require.NoError(t, st.Set(key, models.FloatValue(1.5)))

	b.syncMetric(bm)

	dv := node.Attribute(attrs.Value)
	assert.Equal(t, ua.StatusOK, dv.Status)
	assert.InDelta(t, 1.5, dv.Value.Value(), 0.0001)
}

// TestSyncMetricUncertainWhenNeverObserved is spec.md §8 scenario 6 (and
// P3's zero-of-K clause) at the binding layer.
func TestSyncMetricUncertainWhenNeverObserved(t *testing.T) {
	cfg := oneWritableMetricConfig()
	st := store.New(cfg)
	key := store.Key{DeviceID: "D1", MetricName: "M1"}
	node := newFakeNode(zeroVariant(models.KindFloat))

	b := newTestBinding(cfg, st)
	bm := &boundMetric{node: node, key: key, kind: models.KindFloat, writable: true, lastPushed: zeroVariant(models.KindFloat)}

	b.syncMetric(bm)

	dv := node.Attribute(attrs.Value)
	assert.Equal(t, ua.StatusUncertainInitialValue, dv.Status)
	assert.InDelta(t, 0, dv.Value.Value(), 0.0001)
}

// TestSyncMetricForwardsClientWriteToStore is spec.md §8 scenario 4's
// write half: a value landing on a writable node is forwarded to the
// Store by the next sync tick.
func TestSyncMetricForwardsClientWriteToStore(t *testing.T) {
	cfg := oneWritableMetricConfig()
	st := store.New(cfg)
	key := store.Key{DeviceID: "D1", MetricName: "M1"}
	node := newFakeNode(zeroVariant(models.KindFloat))

	b := newTestBinding(cfg, st)
	bm := &boundMetric{node: node, key: key, kind: models.KindFloat, writable: true, lastPushed: zeroVariant(models.KindFloat)}

	node.SetAttribute(attrs.Value, &ua.DataValue{Value: ua.MustVariant(7.0)})

	b.syncMetric(bm)

	value, ok, err := st.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 7.0, value.Float, 0.0001)
}

// TestSyncMetricRejectsTypeMismatchedClientWrite is spec.md §8 scenario 5:
// a kind-mismatched write never reaches the Store.
func TestSyncMetricRejectsTypeMismatchedClientWrite(t *testing.T) {
	cfg := oneWritableMetricConfig()
	st := store.New(cfg)
	key := store.Key{DeviceID: "D1", MetricName: "M1"}
	require.NoError(t, st.Set(key, models.FloatValue(3.0)))

	node := newFakeNode(valueToVariant(models.FloatValue(3.0)))

	b := newTestBinding(cfg, st)
	bm := &boundMetric{node: node, key: key, kind: models.KindFloat, writable: true, lastPushed: valueToVariant(models.FloatValue(3.0))}

	node.SetAttribute(attrs.Value, &ua.DataValue{Value: ua.MustVariant("oops")})

	b.syncMetric(bm)

	value, ok, err := st.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 3.0, value.Float, 0.0001, "store must be unchanged after a rejected write")
}

// TestSyncMetricIgnoresWriteToNonWritableNode guards BadNotWritable
// semantics: even if a value somehow changes on a read-only node, the
// bridge never propagates it into the Store.
func TestSyncMetricIgnoresWriteToNonWritableNode(t *testing.T) {
	cfg := oneWritableMetricConfig()
	cfg.Applications[0].Devices[0].Metrics[0].Writable = false

	st := store.New(cfg)
	key := store.Key{DeviceID: "D1", MetricName: "M1"}
	require.NoError(t, st.Set(key, models.FloatValue(1.0)))

	node := newFakeNode(valueToVariant(models.FloatValue(1.0)))

	b := newTestBinding(cfg, st)
	bm := &boundMetric{node: node, key: key, kind: models.KindFloat, writable: false, lastPushed: valueToVariant(models.FloatValue(1.0))}

	node.SetAttribute(attrs.Value, &ua.DataValue{Value: ua.MustVariant(99.0)})

	b.syncMetric(bm)

	value, ok, err := st.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, value.Float, 0.0001)
}

// TestSyncHealthReflectsStore covers P6 at the binding layer: the
// synthetic health variable tracks Store.GetHealth().
func TestSyncHealthReflectsStore(t *testing.T) {
	cfg := oneWritableMetricConfig()
	st := store.New(cfg)
	node := newFakeNode(ua.MustVariant(false))

	b := newTestBinding(cfg, st)
	b.health = &boundMetric{node: node, kind: models.KindBool, lastPushed: ua.MustVariant(false)}

	st.SetHealth(true, 0)
	b.syncHealth()

	dv := node.Attribute(attrs.Value)
	assert.Equal(t, true, dv.Value.Value())

	st.SetHealth(false, 0)
	b.syncHealth()

	dv = node.Attribute(attrs.Value)
	assert.Equal(t, false, dv.Value.Value())
}
