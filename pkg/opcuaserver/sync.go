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
	"context"
	"time"

	"github.com/gopcua/opcua/server/attrs"
	"github.com/gopcua/opcua/ua"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
)

// runSync is the binding's only background goroutine (spec.md §4.D notes
// the binding otherwise has none beyond the protocol engine itself). Each
// tick it detects client writes that landed on a writable node since the
// last tick and forwards them into the Store (spec.md §4.D "Write
// semantics"), then re-materializes every node's Value attribute from the
// Store so reads reflect the last-known-good poll (spec.md §4.D "Read
// semantics").
func (b *Binding) runSync(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.syncOnce()
		}
	}
}

func (b *Binding) syncOnce() {
	for _, bm := range b.metrics {
		b.syncMetric(bm)
	}

	b.syncHealth()
}

// syncMetric implements one tick of read/write bridging for a single
// metric variable.
func (b *Binding) syncMetric(bm *boundMetric) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	b.detectClientWrite(bm)

	value, present, err := b.store.Get(bm.key)
	if err != nil {
		// Unknown key is a wiring bug (spec.md §7 StoreError), not
		// something a live binding should ever hit once Build has run.
		b.logger.Warn().Err(err).Str("device", bm.key.DeviceID).Str("metric", bm.key.MetricName).
			Msg("sync bridge could not resolve store key")

		return
	}

	dv := b.dataValueFor(bm, value, present)
	bm.node.SetAttribute(attrs.Value, dv)
	bm.lastPushed = dv.Value
}

// detectClientWrite compares the node's current Value attribute against
// the variant the bridge last pushed; a difference means a client wrote
// the node directly between ticks (the protocol engine applies the write
// to the node itself — spec.md §1 treats that machinery as a library
// primitive). A writable, successfully-coerced write is forwarded into the
// Store; anything else is logged and then overwritten by the
// re-materialization that follows in the same syncMetric call.
func (b *Binding) detectClientWrite(bm *boundMetric) {
	current := bm.node.Attribute(attrs.Value)
	if current == nil || current.Value == nil {
		return
	}

	if variantsEqual(current.Value, bm.lastPushed) {
		return
	}

	if !bm.writable {
		// Not reachable via a correctly-configured engine (AccessLevel
		// denies the write), but guarded here in case the node's
		// attributes were tampered with directly.
		b.logger.Warn().Str("device", bm.key.DeviceID).Str("metric", bm.key.MetricName).
			Msg("value changed on a non-writable node, ignoring")

		return
	}

	value, err := coerceVariant(bm.kind, current.Value.Value())
	if err != nil {
		b.logger.Warn().Err(err).Str("device", bm.key.DeviceID).Str("metric", bm.key.MetricName).
			Msg("client write rejected: type mismatch")

		return
	}

	if err := b.store.Set(bm.key, value); err != nil {
		b.logger.Warn().Err(err).Str("device", bm.key.DeviceID).Str("metric", bm.key.MetricName).
			Msg("client write rejected by store")

		return
	}

	b.logger.Debug().Str("device", bm.key.DeviceID).Str("metric", bm.key.MetricName).
		Msg("client write applied to store")
}

// dataValueFor implements spec.md §4.D's read-semantics table: Good with
// the real value and poll timestamp when present, Uncertain with a
// type-appropriate zero when never observed, Bad with a zero when the
// stored kind somehow disagrees with the declared kind.
func (b *Binding) dataValueFor(bm *boundMetric, value models.Value, present bool) *ua.DataValue {
	mask := ua.DataValueValue | ua.DataValueStatusCode | ua.DataValueSourceTimestamp

	switch {
	case !present:
		return &ua.DataValue{
			EncodingMask:    mask,
			Value:           zeroVariant(bm.kind),
			Status:          ua.StatusUncertainInitialValue,
			SourceTimestamp: time.Now(),
		}
	case value.Kind != bm.kind:
		return &ua.DataValue{
			EncodingMask:    mask,
			Value:           zeroVariant(bm.kind),
			Status:          ua.StatusBadTypeMismatch,
			SourceTimestamp: time.Now(),
		}
	default:
		ts, ok := b.store.ObservedAt(bm.key)
		if !ok {
			ts = time.Now()
		}

		return &ua.DataValue{
			EncodingMask:    mask,
			Value:           valueToVariant(value),
			Status:          ua.StatusOK,
			SourceTimestamp: ts,
		}
	}
}

// syncHealth re-materializes the synthetic upstream-reachability variable
// from Store.GetHealth() (SPEC_FULL.md §12).
func (b *Binding) syncHealth() {
	if b.health == nil {
		return
	}

	h := b.store.GetHealth()

	dv := &ua.DataValue{
		EncodingMask:    ua.DataValueValue | ua.DataValueStatusCode | ua.DataValueSourceTimestamp,
		Value:           ua.MustVariant(h.UpstreamReachable),
		Status:          ua.StatusOK,
		SourceTimestamp: h.LastProbeAt,
	}

	b.health.node.SetAttribute(attrs.Value, dv)
	b.health.lastPushed = dv.Value
}
