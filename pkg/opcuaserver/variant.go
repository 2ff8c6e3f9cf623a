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
	"math"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
)

// dataTypeNodeID returns the standard OPC UA DataType node id for kind,
// used as a variable node's DataType attribute (spec.md §4.D).
func dataTypeNodeID(kind models.Kind) *ua.NodeID {
	switch kind {
	case models.KindBool:
		return ua.NewNumericNodeID(0, id.Boolean)
	case models.KindInt:
		return ua.NewNumericNodeID(0, id.Int64)
	case models.KindFloat:
		return ua.NewNumericNodeID(0, id.Double)
	case models.KindString:
		return ua.NewNumericNodeID(0, id.String)
	default:
		return ua.NewNumericNodeID(0, id.BaseDataType)
	}
}

// zeroVariant builds the type-appropriate zero variant for kind, used as a
// variable's initial value and as the value reported while a metric has
// never been observed (spec.md §4.D "None" row).
func zeroVariant(kind models.Kind) *ua.Variant {
	return valueToVariant(models.Zero(kind))
}

// valueToVariant converts a Store value into the OPC UA variant reported
// on Read, including the Int width narrowing spec.md §4.D's table
// describes (Int32 when in range, Int64 otherwise).
func valueToVariant(v models.Value) *ua.Variant {
	switch v.Kind {
	case models.KindBool:
		return ua.MustVariant(v.Bool)
	case models.KindInt:
		if v.Int >= math.MinInt32 && v.Int <= math.MaxInt32 {
			return ua.MustVariant(int32(v.Int))
		}

		return ua.MustVariant(v.Int)
	case models.KindFloat:
		return ua.MustVariant(v.Float)
	case models.KindString:
		return ua.MustVariant(v.Str)
	default:
		return ua.MustVariant(false)
	}
}

// errCoercionFailed is wrapped by coerceVariant on a failed inbound
// coercion (spec.md §4.D "Write semantics" step 1): BadTypeMismatch.
var errCoercionFailed = fmt.Errorf("incoming variant does not coerce to declared kind")

// coerceVariant is the inverse of valueToVariant: it converts a client's
// incoming OPC UA variant into the metric's declared kind, allowing a
// mismatched width within a kind (e.g. Int32 written to a Bool-backed
// variant is rejected, but Int32/Int64/Uint32 are all accepted for an
// Int-kind metric when the value is in int64 range).
func coerceVariant(kind models.Kind, raw interface{}) (models.Value, error) {
	switch kind {
	case models.KindBool:
		b, ok := raw.(bool)
		if !ok {
			return models.Value{}, fmt.Errorf("%w: want bool, got %T", errCoercionFailed, raw)
		}

		return models.BoolValue(b), nil

	case models.KindInt:
		i, err := coerceInt(raw)
		if err != nil {
			return models.Value{}, err
		}

		return models.IntValue(i), nil

	case models.KindFloat:
		switch n := raw.(type) {
		case float32:
			return models.FloatValue(float64(n)), nil
		case float64:
			return models.FloatValue(n), nil
		default:
			return models.Value{}, fmt.Errorf("%w: want float, got %T", errCoercionFailed, raw)
		}

	case models.KindString:
		s, ok := raw.(string)
		if !ok {
			return models.Value{}, fmt.Errorf("%w: want string, got %T", errCoercionFailed, raw)
		}

		return models.StringValue(s), nil

	default:
		return models.Value{}, fmt.Errorf("%w: unrecognized declared kind %s", errCoercionFailed, kind)
	}
}

func coerceInt(raw interface{}) (int64, error) {
	switch n := raw.(type) {
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: uint64 %d out of int64 range", errCoercionFailed, n)
		}

		return int64(n), nil
	default:
		return 0, fmt.Errorf("%w: want an integer width, got %T", errCoercionFailed, raw)
	}
}

// variantsEqual reports whether two variants carry the same dynamic value,
// used by the sync bridge to tell a fresh client write apart from the
// value it last pushed from the Store.
func variantsEqual(a, b *ua.Variant) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Value() == b.Value()
}
