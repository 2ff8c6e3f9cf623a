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

// Package models holds the data types shared between the poller, the
// shared store, and the OPC UA binding.
package models

import "fmt"

// Kind identifies the declared OPC UA data type of a configured metric.
type Kind string

const (
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
)

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBool, KindInt, KindFloat, KindString:
		return true
	default:
		return false
	}
}

// Value is a tagged variant over the value kinds a metric may report.
// Exactly one of the typed fields is meaningful; Kind says which.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

// BoolValue constructs a Bool-kind Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue constructs an Int-kind Value.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue constructs a Float-kind Value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringValue constructs a String-kind Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// Zero returns the type-appropriate zero Value for k.
func Zero(k Kind) Value {
	return Value{Kind: k}
}

// String renders the value for logging, exhaustive over Kind.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	default:
		return "<unset>"
	}
}
