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

package upstream

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrTransient wraps an upstream failure the Poller should retry within
// the current tick (spec.md §7 UpstreamTransient): network errors,
// timeouts, and unavailability.
var ErrTransient = errors.New("upstream transient error")

// ErrPermanent wraps an upstream failure the Poller must not retry
// (spec.md §7 UpstreamPermanent): authentication, tenant mismatch, or a
// malformed request.
var ErrPermanent = errors.New("upstream permanent error")

// Classify wraps err as ErrTransient or ErrPermanent based on its gRPC
// status code, the same classification the rest of this codebase performs
// via google.golang.org/grpc/codes and status.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound, codes.Unimplemented:
		return errJoin(ErrPermanent, err)
	default:
		return errJoin(ErrTransient, err)
	}
}

func errJoin(sentinel, err error) error {
	return &classifiedError{sentinel: sentinel, cause: err}
}

type classifiedError struct {
	sentinel error
	cause    error
}

func (c *classifiedError) Error() string {
	return c.sentinel.Error() + ": " + c.cause.Error()
}

func (c *classifiedError) Unwrap() []error {
	return []error{c.sentinel, c.cause}
}
