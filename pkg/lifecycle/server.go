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

// Package lifecycle runs the gateway's long-lived services — the Poller
// and the OPC UA binding — to completion, handling signal-driven graceful
// shutdown the way the rest of this codebase's daemons do.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
)

const (
	// ShutdownTimeout bounds how long graceful shutdown may take before
	// the process gives up and returns an error (spec.md §5).
	ShutdownTimeout = 10 * time.Second

	defaultErrChanSize = 4
)

var (
	errShutdownTimeout = errors.New("timeout shutting down")
	errServiceStop     = errors.New("service stop failed")
)

// Service is implemented by every long-running component RunServer
// supervises: the Poller and the OPC UA binding both satisfy it.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures RunServer.
type Options struct {
	// Services are started concurrently and share one shutdown token, per
	// spec.md §5's single process-level shutdown signal.
	Services []Service
	Logger   logger.Logger
}

// RunServer starts every configured Service and blocks until a shutdown
// signal (SIGINT/SIGTERM), a fatal Service error, or context cancellation.
// On a signal it cancels the shared context and drains every Service via
// Stop within ShutdownTimeout; on a Service error or context cancellation
// it cancels the shared context and returns at once without calling Stop.
func RunServer(ctx context.Context, opts *Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := opts.Logger
	if log == nil {
		log = logger.Bootstrap()
	}

	errChan := make(chan error, defaultErrChanSize)

	for _, svc := range opts.Services {
		svc := svc

		go func() {
			if err := svc.Start(ctx); err != nil {
				errChan <- fmt.Errorf("service start failed: %w", err)
			}
		}()
	}

	return handleShutdown(ctx, cancel, opts.Services, errChan, log)
}

func handleShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	services []Service,
	errChan chan error,
	log logger.Logger,
) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received signal, initiating shutdown")
	case err := <-errChan:
		log.Error().Err(err).Msg("service reported a fatal error, initiating shutdown")
		cancel()

		return err
	case <-ctx.Done():
		log.Info().Msg("context canceled, initiating shutdown")

		return ctx.Err()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	stopErrs := make(chan error, len(services))

	for _, svc := range services {
		svc := svc

		go func() {
			if err := svc.Stop(shutdownCtx); err != nil {
				stopErrs <- fmt.Errorf("%w: %w", errServiceStop, err)
				return
			}

			stopErrs <- nil
		}()
	}

	var stopErr error

	for range services {
		select {
		case err := <-stopErrs:
			if err != nil && stopErr == nil {
				stopErr = err
			}
		case <-shutdownCtx.Done():
			log.Error().Msg("shutdown timed out")

			return fmt.Errorf("%w: %w", errShutdownTimeout, shutdownCtx.Err())
		}
	}

	return stopErr
}
