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

// Command gateway is the LoRaWAN-to-OPC-UA protocol gateway (spec.md §1):
// it wires together the Config snapshot, the Shared Store, the Poller,
// and the OPC UA binding, and runs the latter two to completion.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/config"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/lifecycle"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/opcuaserver"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/poller"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/store"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		logger.Bootstrap().Fatal().Err(err).Msg("fatal error")
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to gateway config file (defaults to CONFIG_PATH or the conventional path)")
	flag.Parse()

	ctx := context.Background()

	bootstrap := logger.Bootstrap()

	var cfg models.GatewayConfig

	loader := config.NewLoader(bootstrap)
	if err := loader.LoadAndValidate(ctx, config.PathFromEnvOrFlag(*configPath), &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	log := logger.New(&logger.Config{})

	st := store.New(&cfg)

	pollerSvc, err := poller.New(ctx, &cfg, st, nil, log.WithComponent("poller"))
	if err != nil {
		return fmt.Errorf("failed to construct poller: %w", err)
	}

	binding := opcuaserver.New(&cfg, st, log.WithComponent("opcuaserver"))
	if err := binding.Build(); err != nil {
		return fmt.Errorf("failed to build opc ua address space: %w", err)
	}

	opts := &lifecycle.Options{
		Services: []lifecycle.Service{pollerSvc, binding},
		Logger:   log,
	}

	if err := lifecycle.RunServer(ctx, opts); err != nil {
		return fmt.Errorf("gateway server error: %w", err)
	}

	return nil
}
