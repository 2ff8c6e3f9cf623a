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

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
)

var errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")

const (
	configSourceFile = "file"
	configSourceEnv  = "env"

	envPrefix = "GATEWAY_"

	// DefaultPath is the conventional on-disk location consulted when
	// neither a --config flag nor CONFIG_PATH is supplied.
	DefaultPath = "/etc/lorawan-opcua-gateway/config.json"
)

// Loader orchestrates configuration loading and validation: it selects a
// ConfigLoader strategy based on CONFIG_SOURCE, loads into the destination,
// and then runs Validate if the destination implements Validator.
type Loader struct {
	fileLoader *FileConfigLoader
	logger     logger.Logger
}

// NewLoader builds a Loader. If log is nil, a bootstrap logger is used —
// configuration loading happens before a component logger can exist.
func NewLoader(log logger.Logger) *Loader {
	if log == nil {
		log = logger.Bootstrap()
	}

	return &Loader{fileLoader: NewFileConfigLoader(log), logger: log}
}

// LoadAndValidate loads cfg from the source named by CONFIG_SOURCE
// ("file" by default, "env" for containerized overrides) and validates it.
// A validation failure is a models.ErrConfig, fatal at startup.
func (l *Loader) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceEnv:
		loader = NewEnvConfigLoader(l.logger, envPrefix)
	case configSourceFile, "":
		loader = l.fileLoader
	default:
		return fmt.Errorf("%w: %s: %s (expected %q or %q)",
			models.ErrConfig, errInvalidConfigSource, source, configSourceFile, configSourceEnv)
	}

	if err := loader.Load(ctx, path, cfg); err != nil {
		return fmt.Errorf("%w: %w", models.ErrConfig, err)
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %w", models.ErrConfig, err)
		}
	}

	return nil
}

// PathFromEnvOrFlag resolves the config path: an explicit flag value wins,
// then CONFIG_PATH, then DefaultPath.
func PathFromEnvOrFlag(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}

	return DefaultPath
}
