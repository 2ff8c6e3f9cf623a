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

// Package config loads the gateway's configuration snapshot from a file or
// from environment variables, and validates it before the rest of the
// process sees it.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
)

// ConfigLoader loads a configuration document into dst.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configuration types that can check and
// normalize themselves after loading.
type Validator interface {
	Validate() error
}

// FileConfigLoader loads configuration from a local JSON file, the default
// loader strategy.
type FileConfigLoader struct {
	logger logger.Logger
}

// NewFileConfigLoader creates a FileConfigLoader.
func NewFileConfigLoader(log logger.Logger) *FileConfigLoader {
	return &FileConfigLoader{logger: log}
}

// Load implements ConfigLoader by reading and unmarshaling a JSON file.
func (f *FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	if f.logger != nil {
		f.logger.Debug().Str("path", path).Msg("loading configuration from file")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %q: %w", path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from %q: %w", path, err)
	}

	if f.logger != nil {
		f.logger.Info().Str("path", path).Msg("loaded configuration from file")
	}

	return nil
}
