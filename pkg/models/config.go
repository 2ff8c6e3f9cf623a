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

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

var (
	errInvalidDuration     = fmt.Errorf("invalid duration")
	errNoApplications      = fmt.Errorf("config must declare at least one application")
	errApplicationIDEmpty  = fmt.Errorf("application id must not be empty")
	errDuplicateAppID      = fmt.Errorf("duplicate application id")
	errNoDevices           = fmt.Errorf("application must declare at least one device")
	errDeviceIDEmpty       = fmt.Errorf("device id must not be empty")
	errDuplicateDeviceID   = fmt.Errorf("duplicate device id within application")
	errNoMetrics           = fmt.Errorf("device must declare at least one metric")
	errMetricAliasEmpty    = fmt.Errorf("metric alias must not be empty")
	errDuplicateAlias      = fmt.Errorf("duplicate metric alias within device")
	errMetricNameEmpty     = fmt.Errorf("metric upstream name must not be empty")
	errMetricKindInvalid   = fmt.Errorf("metric has no declared kind or an unrecognized kind")
	errUpstreamAddrEmpty   = fmt.Errorf("upstream.address is required")
	errUpstreamTenantEmpty = fmt.Errorf("upstream.tenant_id is required")
	errOPCUABindEmpty      = fmt.Errorf("opcua.bind_address is required")
	errOPCUAAppURIEmpty    = fmt.Errorf("opcua.application_uri is required")
)

const (
	defaultPollPeriod   = 30 * time.Second
	defaultRetryCount   = 3
	defaultRetryDelay   = 2 * time.Second
	defaultMetricWindow = 3 // multiple of PollPeriod, see Validate
)

// Duration is a wrapper around time.Duration that accepts either a JSON
// number (nanoseconds) or a Go duration string ("30s") on unmarshal, the
// same convention used by the rest of this codebase's configuration types.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s", errInvalidDuration, value)
		}

		*d = Duration(parsed)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MetricConfig describes one configured metric on a Device: its upstream
// name (as emitted by ChirpStack), its downstream alias (as exposed in the
// OPC UA address space), its declared kind, and whether SCADA clients may
// write to it.
type MetricConfig struct {
	MetricName  string `json:"metric_name"`
	MetricAlias string `json:"metric_alias"`
	Kind        Kind   `json:"kind"`
	Unit        string `json:"unit,omitempty"`
	Writable    bool   `json:"writable,omitempty"`
}

// DeviceConfig describes one configured Device and its Metrics.
type DeviceConfig struct {
	DeviceID   string         `json:"device_id"`
	DeviceName string         `json:"device_name"`
	Metrics    []MetricConfig `json:"metrics"`
}

// ApplicationConfig describes one configured Application and its Devices.
type ApplicationConfig struct {
	ApplicationID   string         `json:"application_id"`
	ApplicationName string         `json:"application_name"`
	Devices         []DeviceConfig `json:"devices"`
}

// UpstreamConfig describes the ChirpStack gRPC endpoint the Poller dials.
type UpstreamConfig struct {
	Address     string          `json:"address"`
	BearerToken string          `json:"bearer_token"`
	TenantID    string          `json:"tenant_id"`
	Security    *SecurityConfig `json:"security,omitempty"`
}

// PollerConfig carries the Poller's tunables (spec.md §4.A).
type PollerConfig struct {
	PollPeriod   Duration `json:"poll_period"`
	RetryCount   int      `json:"retry_count"`
	RetryDelay   Duration `json:"retry_delay"`
	// MetricWindow is a multiple of PollPeriod describing how far back the
	// Poller asks the upstream to aggregate "last value" samples from. It
	// resolves the fetch-window Open Question: always pick the latest
	// sample inside the window, never coalesce.
	MetricWindow int `json:"metric_window,omitempty"`
}

// OPCUAConfig carries the OPC UA binding's tunables (spec.md §4.A, §6).
type OPCUAConfig struct {
	ApplicationURI string `json:"application_uri"`
	ProductURI     string `json:"product_uri"`
	BindAddress    string `json:"bind_address"`
	EndpointPath   string `json:"endpoint_path"`
	// EngineConfigPath points at a protocol-engine configuration blob
	// (endpoints, certificates, limits). The binding does not read it:
	// Binding.Build configures the engine from BindAddress and
	// ApplicationURI only.
	EngineConfigPath string `json:"engine_config_path,omitempty"`
	PKIDir           string `json:"pki_dir,omitempty"`
}

// GatewayConfig is the top-level, immutable configuration snapshot
// consumed read-only by every other component (spec.md §3, §4.A).
type GatewayConfig struct {
	Applications []ApplicationConfig `json:"applications"`
	Upstream     UpstreamConfig      `json:"upstream"`
	Poller       PollerConfig        `json:"poller"`
	OPCUA        OPCUAConfig         `json:"opcua"`
}

// Validate implements config.Validator. It enforces the loader guarantees
// spec.md §4.A assumes are already true by the time the core sees a
// GatewayConfig: unique application/device ids, unique metric aliases
// within a device, and a declared kind on every metric.
func (c *GatewayConfig) Validate() error {
	if len(c.Applications) == 0 {
		return errNoApplications
	}

	if c.Upstream.Address == "" {
		return errUpstreamAddrEmpty
	}

	if c.Upstream.TenantID == "" {
		return errUpstreamTenantEmpty
	}

	if c.OPCUA.BindAddress == "" {
		return errOPCUABindEmpty
	}

	if c.OPCUA.ApplicationURI == "" {
		return errOPCUAAppURIEmpty
	}

	if time.Duration(c.Poller.PollPeriod) <= 0 {
		c.Poller.PollPeriod = Duration(defaultPollPeriod)
	}

	if c.Poller.RetryCount <= 0 {
		c.Poller.RetryCount = defaultRetryCount
	}

	if time.Duration(c.Poller.RetryDelay) <= 0 {
		c.Poller.RetryDelay = Duration(defaultRetryDelay)
	}

	if c.Poller.MetricWindow <= 0 {
		c.Poller.MetricWindow = defaultMetricWindow
	}

	seenApps := make(map[string]struct{}, len(c.Applications))

	for ai := range c.Applications {
		app := &c.Applications[ai]

		if app.ApplicationID == "" {
			return errApplicationIDEmpty
		}

		if _, dup := seenApps[app.ApplicationID]; dup {
			return fmt.Errorf("%w: %s", errDuplicateAppID, app.ApplicationID)
		}

		seenApps[app.ApplicationID] = struct{}{}

		if err := validateDevices(app); err != nil {
			return err
		}
	}

	return nil
}

func validateDevices(app *ApplicationConfig) error {
	if len(app.Devices) == 0 {
		return fmt.Errorf("%w: application %s", errNoDevices, app.ApplicationID)
	}

	seenDevices := make(map[string]struct{}, len(app.Devices))

	for di := range app.Devices {
		dev := &app.Devices[di]

		if dev.DeviceID == "" {
			return errDeviceIDEmpty
		}

		if _, dup := seenDevices[dev.DeviceID]; dup {
			return fmt.Errorf("%w: %s", errDuplicateDeviceID, dev.DeviceID)
		}

		seenDevices[dev.DeviceID] = struct{}{}

		if err := validateMetrics(dev); err != nil {
			return err
		}
	}

	return nil
}

func validateMetrics(dev *DeviceConfig) error {
	if len(dev.Metrics) == 0 {
		return fmt.Errorf("%w: device %s", errNoMetrics, dev.DeviceID)
	}

	seenAliases := make(map[string]struct{}, len(dev.Metrics))

	for mi := range dev.Metrics {
		m := &dev.Metrics[mi]

		if m.MetricAlias == "" {
			return errMetricAliasEmpty
		}

		if m.MetricName == "" {
			return errMetricNameEmpty
		}

		if !m.Kind.Valid() {
			return fmt.Errorf("%w: %s/%s", errMetricKindInvalid, dev.DeviceID, m.MetricAlias)
		}

		if _, dup := seenAliases[m.MetricAlias]; dup {
			return fmt.Errorf("%w: %s/%s", errDuplicateAlias, dev.DeviceID, m.MetricAlias)
		}

		seenAliases[m.MetricAlias] = struct{}{}
	}

	return nil
}
