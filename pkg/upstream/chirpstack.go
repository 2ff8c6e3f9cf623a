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

// Package upstream implements the three ChirpStack gRPC operations the
// Poller needs (spec.md §6): listing applications for liveness and
// discovery, listing devices per application, and fetching per-device
// metric series.
package upstream

import (
	"context"
	"time"

	chirpstack "github.com/chirpstack/chirpstack/api/go/v4/api"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Application is the subset of a ChirpStack application the Poller needs.
type Application struct {
	ID   string
	Name string
}

// Device is the subset of a ChirpStack device the Poller needs.
type Device struct {
	DevEUI string
	Name   string
}

// Sample is one observed (metric name, value, timestamp) tuple from a
// device's metric series.
type Sample struct {
	MetricName string
	Value      float64
	ObservedAt time.Time
}

// Client is the abstract upstream API surface spec.md §6 names: discover
// applications and devices, and fetch per-device metric series.
type Client interface {
	ListApplications(ctx context.Context, tenantID string) ([]Application, error)
	ListDevices(ctx context.Context, applicationID string) ([]Device, error)
	GetDeviceMetrics(ctx context.Context, deviceID string, window time.Duration) ([]Sample, error)
}

// ChirpstackClient implements Client against a real ChirpStack v4 gRPC API
// connection, using the real github.com/chirpstack/chirpstack/api/go/v4/api
// client stubs rather than a hand-rolled protocol.
type ChirpstackClient struct {
	apps    chirpstack.ApplicationServiceClient
	devices chirpstack.DeviceServiceClient
}

// NewChirpstackClient builds a ChirpstackClient over an existing gRPC
// connection (owned and dialed by pkg/grpcclient.Client).
func NewChirpstackClient(conn grpc.ClientConnInterface) *ChirpstackClient {
	return &ChirpstackClient{
		apps:    chirpstack.NewApplicationServiceClient(conn),
		devices: chirpstack.NewDeviceServiceClient(conn),
	}
}

// ListApplications implements the liveness-probe call (spec.md §4.C step
// 1): a cheap list of applications scoped to the configured tenant.
func (c *ChirpstackClient) ListApplications(ctx context.Context, tenantID string) ([]Application, error) {
	resp, err := c.apps.List(ctx, &chirpstack.ListApplicationsRequest{
		TenantId: tenantID,
		Limit:    listAllLimit,
	})
	if err != nil {
		return nil, Classify(err)
	}

	apps := make([]Application, 0, len(resp.GetResult()))

	for _, a := range resp.GetResult() {
		apps = append(apps, Application{ID: a.GetId(), Name: a.GetName()})
	}

	return apps, nil
}

const listAllLimit = 1000

// ListDevices implements the per-application device enumeration (spec.md
// §4.C step 2).
func (c *ChirpstackClient) ListDevices(ctx context.Context, applicationID string) ([]Device, error) {
	resp, err := c.devices.List(ctx, &chirpstack.ListDevicesRequest{
		ApplicationId: applicationID,
		Limit:         listAllLimit,
	})
	if err != nil {
		return nil, Classify(err)
	}

	devices := make([]Device, 0, len(resp.GetResult()))

	for _, d := range resp.GetResult() {
		devices = append(devices, Device{DevEUI: d.GetDevEui(), Name: d.GetName()})
	}

	return devices, nil
}

// GetDeviceMetrics fetches the device's metric series for the requested
// window (spec.md §4.C step 2, window = PollerConfig.MetricWindow *
// PollPeriod) and flattens it into per-metric samples. The Poller extracts
// the most recent non-null sample per configured metric (spec.md §4.C
// step 3); GetDeviceMetrics itself does no filtering or coalescing.
func (c *ChirpstackClient) GetDeviceMetrics(ctx context.Context, deviceID string, window time.Duration) ([]Sample, error) {
	now := time.Now()

	resp, err := c.devices.GetMetrics(ctx, &chirpstack.GetDeviceMetricsRequest{
		DevEui:      deviceID,
		Start:       timestamppb.New(now.Add(-window)),
		End:         timestamppb.New(now),
		Aggregation: chirpstack.Aggregation_MINUTE,
	})
	if err != nil {
		return nil, Classify(err)
	}

	samples := make([]Sample, 0)

	for metricName, metric := range resp.GetMetrics() {
		ts := metric.GetTimestamps()
		datasets := metric.GetDatasets()

		for _, ds := range datasets {
			for i, value := range ds.GetData() {
				if i >= len(ts) {
					break
				}

				samples = append(samples, Sample{
					MetricName: metricName,
					Value:      float64(value),
					ObservedAt: ts[i].AsTime(),
				})
			}
		}
	}

	return samples, nil
}
