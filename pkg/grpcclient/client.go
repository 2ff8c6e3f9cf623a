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

// Package grpcclient wraps a google.golang.org/grpc.ClientConn with the
// transport-security and bearer-token conveniences the Poller needs when
// talking to the upstream ChirpStack server.
package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fieldwire/lorawan-opcua-gateway/pkg/logger"
	"github.com/fieldwire/lorawan-opcua-gateway/pkg/models"
)

const defaultDialTimeout = 10 * time.Second

// ClientConfig configures a Client.
type ClientConfig struct {
	Address     string
	BearerToken string
	Security    *models.SecurityConfig
	MaxRetries  int
	Logger      logger.Logger
}

// Client owns one long-lived gRPC connection to the upstream, dialed once
// at Poller startup and reused for every call thereafter.
type Client struct {
	conn   *grpc.ClientConn
	logger logger.Logger
}

// NewClient dials address and wraps the resulting connection. Dialing uses
// a bounded timeout so a dead upstream fails startup fast rather than
// hanging; the Poller is responsible for its own retry loop around
// NewClient (spec.md §4.C "Startup").
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	creds, err := transportCredentials(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("failed to build transport credentials: %w", err)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
	}

	if cfg.BearerToken != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(bearerCredentials{
			token:                cfg.BearerToken,
			requireTransportTLS: cfg.Security != nil && cfg.Security.Mode == models.SecurityModeTLS,
		}))
	}

	conn, err := grpc.DialContext(dialCtx, cfg.Address, dialOpts...) //nolint:staticcheck // grpc.NewClient lacks WithBlock's fail-fast startup semantics
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.Address, err)
	}

	return &Client{
		conn:   conn,
		logger: cfg.Logger,
	}, nil
}

// GetConnection returns the underlying connection for constructing
// service-specific stubs (ApplicationServiceClient, DeviceServiceClient).
func (c *Client) GetConnection() *grpc.ClientConn {
	return c.conn
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func transportCredentials(sec *models.SecurityConfig) (credentials.TransportCredentials, error) {
	if sec == nil || sec.Mode == models.SecurityModeNone || sec.Mode == "" {
		return insecure.NewCredentials(), nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12} //nolint:gosec // server name set below when provided

	if sec.TLS.ServerName != "" {
		tlsConfig.ServerName = sec.TLS.ServerName
	}

	if sec.TLS.CAFile != "" {
		caCert, err := os.ReadFile(sec.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca_file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse ca_file %s", sec.TLS.CAFile)
		}

		tlsConfig.RootCAs = pool
	}

	if sec.TLS.CertFile != "" && sec.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(sec.TLS.CertFile, sec.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(tlsConfig), nil
}
