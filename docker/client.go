// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package docker wraps the Docker Engine client, covering only what is
// needed to restart the container that hosts the monitored process.
package docker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/gdamore/swapvisor/fault"
)

// DefaultHost is the engine socket used when no host is configured.
const DefaultHost = "unix:///var/run/docker.sock"

// StopTimeout is the grace period, in seconds, the engine gives the
// container before killing it during a restart.
const StopTimeout = 10

// ErrNotConnected is returned when no connection to the engine was ever
// established.
var ErrNotConnected = errors.New("Container runtime not connected")

// Client talks to one engine.
type Client struct {
	api       *client.Client
	connected bool
	mx        sync.Mutex
}

// NewClient returns a client for host, which may be a unix:// socket or
// a tcp:// address.  The API version is negotiated on first contact.
func NewClient(host string) (*Client, error) {
	if host == "" {
		host = DefaultHost
	}
	api, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker host '%s': %w", host, err)
	}
	return &Client{api: api}, nil
}

// Host returns the engine address in use.
func (c *Client) Host() string {
	return c.api.DaemonHost()
}

// Close releases the client's idle connections.
func (c *Client) Close() error {
	return c.api.Close()
}

// Connect pings the engine.  Until it succeeds, Restart is unavailable.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return err
	}
	c.mx.Lock()
	c.connected = true
	c.mx.Unlock()
	return nil
}

// Connected reports whether Connect ever succeeded.
func (c *Client) Connected() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.connected
}

func notFound(name string, err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("container '%s': %w", name, fault.ErrNotFound)
	}
	return err
}

// Get inspects a container by name or id.  A missing container is
// reported as fault.ErrNotFound.
func (c *Client) Get(ctx context.Context, name string) (types.ContainerJSON, error) {
	if !c.Connected() {
		return types.ContainerJSON{}, ErrNotConnected
	}
	ctr, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		return ctr, notFound(name, err)
	}
	return ctr, nil
}

// Restart restarts the named container.
func (c *Client) Restart(ctx context.Context, name string) error {
	ctr, err := c.Get(ctx, name)
	if err != nil {
		return err
	}
	t := StopTimeout
	err = c.api.ContainerRestart(ctx, ctr.ID, container.StopOptions{Timeout: &t})
	return notFound(name, err)
}
