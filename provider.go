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

package swapvisor

import (
	"context"

	"github.com/gdamore/swapvisor/cgroup"
	"github.com/gdamore/swapvisor/proc"
	"github.com/gdamore/swapvisor/swap"
)

// The Supervisor drives its collaborators through these interfaces.  It
// promises not to call any of them concurrently with itself, except for
// SwapManager, whose DeleteMatching may be requested from outside the
// loop.  The packages swap, cgroup, proc and docker hold the real ones.

// SwapManager owns the managed swap area.
type SwapManager interface {
	// Preflight runs advisory checks; failures are returned for
	// reporting only.
	Preflight(ctx context.Context) []error

	// Setup resets host swap and builds a fresh area.
	Setup(ctx context.Context) (*swap.Info, error)

	// Teardown removes what Setup built.
	Teardown(ctx context.Context) error

	// Active describes the area currently in place, or nil.
	Active() *swap.Info

	// DeleteMatching removes all matching swap files.
	DeleteMatching(ctx context.Context, detachAll bool) *swap.DeleteReport
}

// Limiter places a process in the control group.
type Limiter interface {
	// Configure ensures the group, enrolls pid, then writes the
	// ceilings.  Ceilings are only written once pid is enrolled.
	Configure(ctx context.Context, pid int, memory, swap cgroup.Limit) (cgroup.Outcome, []string, error)

	// Unified reports whether the hierarchy is cgroup v2.
	Unified() bool
}

// Locator finds the monitored process.  No match is fault.ErrNotFound.
type Locator interface {
	Locate(ctx context.Context, pattern string) (int, error)
}

// Sampler reads memory usage.  A vanished process is fault.ErrNotFound.
type Sampler interface {
	Sample(pid int) (proc.Usage, error)
}

// Restarter restarts the enclosing container.
type Restarter interface {
	Connect(ctx context.Context) error
	Connected() bool
	Restart(ctx context.Context, name string) error
}

// Components are the collaborators of a Supervisor.  Restarter may be
// nil, in which case the container is never restarted.
type Components struct {
	Swap      SwapManager
	Limiter   Limiter
	Locator   Locator
	Sampler   Sampler
	Restarter Restarter
}
