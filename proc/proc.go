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

// Package proc finds the monitored process and reads its memory usage.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/docker/go-units"
	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"

	"github.com/gdamore/swapvisor/command"
	"github.com/gdamore/swapvisor/fault"
)

// DefaultRoot is the proc filesystem mount point.
const DefaultRoot = "/proc"

// Locator resolves a process id from a command line pattern.
type Locator struct {
	run    command.Runner
	logger logrus.FieldLogger
}

// NewLocator returns a Locator using pgrep through run.
func NewLocator(run command.Runner, logger logrus.FieldLogger) *Locator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Locator{run: run, logger: logger.WithField("component", "locator")}
}

// Locate returns the first process whose full command line contains
// pattern.  Our own process never counts, since the pattern usually
// appears in our arguments too.  No match is reported as
// fault.ErrNotFound; a missing pgrep is fault.ErrCommandNotFound.
func (l *Locator) Locate(ctx context.Context, pattern string) (int, error) {
	res, err := l.run.Run(ctx, command.Plain("Find process",
		"pgrep", "-f", pattern).WithTimeout(command.ReadTimeout))
	if err != nil {
		var ee *command.ExitError
		if errors.As(err, &ee) && ee.Code == 1 {
			return 0, fmt.Errorf("process '%s': %w", pattern, fault.ErrNotFound)
		}
		return 0, err
	}
	self := os.Getpid()
	var pids []int
	for _, line := range res.Lines() {
		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			return 0, fmt.Errorf("could not parse pid from %q: %w", line, fault.ErrUnexpected)
		}
		if pid != self {
			pids = append(pids, pid)
		}
	}
	if len(pids) == 0 {
		return 0, fmt.Errorf("process '%s': %w", pattern, fault.ErrNotFound)
	}
	if len(pids) > 1 {
		l.logger.Debugf("%d processes match '%s', using %d", len(pids), pattern, pids[0])
	}
	return pids[0], nil
}

// Usage is a memory sample of one process.
type Usage struct {
	RSS  int64 // resident bytes
	Swap int64 // swapped out bytes
}

// Format renders a byte count the way /proc does, "1234 kB".
func Format(n int64) string {
	return fmt.Sprintf("%d kB", n/1024)
}

// Human renders a byte count with binary units.
func Human(n int64) string {
	return units.BytesSize(float64(n))
}

// Sampler reads process memory counters below a proc root.
type Sampler struct {
	root string
}

// NewSampler returns a Sampler for the given proc root.
func NewSampler(root string) *Sampler {
	if root == "" {
		root = DefaultRoot
	}
	return &Sampler{root: root}
}

// Sample reads VmRSS and VmSwap for pid.  A process without a status
// record is gone, and is reported as fault.ErrNotFound.
func (s *Sampler) Sample(pid int) (Usage, error) {
	var u Usage
	fs, err := procfs.NewFS(s.root)
	if err != nil {
		return u, fmt.Errorf("proc root %s: %v: %w", s.root, err, fault.ErrUnexpected)
	}
	p, err := fs.Proc(pid)
	if err != nil {
		return u, statusErr(pid, err)
	}
	st, err := p.NewStatus()
	if err != nil {
		return u, statusErr(pid, err)
	}
	if st.VmSize == 0 {
		// kernel threads and zombies carry no Vm lines
		return u, fmt.Errorf("pid %d has no memory counters: %w", pid, fault.ErrNotFound)
	}
	u.RSS = int64(st.VmRSS)
	u.Swap = int64(st.VmSwap)
	return u, nil
}

func statusErr(pid int, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("pid %d: %w", pid, fault.ErrNotFound)
	}
	return fmt.Errorf("pid %d: %v: %w", pid, err, fault.ErrUnexpected)
}

// Host holds host wide memory totals, in bytes.
type Host struct {
	TotalRAM  int64
	TotalSwap int64
	FreeSwap  int64
}

// HostTotals reads the host memory totals from the kernel.
func HostTotals() (Host, error) {
	return hostTotals()
}
