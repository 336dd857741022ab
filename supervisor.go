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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdamore/swapvisor/cgroup"
	"github.com/gdamore/swapvisor/fault"
	"github.com/gdamore/swapvisor/swap"
)

const (
	DefaultConnectRetries  = 5
	DefaultConnectDelay    = 5 * time.Second
	DefaultPanicBackoff    = 10 * time.Second
	DefaultMinSleep        = time.Second
	DefaultTeardownTimeout = 60 * time.Second

	connectTimeout = 10 * time.Second
	restartTimeout = 60 * time.Second
)

// Supervisor runs the locate, limit and monitor loop.
type Supervisor struct {
	cfg    Config
	c      Components
	state  *State
	rate   *rateLimiter
	logger logrus.FieldLogger

	// owned by the loop
	pid       int // 0 when no valid pid is held
	cgroupPid int // pid the group was last fully configured for
	retries   int

	// Tunables, normally left at their defaults.
	ConnectRetries  int
	ConnectDelay    time.Duration
	PanicBackoff    time.Duration
	MinSleep        time.Duration
	TeardownTimeout time.Duration
}

// NewSupervisor returns a Supervisor.  It does nothing until Run.
func NewSupervisor(cfg Config, c Components, logger logrus.FieldLogger) *Supervisor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "supervisor")
	return &Supervisor{
		cfg:             cfg,
		c:               c,
		state:           NewState(cfg),
		rate:            newRateLimiter(cfg.RestartRateLimit, cfg.RestartRatePeriod, logger),
		logger:          logger,
		ConnectRetries:  DefaultConnectRetries,
		ConnectDelay:    DefaultConnectDelay,
		PanicBackoff:    DefaultPanicBackoff,
		MinSleep:        DefaultMinSleep,
		TeardownTimeout: DefaultTeardownTimeout,
	}
}

// State returns the shared status record.
func (s *Supervisor) State() *State {
	return s.state
}

func (s *Supervisor) critical() logrus.FieldLogger {
	return s.logger.WithField("critical", true)
}

// sleep waits for d, returning false if ctx was cancelled first.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Run bootstraps and then loops until ctx is cancelled, after which the
// swap area is torn down.  It always returns nil once torn down.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Infof("Supervising '%s' in container '%s'",
		s.cfg.TargetProcess, s.cfg.ContainerName)
	s.bootstrap(ctx)
	for s.sleep(ctx, s.safeCycle(ctx)) {
	}
	s.logger.Info("Supervisor stopping")
	s.teardown()
	return nil
}

func (s *Supervisor) bootstrap(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("swap setup: %v: %w", r, fault.ErrUnexpected)
			s.critical().Error(err)
			s.state.update(func(st *Status) {
				st.SwapStatus = SwapFailed
				st.setError(srcSwap, err)
			})
		}
		if ctx.Err() == nil {
			s.connect(ctx)
		}
	}()

	s.state.update(func(st *Status) {
		st.SwapStatus = SwapSettingUp
		st.Cgroup2 = s.c.Limiter.Unified()
		st.Message = "Setting up swap"
	})
	for _, err := range s.c.Swap.Preflight(ctx) {
		err := err
		s.state.update(func(st *Status) {
			st.setError(srcSwap, fmt.Errorf("preflight: %w", err))
		})
	}
	info, err := s.c.Swap.Setup(ctx)
	if err != nil {
		s.logger.Errorf("Swap setup failed, continuing without swap: %v", err)
		s.state.update(func(st *Status) {
			st.SwapStatus = SwapFailed
			st.SwapDevice = ""
			st.SwapCreated = time.Time{}
			st.Message = "Swap setup failed"
			st.setError(srcSwap, err)
		})
		return
	}
	s.logger.Infof("Swap active on %s", info.Device)
	s.state.update(func(st *Status) {
		st.SwapStatus = SwapActive
		st.SwapDevice = info.Device
		st.SwapCreated = info.Created
		st.Swappiness = info.Swappiness
		st.Message = "Swap active"
		st.clearError(srcSwap)
	})
}

func (s *Supervisor) connect(ctx context.Context) {
	if s.c.Restarter == nil {
		s.logger.Warn("No container runtime configured, restarts disabled")
		return
	}
	var err error
	for i := 1; i <= s.ConnectRetries; i++ {
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		err = s.c.Restarter.Connect(cctx)
		cancel()
		if err == nil {
			s.logger.Info("Connected to container runtime")
			s.state.update(func(st *Status) {
				st.clearError(srcDocker)
			})
			return
		}
		s.logger.Warnf("Container runtime connection attempt %d/%d failed: %v",
			i, s.ConnectRetries, err)
		if i < s.ConnectRetries && !s.sleep(ctx, s.ConnectDelay) {
			return
		}
	}
	err = fmt.Errorf("container runtime unreachable after %d attempts: %w",
		s.ConnectRetries, err)
	s.logger.Error(err)
	s.state.update(func(st *Status) {
		st.setError(srcDocker, err)
	})
}

// safeCycle runs one cycle, and turns a panic into a logged failure
// followed by a short back off.
func (s *Supervisor) safeCycle(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v: %w", r, fault.ErrUnexpected)
			s.critical().Errorf("Unexpected error in supervisor loop: %v", err)
			s.pid = 0
			s.cgroupPid = 0
			s.state.update(func(st *Status) {
				st.Pid = 0
				st.UsageValid = false
				st.CgroupStatus = CgroupUnknown
				st.setError(srcLoop, err)
			})
			wait = s.PanicBackoff
		}
	}()
	return s.cycle(ctx)
}

// cycle does one pass and returns how long to wait before the next.
func (s *Supervisor) cycle(ctx context.Context) time.Duration {
	start := time.Now()
	s.logger.Debugf("Checking '%s'", s.cfg.TargetProcess)

	if s.pid <= 0 {
		if wait, again := s.locate(ctx); again {
			return wait
		}
	}
	if s.pid > 0 && s.cgroupPid != s.pid {
		s.limit(ctx)
	}
	if s.pid > 0 {
		s.monitor()
	} else {
		s.state.update(func(st *Status) {
			st.UsageValid = false
		})
	}

	wait := s.cfg.CheckInterval - time.Since(start)
	if wait < s.MinSleep {
		wait = s.MinSleep
	}
	return wait
}

// locate looks for the process.  When it returns true, the cycle ends
// early and the next starts after the returned wait.
func (s *Supervisor) locate(ctx context.Context) (time.Duration, bool) {
	pid, err := s.c.Locator.Locate(ctx, s.cfg.TargetProcess)
	if err == nil {
		s.logger.Infof("Found '%s' with pid %d", s.cfg.TargetProcess, pid)
		s.pid = pid
		s.retries = 0
		s.state.update(func(st *Status) {
			st.Pid = pid
			st.Message = fmt.Sprintf("Found process %d", pid)
			st.clearError(srcLocate)
		})
		return 0, false
	}
	if ctx.Err() != nil {
		return 0, true
	}

	s.retries++
	s.state.update(func(st *Status) {
		st.Pid = 0
		st.setError(srcLocate, err)
	})
	if s.retries < s.cfg.MaxPidRetries {
		s.logger.Warnf("Process not found (attempt %d/%d): %v",
			s.retries, s.cfg.MaxPidRetries, err)
		wait := s.cfg.StartTimeout / time.Duration(s.cfg.MaxPidRetries)
		if wait < s.MinSleep {
			wait = s.MinSleep
		}
		return wait, true
	}

	s.logger.Errorf("Process not found after %d attempts", s.retries)
	s.retries = 0
	s.state.update(func(st *Status) {
		st.CgroupStatus = CgroupUnknown
	})
	if s.restart(ctx) {
		return s.cfg.StartTimeout, true
	}
	return 0, false
}

// restart asks for a container restart, and reports whether one was
// initiated.
func (s *Supervisor) restart(ctx context.Context) bool {
	name := s.cfg.ContainerName
	var err error
	switch {
	case s.c.Restarter == nil || !s.c.Restarter.Connected():
		err = ErrNoRestarter
	default:
		err = s.rate.tooQuickly()
	}
	if err != nil {
		s.logger.Warnf("Not restarting container '%s': %v", name, err)
		s.state.update(func(st *Status) {
			st.Message = "Process not found, restart skipped"
			st.setError(srcRestart, err)
		})
		return false
	}

	s.logger.Warnf("Restarting container '%s'", name)
	s.rate.record()
	rctx, cancel := context.WithTimeout(ctx, restartTimeout)
	err = s.c.Restarter.Restart(rctx, name)
	cancel()
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			s.critical().Errorf("Container '%s' not found for restart", name)
		} else {
			s.critical().Errorf("Restart of '%s' failed, manual intervention may be required: %v", name, err)
		}
		s.state.update(func(st *Status) {
			st.Message = "Container restart failed"
			st.setError(srcRestart, err)
		})
		return false
	}
	s.logger.Infof("Container '%s' restarting, waiting %v", name, s.cfg.StartTimeout)
	s.state.update(func(st *Status) {
		st.Restarts++
		st.LastRestart = time.Now()
		st.Message = "Container restarted, waiting for process"
		st.clearError(srcRestart)
	})
	return true
}

func (s *Supervisor) limit(ctx context.Context) {
	pid := s.pid
	s.logger.Infof("Configuring cgroup '%s' for pid %d", s.cfg.CgroupName, pid)
	s.state.update(func(st *Status) {
		st.CgroupStatus = CgroupConfiguring
	})
	outcome, warnings, err := s.c.Limiter.Configure(ctx, pid, s.cfg.MemoryLimit, s.cfg.SwapLimit)
	if outcome == cgroup.ConfiguredWithWarnings {
		err = fmt.Errorf("%s: %w", strings.Join(warnings, "; "), fault.ErrResourceUnavailable)
	}
	switch outcome {
	case cgroup.Configured:
		s.cgroupPid = pid
		s.logger.Infof("Limits applied to pid %d", pid)
	case cgroup.ConfiguredWithWarnings:
		s.logger.Warnf("Limits for pid %d partly applied, will retry: %v", pid, err)
	default:
		s.logger.Errorf("Cgroup setup for pid %d failed, will retry: %v", pid, err)
	}
	s.state.update(func(st *Status) {
		st.CgroupStatus = cgroupStatus(outcome)
		if outcome == cgroup.Configured {
			st.Message = fmt.Sprintf("Monitoring PID %d. Limits applied.", pid)
			st.clearError(srcCgroup)
		} else {
			st.setError(srcCgroup, err)
		}
	})
}

func (s *Supervisor) monitor() {
	pid := s.pid
	u, err := s.c.Sampler.Sample(pid)
	switch {
	case errors.Is(err, fault.ErrNotFound):
		s.logger.Warnf("Process %d is gone", pid)
		s.pid = 0
		s.cgroupPid = 0
		s.state.update(func(st *Status) {
			st.Pid = 0
			st.UsageValid = false
			st.Message = fmt.Sprintf("Process %d exited", pid)
		})
	case err != nil:
		s.logger.Errorf("Monitoring pid %d failed: %v", pid, err)
		s.state.update(func(st *Status) {
			st.UsageValid = false
			st.setError(srcMonitor, err)
		})
	default:
		s.logger.Debugf("pid %d: rss %d, swap %d", pid, u.RSS, u.Swap)
		s.state.update(func(st *Status) {
			st.UsageValid = true
			st.Memory = u.RSS
			st.Swap = u.Swap
			st.clearError(srcMonitor)
		})
	}
}

func (s *Supervisor) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.TeardownTimeout)
	defer cancel()
	if err := s.c.Swap.Teardown(ctx); err != nil {
		s.logger.Errorf("Swap teardown incomplete: %v", err)
	}
	s.state.update(func(st *Status) {
		st.SwapStatus = SwapUnset
		st.SwapDevice = ""
		st.SwapCreated = time.Time{}
		st.Message = "Shut down"
	})
}

// DeleteSwapFiles runs a bulk swap file deletion on behalf of an
// operator.  With detachAll, every loop device on the host is detached,
// including ones that belong to others.
func (s *Supervisor) DeleteSwapFiles(ctx context.Context, detachAll bool) *swap.DeleteReport {
	if detachAll {
		s.logger.Warn("Bulk deletion will detach ALL loop devices on this host")
	}
	r := s.c.Swap.DeleteMatching(ctx, detachAll)
	if s.c.Swap.Active() == nil {
		s.state.update(func(st *Status) {
			if st.SwapStatus == SwapActive {
				st.SwapStatus = SwapUnset
				st.SwapDevice = ""
				st.SwapCreated = time.Time{}
				st.Message = "Swap files deleted"
			}
		})
	}
	return r
}
