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
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdamore/swapvisor/cgroup"
	"github.com/gdamore/swapvisor/fault"
	"github.com/gdamore/swapvisor/proc"
	"github.com/gdamore/swapvisor/swap"

	. "github.com/smartystreets/goconvey/convey"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

type testSwap struct {
	setupErr  error
	active    *swap.Info
	setups    int
	teardowns int
	sync.Mutex
}

func (s *testSwap) Preflight(ctx context.Context) []error {
	return nil
}

func (s *testSwap) Setup(ctx context.Context) (*swap.Info, error) {
	s.Lock()
	defer s.Unlock()
	s.setups++
	if s.setupErr != nil {
		return nil, s.setupErr
	}
	s.active = &swap.Info{
		Path:       "/mnt/SwapWork/swapfile",
		Device:     "/dev/loop0",
		Created:    time.Now(),
		Swappiness: 150,
	}
	return s.active, nil
}

func (s *testSwap) Teardown(ctx context.Context) error {
	s.Lock()
	s.teardowns++
	s.active = nil
	s.Unlock()
	return nil
}

func (s *testSwap) Active() *swap.Info {
	s.Lock()
	defer s.Unlock()
	return s.active
}

func (s *testSwap) DeleteMatching(ctx context.Context, detachAll bool) *swap.DeleteReport {
	s.Lock()
	s.active = nil
	s.Unlock()
	return &swap.DeleteReport{Deleted: 1, Errors: []string{}}
}

type testLimiter struct {
	pids     []int
	outcomes []cgroup.Outcome // consumed in order, then Configured
	sync.Mutex
}

func (l *testLimiter) Configure(ctx context.Context, pid int, memory, swap cgroup.Limit) (cgroup.Outcome, []string, error) {
	l.Lock()
	defer l.Unlock()
	l.pids = append(l.pids, pid)
	o := cgroup.Configured
	if len(l.outcomes) > 0 {
		o = l.outcomes[0]
		l.outcomes = l.outcomes[1:]
	}
	switch o {
	case cgroup.ConfiguredWithWarnings:
		return o, []string{"memory.swap.max not found"}, nil
	case cgroup.Failed:
		return o, nil, fmt.Errorf("enroll: %w", fault.ErrPermissionDenied)
	}
	return o, nil, nil
}

func (l *testLimiter) Unified() bool {
	return true
}

func (l *testLimiter) configured() []int {
	l.Lock()
	defer l.Unlock()
	return append([]int{}, l.pids...)
}

type testLocator struct {
	pid    int
	calls  int
	panics int
	sync.Mutex
}

func (l *testLocator) Locate(ctx context.Context, pattern string) (int, error) {
	l.Lock()
	l.calls++
	if l.panics > 0 {
		l.panics--
		l.Unlock()
		panic("injected locator panic")
	}
	pid := l.pid
	l.Unlock()
	if pid > 0 {
		return pid, nil
	}
	return 0, fmt.Errorf("process '%s': %w", pattern, fault.ErrNotFound)
}

func (l *testLocator) set(pid int) {
	l.Lock()
	l.pid = pid
	l.Unlock()
}

func (l *testLocator) count() int {
	l.Lock()
	defer l.Unlock()
	return l.calls
}

type testSampler struct {
	gone  map[int]bool
	calls int
	sync.Mutex
}

func (s *testSampler) Sample(pid int) (proc.Usage, error) {
	s.Lock()
	defer s.Unlock()
	s.calls++
	if s.gone[pid] {
		return proc.Usage{}, fmt.Errorf("pid %d: %w", pid, fault.ErrNotFound)
	}
	return proc.Usage{RSS: 100 << 20, Swap: 1 << 20}, nil
}

func (s *testSampler) kill(pid int) {
	s.Lock()
	s.gone[pid] = true
	s.Unlock()
}

func (s *testSampler) count() int {
	s.Lock()
	defer s.Unlock()
	return s.calls
}

type testRestarter struct {
	loc          *testLocator
	connectFails int
	connects     int
	connected    bool
	err          error
	restarts     []int // locate calls seen at each restart
	sync.Mutex
}

func (r *testRestarter) Connect(ctx context.Context) error {
	r.Lock()
	defer r.Unlock()
	r.connects++
	if r.connectFails > 0 {
		r.connectFails--
		return errors.New("connection refused")
	}
	r.connected = true
	return nil
}

func (r *testRestarter) Connected() bool {
	r.Lock()
	defer r.Unlock()
	return r.connected
}

func (r *testRestarter) Restart(ctx context.Context, name string) error {
	n := r.loc.count()
	r.Lock()
	defer r.Unlock()
	r.restarts = append(r.restarts, n)
	return r.err
}

func (r *testRestarter) seen() []int {
	r.Lock()
	defer r.Unlock()
	return append([]int{}, r.restarts...)
}

type rig struct {
	sup    *Supervisor
	log    *Log
	swap   *testSwap
	lim    *testLimiter
	loc    *testLocator
	smp    *testSampler
	rst    *testRestarter
	cancel context.CancelFunc
	done   chan struct{}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxPidRetries = 3
	cfg.StartTimeout = 30 * time.Millisecond
	cfg.CheckInterval = 5 * time.Millisecond
	cfg.RestartRateLimit = 0
	return cfg
}

func newRig(t *testing.T, cfg Config, restarter bool) *rig {
	r := &rig{
		log:  NewLog(0),
		swap: &testSwap{},
		lim:  &testLimiter{},
		loc:  &testLocator{},
		smp:  &testSampler{gone: map[int]bool{}},
		done: make(chan struct{}),
	}
	r.rst = &testRestarter{loc: r.loc}
	c := Components{
		Swap:    r.swap,
		Limiter: r.lim,
		Locator: r.loc,
		Sampler: r.smp,
	}
	if restarter {
		c.Restarter = r.rst
	}
	l := logrus.New()
	l.SetOutput(&testLog{t: t})
	l.SetLevel(logrus.DebugLevel)
	l.AddHook(r.log)
	r.sup = NewSupervisor(cfg, c, l)
	r.sup.ConnectDelay = time.Millisecond
	r.sup.PanicBackoff = time.Millisecond
	r.sup.MinSleep = time.Millisecond
	return r
}

func (r *rig) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		r.sup.Run(ctx)
		close(r.done)
	}()
}

func (r *rig) stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.cancel = nil
	}
}

func (r *rig) status() Status {
	return r.sup.State().Snapshot()
}

// eventually polls cond for up to two seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// WithRig runs fn against a fresh rig, stopping the loop afterwards.
func WithRig(t *testing.T, cfg Config, restarter bool, fn func(r *rig)) func() {
	return func() {
		r := newRig(t, cfg, restarter)
		Reset(r.stop)
		fn(r)
	}
}
