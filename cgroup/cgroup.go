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

// Package cgroup manages one cgroup v2 control group: its directory, its
// member process, and its memory and swap ceilings.
package cgroup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/gdamore/swapvisor/command"
	"github.com/gdamore/swapvisor/fault"
)

// DefaultRoot is where the unified hierarchy is normally mounted.
const DefaultRoot = "/sys/fs/cgroup"

const (
	subtreeControl = "cgroup.subtree_control"
	procsFile      = "cgroup.procs"
	memoryMaxFile  = "memory.max"
	swapMaxFile    = "memory.swap.max"
)

// Limit is a resource ceiling.  The zero value is Unlimited.
type Limit struct {
	n int64
}

// Unlimited means no ceiling is written at all.
var Unlimited = Limit{}

// Bytes returns a ceiling of n bytes.  n <= 0 yields Unlimited.
func Bytes(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// ParseLimit parses a human readable ceiling such as "8G" or "512M",
// using binary multiples.  "", "0", "0G" and "max" are all Unlimited.
func ParseLimit(s string) (Limit, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "max") {
		return Unlimited, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return Unlimited, err
	}
	if n < 0 {
		return Unlimited, fmt.Errorf("invalid size: '%s'", s)
	}
	return Bytes(n), nil
}

// IsUnlimited reports whether the ceiling should be left alone.
func (l Limit) IsUnlimited() bool {
	return l.n == 0
}

// Bytes returns the ceiling in bytes, or 0 when Unlimited.
func (l Limit) Bytes() int64 {
	return l.n
}

func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}
	return units.BytesSize(float64(l.n))
}

// Outcome summarizes one configuration attempt.
type Outcome int

const (
	// Configured means every applicable ceiling was written.
	Configured Outcome = iota
	// ConfiguredWithWarnings means the process is enrolled, but one or
	// more ceilings could not be written.
	ConfiguredWithWarnings
	// Failed means the group is missing or the process is not enrolled.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Configured:
		return "Configured"
	case ConfiguredWithWarnings:
		return "Configured (with warnings)"
	}
	return "Failed"
}

// Limiter owns one control group below root.
type Limiter struct {
	root      string
	name      string
	run       command.Runner
	logger    logrus.FieldLogger
	delegated bool
	mx        sync.Mutex
}

// NewLimiter returns a Limiter for the group name below root.  Writes
// that fail for lack of permission are retried through run.
func NewLimiter(root, name string, run command.Runner, logger logrus.FieldLogger) *Limiter {
	if root == "" {
		root = DefaultRoot
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Limiter{
		root: root,
		name: name,
		run:  run,
		logger: logger.WithFields(logrus.Fields{
			"component": "cgroup",
			"cgroup":    name,
		}),
	}
}

// Path returns the group directory.
func (l *Limiter) Path() string {
	return filepath.Join(l.root, l.name)
}

// Unified reports whether the root is a cgroup2 mount.
func (l *Limiter) Unified() bool {
	return isCgroup2(l.root)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (l *Limiter) write(ctx context.Context, path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err == nil {
		_, err = f.WriteString(value)
		if e := f.Close(); err == nil {
			err = e
		}
		if err == nil {
			return nil
		}
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w", path, fault.ErrResourceUnavailable)
	case !errors.Is(err, os.ErrPermission):
		return fmt.Errorf("write %s: %v: %w", path, err, fault.ErrUnexpected)
	}
	l.logger.Debugf("No permission to write %s, retrying with privileges", path)
	_, err = l.run.Run(ctx, writeCmd(path, value))
	return err
}

// writeCmd writes value to path through a privileged shell.  Both are
// passed as positional parameters, never as script text.
func writeCmd(path, value string) command.Cmd {
	return command.Sudo("Write "+path,
		"sh", "-c", `printf '%s\n' "$1" > "$2"`, "sh", value, path)
}

func hasMemory(controllers string) bool {
	for _, c := range strings.Fields(controllers) {
		if strings.TrimPrefix(c, "+") == "memory" {
			return true
		}
	}
	return false
}

// ensureDelegation makes sure the memory controller is enabled for child
// groups.  Failure to verify is only a warning.
func (l *Limiter) ensureDelegation(ctx context.Context) bool {
	ctl := filepath.Join(l.root, subtreeControl)
	data, err := os.ReadFile(ctl)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warnf("%s not found, assuming cgroup v1 or controller already delegated", ctl)
		} else {
			l.logger.Warnf("Could not read %s: %v", ctl, err)
		}
		return false
	}
	if hasMemory(string(data)) {
		return true
	}
	l.logger.Info("Enabling memory controller for child groups")
	if err := l.write(ctx, ctl, "+memory"); err != nil {
		l.logger.Warnf("Could not enable memory controller: %v", err)
		return false
	}
	data, err = os.ReadFile(ctl)
	if err != nil {
		l.logger.Warnf("Could not read %s after enabling: %v", ctl, err)
		return false
	}
	if !hasMemory(string(data)) {
		l.logger.Warnf("Memory controller still not listed in %s", ctl)
		return false
	}
	return true
}

// EnsureGroup creates the group directory if needed, and checks once
// that the memory controller is delegated.  An existing group is fine.
func (l *Limiter) EnsureGroup(ctx context.Context) error {
	l.mx.Lock()
	defer l.mx.Unlock()

	path := l.Path()
	if err := os.MkdirAll(path, 0755); err != nil {
		if !errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("create %s: %v: %w", path, err, fault.ErrUnexpected)
		}
		if _, err := l.run.Run(ctx, command.Sudo("Create cgroup "+l.name,
			"mkdir", "-p", path)); err != nil {
			return err
		}
	}
	if !exists(path) {
		return fmt.Errorf("cgroup directory %s: %w", path, fault.ErrResourceUnavailable)
	}
	if !l.delegated {
		l.delegated = l.ensureDelegation(ctx)
	}
	return nil
}

// Enroll moves pid into the group.
func (l *Limiter) Enroll(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d: %w", pid, fault.ErrUnexpected)
	}
	l.mx.Lock()
	defer l.mx.Unlock()

	if !exists(l.Path()) {
		return fmt.Errorf("cgroup directory %s: %w", l.Path(), fault.ErrNotFound)
	}
	if err := l.write(ctx, filepath.Join(l.Path(), procsFile), strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("enroll pid %d: %w", pid, err)
	}
	l.logger.Infof("Enrolled pid %d", pid)
	return nil
}

// ApplyLimits writes the memory and swap ceilings.  Unlimited ceilings
// are not written.  A missing or unwritable limit file does not fail the
// call; it is returned as a warning instead, since the group is still
// usable, only under-constrained.
func (l *Limiter) ApplyLimits(ctx context.Context, memory, swap Limit) []string {
	l.mx.Lock()
	defer l.mx.Unlock()

	var warnings []string
	for _, c := range []struct {
		file  string
		limit Limit
	}{
		{memoryMaxFile, memory},
		{swapMaxFile, swap},
	} {
		if c.limit.IsUnlimited() {
			l.logger.Infof("No %s ceiling configured, leaving it alone", c.file)
			continue
		}
		path := filepath.Join(l.Path(), c.file)
		if !exists(path) {
			w := fmt.Sprintf("%s not found, %s ceiling not applied", path, c.limit)
			l.logger.Warn(w)
			warnings = append(warnings, w)
			continue
		}
		if err := l.write(ctx, path, strconv.FormatInt(c.limit.Bytes(), 10)); err != nil {
			w := fmt.Sprintf("Failed to set %s to %s: %v", c.file, c.limit, err)
			l.logger.Error(w)
			warnings = append(warnings, w)
			continue
		}
		l.logger.Infof("Set %s to %s", c.file, c.limit)
	}
	return warnings
}

// Configure ensures the group, enrolls pid and applies the ceilings, in
// that order.  Ceilings are never written unless enrollment succeeded.
func (l *Limiter) Configure(ctx context.Context, pid int, memory, swap Limit) (Outcome, []string, error) {
	if err := l.EnsureGroup(ctx); err != nil {
		return Failed, nil, err
	}
	if err := l.Enroll(ctx, pid); err != nil {
		return Failed, nil, err
	}
	if w := l.ApplyLimits(ctx, memory, swap); len(w) > 0 {
		return ConfiguredWithWarnings, w, nil
	}
	return Configured, nil, nil
}
