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

// Package swap manages a single file-backed swap area: the backing file,
// the loop device wrapping it, and the active kernel swap region on top.
//
// Kernel swap state is not idempotent, an active area cannot simply be
// overwritten.  Setup therefore always tears down whatever a previous run
// may have left behind before building a fresh area.
package swap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdamore/swapvisor/command"
	"github.com/gdamore/swapvisor/fault"
)

// Config describes the managed swap slot.
type Config struct {
	WorkDir      string // directory holding the backing file
	FileName     string // backing file name within WorkDir
	Size         int64  // exact size of the backing file, in bytes
	Swappiness   int    // vm.swappiness to apply once swap is active
	DeletePrefix string // file name prefix matched by DeleteMatching
}

// Info describes an active swap area created by the Manager.
type Info struct {
	Path       string
	Size       int64
	Device     string
	Created    time.Time
	Swappiness int // effective value if it could be read back
}

// Area is one entry of the host's active swap list.
type Area struct {
	Name string
	Type string
	Size int64
	Used int64
}

// IsLoop reports whether the area sits on a loop device.
func (a Area) IsLoop() bool {
	return strings.HasPrefix(a.Name, "/dev/loop")
}

// Manager owns the lifecycle of one backing file, one loop device, and
// one swap area.  Its methods are serialized; the supervisor loop and the
// bulk delete request may both call in.
type Manager struct {
	cfg    Config
	run    command.Runner
	logger logrus.FieldLogger
	active *Info
	mx     sync.Mutex
}

// NewManager returns a Manager for the given slot.
func NewManager(cfg Config, run command.Runner, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		cfg:    cfg,
		run:    run,
		logger: logger.WithField("component", "swap"),
	}
}

// Path returns the full path of the managed backing file.
func (m *Manager) Path() string {
	return filepath.Join(m.cfg.WorkDir, m.cfg.FileName)
}

// Active returns a copy of the active area description, or nil.
func (m *Manager) Active() *Info {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.active == nil {
		return nil
	}
	i := *m.active
	return &i
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// normalizeDevice maps the "/loopN" form that swapon reports inside some
// containers onto the real device node.
func normalizeDevice(name string) string {
	if strings.HasPrefix(name, "/loop") {
		return "/dev" + name
	}
	return name
}

// parseSwapon parses "swapon --show --noheadings --bytes --raw" output,
// whose columns are NAME TYPE SIZE USED PRIO.
func parseSwapon(out string) []Area {
	var areas []Area
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		a := Area{Name: normalizeDevice(strings.ReplaceAll(f[0], `\x20`, " "))}
		if len(f) > 1 {
			a.Type = f[1]
		}
		if len(f) > 2 {
			a.Size, _ = strconv.ParseInt(f[2], 10, 64)
		}
		if len(f) > 3 {
			a.Used, _ = strconv.ParseInt(f[3], 10, 64)
		}
		areas = append(areas, a)
	}
	return areas
}

// Areas lists every active swap area on the host.  A host without swap
// yields an empty list.
func (m *Manager) Areas(ctx context.Context) ([]Area, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.areas(ctx)
}

func (m *Manager) areas(ctx context.Context) ([]Area, error) {
	res, err := m.run.Run(ctx, command.Sudo("List active swaps",
		"swapon", "--show", "--noheadings", "--bytes", "--raw"))
	if err != nil {
		if errors.Is(err, fault.ErrCommandFailed) {
			// some swapon versions exit non-zero with nothing to show
			m.logger.Warnf("Listing swap areas failed: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return parseSwapon(res.Stdout), nil
}

func (m *Manager) swapoff(ctx context.Context, dev string) error {
	_, err := m.run.Run(ctx, command.Sudo("Disable swap "+dev, "swapoff", dev))
	return err
}

func (m *Manager) detach(ctx context.Context, dev string) error {
	_, err := m.run.Run(ctx, command.Sudo("Detach loop device "+dev, "losetup", "-d", dev))
	return err
}

func (m *Manager) removeFile(ctx context.Context, path string) error {
	_, err := m.run.Run(ctx, command.Sudo("Delete "+path,
		"rm", "-f", path).WithTimeout(command.DeleteTimeout))
	if exists(path) {
		if err == nil {
			err = fmt.Errorf("%s still exists: %w", path, fault.ErrResourceUnavailable)
		}
		return err
	}
	return nil
}

// Preflight runs advisory checks (sudo, loop device listing).  Failures
// are logged and returned, but never fatal.
func (m *Manager) Preflight(ctx context.Context) []error {
	var errs []error
	checks := []command.Cmd{
		command.Sudo("Test privileges", "id").WithTimeout(command.ReadTimeout),
		command.Sudo("List loop devices", "losetup", "-a"),
	}
	for _, c := range checks {
		if _, err := m.run.Run(ctx, c); err != nil {
			m.logger.Warnf("Preflight %q failed: %v", c.String(), err)
			errs = append(errs, err)
		}
	}
	return errs
}

// ResetHost disables every active swap area on the host, not just ones we
// created, and detaches the loop devices underneath them.  This is
// host-wide on purpose: a crashed earlier instance may have left orphans.
// Having nothing to disable is success.
func (m *Manager) ResetHost(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.resetHost(ctx)
}

func (m *Manager) resetHost(ctx context.Context) error {
	m.logger.Warn("Resetting ALL active swap areas on this host")
	areas, err := m.areas(ctx)
	if err != nil {
		return err
	}
	if len(areas) == 0 {
		m.logger.Info("No active swap areas found")
		return nil
	}
	failed := 0
	var first error
	for _, a := range areas {
		log := m.logger.WithField("device", a.Name)
		if err := m.swapoff(ctx, a.Name); err != nil {
			log.Errorf("Failed to disable swap: %v", err)
			failed++
			if first == nil {
				first = err
			}
		}
		if a.IsLoop() {
			if err := m.detach(ctx, a.Name); err != nil {
				log.Errorf("Failed to detach loop device: %v", err)
				failed++
				if first == nil {
					first = err
				}
			} else {
				log.Info("Detached loop device")
			}
		}
	}
	m.active = nil
	if failed > 0 {
		return fmt.Errorf("%d swap cleanup steps failed: %w", failed, first)
	}
	return nil
}

// DeleteManagedFile removes the managed backing file if present, first
// trying to disable any swap on it.  It fails only if the file survives.
func (m *Manager) DeleteManagedFile(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.deleteManagedFile(ctx)
}

func (m *Manager) deleteManagedFile(ctx context.Context) error {
	path := m.Path()
	if !exists(path) {
		m.logger.Debugf("No existing swap file at %s", path)
		return nil
	}
	m.logger.Infof("Deleting existing swap file %s", path)
	if err := m.swapoff(ctx, path); err != nil {
		m.logger.Debugf("swapoff %s: %v", path, err)
	}
	if err := m.removeFile(ctx, path); err != nil {
		m.logger.Errorf("Failed to delete swap file %s: %v", path, err)
		return err
	}
	return nil
}

func (m *Manager) ensureWorkDir(ctx context.Context) error {
	dir := m.cfg.WorkDir
	if err := os.MkdirAll(dir, 0755); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("create %s: %v: %w", dir, err, fault.ErrUnexpected)
	}
	m.logger.Warnf("No permission to create %s, retrying with privileges", dir)
	if _, err := m.run.Run(ctx, command.Sudo("Create swap directory", "mkdir", "-p", dir)); err != nil {
		return err
	}
	return nil
}

// Create builds a new swap area of exactly size bytes.  A failing step
// undoes every completed step, in reverse order, before returning.
func (m *Manager) Create(ctx context.Context, size int64) (*Info, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.create(ctx, size)
}

func (m *Manager) create(ctx context.Context, size int64) (*Info, error) {
	path := m.Path()
	log := m.logger.WithField("path", path)
	log.Infof("Creating swap file (%d bytes)", size)

	var undo []func()
	fail := func(step string, err error) (*Info, error) {
		log.Errorf("Swap setup failed at %s: %v", step, err)
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	if size <= 0 {
		return fail("validate size", fault.ErrUnexpected)
	}
	if err := m.ensureWorkDir(ctx); err != nil {
		return fail("create work directory", err)
	}

	// truncate allocates sparsely, and to exactly the requested size
	_, err := m.run.Run(ctx, command.Sudo("Create swap file",
		"truncate", "-s", strconv.FormatInt(size, 10), path))
	if exists(path) {
		undo = append(undo, func() {
			log.Info("Rolling back: removing swap file")
			if err := m.removeFile(context.Background(), path); err != nil {
				log.Errorf("Rollback could not remove swap file: %v", err)
			}
		})
	}
	if err != nil {
		return fail("allocate backing file", err)
	}
	if !exists(path) {
		return fail("allocate backing file", fault.ErrResourceUnavailable)
	}

	if _, err := m.run.Run(ctx, command.Sudo("Restrict swap file permissions",
		"chmod", "600", path)); err != nil {
		return fail("restrict permissions", err)
	}

	res, err := m.run.Run(ctx, command.Sudo("Find free loop device", "losetup", "-f"))
	if err != nil {
		return fail("find loop device", fmt.Errorf("%v: %w", err, fault.ErrResourceUnavailable))
	}
	dev := strings.TrimSpace(res.Stdout)
	if dev == "" {
		return fail("find loop device", fault.ErrResourceUnavailable)
	}
	log = log.WithField("device", dev)

	if _, err := m.run.Run(ctx, command.Sudo("Attach "+path+" to "+dev,
		"losetup", dev, path)); err != nil {
		return fail("attach loop device", err)
	}
	undo = append(undo, func() {
		log.Info("Rolling back: detaching loop device")
		if err := m.detach(context.Background(), dev); err != nil {
			log.Errorf("Rollback could not detach loop device: %v", err)
		}
	})

	if _, err := m.run.Run(ctx, command.Sudo("Format "+dev+" as swap",
		"mkswap", dev)); err != nil {
		return fail("format swap", err)
	}
	if _, err := m.run.Run(ctx, command.Sudo("Activate swap on "+dev,
		"swapon", dev)); err != nil {
		return fail("activate swap", err)
	}
	log.Info("Swap activated")

	info := &Info{
		Path:       path,
		Size:       size,
		Device:     dev,
		Created:    time.Now(),
		Swappiness: m.cfg.Swappiness,
	}
	m.applySwappiness(ctx, info)
	m.active = info
	i := *info
	return &i, nil
}

// applySwappiness is best-effort; on success the effective value is read
// back into info.
func (m *Manager) applySwappiness(ctx context.Context, info *Info) {
	setting := fmt.Sprintf("vm.swappiness=%d", m.cfg.Swappiness)
	if _, err := m.run.Run(ctx, command.Sudo("Set swappiness", "sysctl", setting)); err != nil {
		m.logger.Warnf("Failed to set swappiness: %v", err)
		return
	}
	res, err := m.run.Run(ctx, command.Plain("Read swappiness",
		"sysctl", "-n", "vm.swappiness").WithTimeout(command.ReadTimeout))
	if err != nil {
		m.logger.Warnf("Could not read back swappiness: %v", err)
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		m.logger.Warnf("Unparseable swappiness %q", res.Stdout)
		return
	}
	info.Swappiness = v
	m.logger.Infof("Swappiness is now %d", v)
}

// Setup resets host swap, removes any stale managed file, and creates a
// fresh area of the configured size.  Creation is not attempted when the
// stale file could not be removed.
func (m *Manager) Setup(ctx context.Context) (*Info, error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if err := m.resetHost(ctx); err != nil {
		if errors.Is(err, fault.ErrCommandNotFound) {
			return nil, fmt.Errorf("reset swap: %w", err)
		}
		m.logger.Warnf("Swap reset incomplete, continuing: %v", err)
	}
	if err := m.deleteManagedFile(ctx); err != nil {
		return nil, fmt.Errorf("delete existing swap file: %w", err)
	}
	return m.create(ctx, m.cfg.Size)
}

// Teardown disables and removes the swap area this Manager created.  It
// is best-effort and does not touch other areas on the host.
func (m *Manager) Teardown(ctx context.Context) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	var errs []string
	if a := m.active; a != nil {
		if err := m.swapoff(ctx, a.Device); err != nil {
			errs = append(errs, err.Error())
		}
		if err := m.detach(ctx, a.Device); err != nil {
			errs = append(errs, err.Error())
		}
		m.active = nil
	}
	if err := m.deleteManagedFile(ctx); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	m.logger.Info("Swap torn down")
	return nil
}
