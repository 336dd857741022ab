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

package swap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdamore/swapvisor/command"
)

// DeleteReport summarizes a bulk deletion.  Errors are non-fatal; the
// deletion as a whole succeeded only if there are none.
type DeleteReport struct {
	Deleted int      `json:"deleted_count"`
	Errors  []string `json:"errors"`
}

// OK reports whether the deletion completed without errors.
func (r *DeleteReport) OK() bool {
	return len(r.Errors) == 0
}

func (r *DeleteReport) addf(format string, v ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, v...))
}

func (m *Manager) matches(path string) bool {
	dir := filepath.Clean(m.cfg.WorkDir)
	if filepath.Dir(filepath.Clean(path)) != dir {
		return false
	}
	return strings.HasPrefix(filepath.Base(path), m.cfg.DeletePrefix)
}

// backingFile returns the file behind a loop device, or "" if it cannot
// be determined.
func (m *Manager) backingFile(ctx context.Context, dev string) string {
	res, err := m.run.Run(ctx, command.Sudo("Backing file of "+dev,
		"losetup", "-n", "-O", "BACK-FILE", dev).WithTimeout(command.ReadTimeout))
	if err != nil {
		m.logger.Debugf("Cannot resolve backing file of %s: %v", dev, err)
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// DeleteMatching disables every active swap area backed by a file in the
// work directory whose name starts with the delete prefix, then deletes
// all such files.  When detachAll is set it finally detaches every loop
// device on the host, which affects other tenants of the host and is
// logged as such.
func (m *Manager) DeleteMatching(ctx context.Context, detachAll bool) *DeleteReport {
	m.mx.Lock()
	defer m.mx.Unlock()

	r := &DeleteReport{Errors: []string{}}
	log := m.logger.WithField("prefix", m.cfg.DeletePrefix)
	log.Infof("Deleting swap files in %s", m.cfg.WorkDir)

	areas, err := m.areas(ctx)
	if err != nil {
		r.addf("Failed to list swaps for deletion: %v", err)
	}
	for _, a := range areas {
		backing := a.Name
		if a.IsLoop() {
			backing = m.backingFile(ctx, a.Name)
		}
		if backing == "" || !m.matches(backing) {
			continue
		}
		log.Infof("Disabling active swap %s (%s)", a.Name, backing)
		if err := m.swapoff(ctx, a.Name); err != nil {
			r.addf("Failed to swapoff %s: %v", a.Name, err)
			continue
		}
		if a.IsLoop() {
			if err := m.detach(ctx, a.Name); err != nil {
				r.addf("Failed to detach %s: %v", a.Name, err)
			}
		}
		if m.active != nil && m.active.Device == a.Name {
			m.active = nil
		}
	}

	entries, err := os.ReadDir(m.cfg.WorkDir)
	switch {
	case os.IsNotExist(err):
		r.addf("Swap work directory '%s' not found. Cannot delete files.", m.cfg.WorkDir)
	case err != nil:
		r.addf("Error listing directory '%s': %v", m.cfg.WorkDir, err)
	}
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), m.cfg.DeletePrefix) {
			continue
		}
		path := filepath.Join(m.cfg.WorkDir, ent.Name())
		// a plain file may still be swapped on directly
		m.swapoff(ctx, path)
		if err := m.removeFile(ctx, path); err != nil {
			r.addf("Failed to delete file '%s': %v", path, err)
			continue
		}
		log.Infof("Deleted %s", path)
		r.Deleted++
		if path == m.Path() {
			m.active = nil
		}
	}

	if detachAll {
		log.Warn("Detaching ALL loop devices on this host")
		if _, err := m.run.Run(ctx, command.Sudo("Detach all loop devices",
			"losetup", "-D")); err != nil {
			r.addf("Command 'losetup -D' failed: %v", err)
		}
	}
	log.Infof("Swap file deletion finished, deleted %d files, %d errors",
		r.Deleted, len(r.Errors))
	return r
}
