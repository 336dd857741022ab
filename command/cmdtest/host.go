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

// Package cmdtest provides a simulated host for tests.  Host implements
// command.Runner and models just enough of swapon, losetup, mkswap,
// sysctl and pgrep for the swapvisor components to be exercised without
// privileges.  Files named in commands are real files, so tests should
// point the components at a temporary directory.
package cmdtest

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/swapvisor/command"
	"github.com/gdamore/swapvisor/fault"
)

// Host is a fake host.  The zero value is not usable; use NewHost.
type Host struct {
	loops      int
	attached   map[string]string // device -> backing file
	formatted  map[string]bool
	swaps      []string
	swappiness int
	procs      map[int]string
	fail       map[string]bool
	missing    map[string]bool
	calls      []string
	mx         sync.Mutex
}

// NewHost returns a Host with the given number of loop devices.
func NewHost(loops int) *Host {
	return &Host{
		loops:      loops,
		attached:   make(map[string]string),
		formatted:  make(map[string]bool),
		procs:      make(map[int]string),
		fail:       make(map[string]bool),
		missing:    make(map[string]bool),
		swappiness: 60,
	}
}

// FailOn makes every command whose argv starts with prefix exit non-zero.
func (h *Host) FailOn(prefix string) {
	h.mx.Lock()
	h.fail[prefix] = true
	h.mx.Unlock()
}

// ClearFailures removes all injected failures.
func (h *Host) ClearFailures() {
	h.mx.Lock()
	h.fail = make(map[string]bool)
	h.mx.Unlock()
}

// Remove makes a tool absent, so running it yields CommandNotFound.
func (h *Host) Remove(tool string) {
	h.mx.Lock()
	h.missing[tool] = true
	h.mx.Unlock()
}

// Attach binds a loop device to a file, as a foreign process might.
func (h *Host) Attach(dev, file string) {
	h.mx.Lock()
	h.attached[dev] = file
	h.mx.Unlock()
}

// AddSwap activates swap on a device or file, without any checks.
func (h *Host) AddSwap(name string) {
	h.mx.Lock()
	h.swaps = append(h.swaps, name)
	h.mx.Unlock()
}

// Swaps returns the active swap areas.
func (h *Host) Swaps() []string {
	h.mx.Lock()
	defer h.mx.Unlock()
	return append([]string{}, h.swaps...)
}

// Attached returns a copy of the loop device bindings.
func (h *Host) Attached() map[string]string {
	h.mx.Lock()
	defer h.mx.Unlock()
	rv := make(map[string]string, len(h.attached))
	for k, v := range h.attached {
		rv[k] = v
	}
	return rv
}

// Swappiness returns the current vm.swappiness.
func (h *Host) Swappiness() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.swappiness
}

// SetProcess adds (or replaces) a process with the given command line.
func (h *Host) SetProcess(pid int, cmdline string) {
	h.mx.Lock()
	h.procs[pid] = cmdline
	h.mx.Unlock()
}

// KillProcess removes a process.
func (h *Host) KillProcess(pid int) {
	h.mx.Lock()
	delete(h.procs, pid)
	h.mx.Unlock()
}

// Calls returns every command line run so far.
func (h *Host) Calls() []string {
	h.mx.Lock()
	defer h.mx.Unlock()
	return append([]string{}, h.calls...)
}

// Count returns how many command lines started with prefix.
func (h *Host) Count(prefix string) int {
	n := 0
	for _, c := range h.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func exitErr(args []string, code int, msg string) (*command.Result, error) {
	res := &command.Result{Args: args, ExitCode: code, Stderr: msg}
	return res, &command.ExitError{Args: args, Code: code, Stderr: msg}
}

func ok(args []string, out string) (*command.Result, error) {
	return &command.Result{Args: args, Stdout: out}, nil
}

func (h *Host) isSwap(name string) int {
	for i, s := range h.swaps {
		if s == name {
			return i
		}
	}
	return -1
}

// Run implements command.Runner.
func (h *Host) Run(ctx context.Context, c command.Cmd) (*command.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args := c.Args
	line := strings.Join(args, " ")

	h.mx.Lock()
	defer h.mx.Unlock()
	h.calls = append(h.calls, line)

	if len(args) == 0 {
		return nil, fault.ErrUnexpected
	}
	if h.missing[args[0]] {
		return nil, fmt.Errorf("%s: %w", args[0], fault.ErrCommandNotFound)
	}
	for prefix := range h.fail {
		if strings.HasPrefix(line, prefix) {
			return exitErr(args, 1, "injected failure: "+line)
		}
	}

	switch args[0] {
	case "id":
		return ok(args, "uid=0(root) gid=0(root)\n")
	case "mkdir":
		if err := os.MkdirAll(args[len(args)-1], 0755); err != nil {
			return exitErr(args, 1, err.Error())
		}
		return ok(args, "")
	case "truncate":
		return h.truncate(args)
	case "chmod":
		mode, _ := strconv.ParseUint(args[1], 8, 32)
		if err := os.Chmod(args[2], os.FileMode(mode)); err != nil {
			return exitErr(args, 1, err.Error())
		}
		return ok(args, "")
	case "rm":
		path := args[len(args)-1]
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return exitErr(args, 1, err.Error())
		}
		return ok(args, "")
	case "swapon":
		return h.swapon(args)
	case "swapoff":
		i := h.isSwap(args[1])
		if i < 0 {
			return exitErr(args, 255, "swapoff: "+args[1]+": swapoff failed: Invalid argument")
		}
		h.swaps = append(h.swaps[:i], h.swaps[i+1:]...)
		return ok(args, "")
	case "losetup":
		return h.losetup(args)
	case "mkswap":
		if _, ok := h.attached[args[1]]; !ok {
			return exitErr(args, 1, "mkswap: cannot open "+args[1])
		}
		h.formatted[args[1]] = true
		return ok(args, "Setting up swapspace version 1\n")
	case "sysctl":
		if len(args) == 3 && args[1] == "-n" {
			return ok(args, strconv.Itoa(h.swappiness)+"\n")
		}
		kv := strings.SplitN(args[1], "=", 2)
		v, err := strconv.Atoi(kv[len(kv)-1])
		if err != nil {
			return exitErr(args, 1, "sysctl: invalid value")
		}
		h.swappiness = v
		return ok(args, args[1]+"\n")
	case "pgrep":
		return h.pgrep(args)
	}
	return nil, fmt.Errorf("%s: %w", args[0], fault.ErrCommandNotFound)
}

func (h *Host) truncate(args []string) (*command.Result, error) {
	size, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return exitErr(args, 1, "truncate: invalid size")
	}
	f, err := os.OpenFile(args[3], os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return exitErr(args, 1, err.Error())
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return exitErr(args, 1, err.Error())
	}
	return ok(args, "")
}

func (h *Host) swapon(args []string) (*command.Result, error) {
	if args[1] == "--show" {
		var sb strings.Builder
		for _, s := range h.swaps {
			fmt.Fprintf(&sb, "%s partition 1073741824 0 -2\n", s)
		}
		return ok(args, sb.String())
	}
	dev := args[1]
	if !h.formatted[dev] {
		return exitErr(args, 255, "swapon: "+dev+": read swap header failed")
	}
	if h.isSwap(dev) >= 0 {
		return exitErr(args, 255, "swapon: "+dev+": Device or resource busy")
	}
	h.swaps = append(h.swaps, dev)
	return ok(args, "")
}

func (h *Host) losetup(args []string) (*command.Result, error) {
	switch {
	case args[1] == "-f":
		for i := 0; i < h.loops; i++ {
			dev := fmt.Sprintf("/dev/loop%d", i)
			if _, busy := h.attached[dev]; !busy {
				return ok(args, dev+"\n")
			}
		}
		return exitErr(args, 1, "losetup: cannot find an unused loop device")
	case args[1] == "-a":
		var sb strings.Builder
		for dev, file := range h.attached {
			fmt.Fprintf(&sb, "%s: []: (%s)\n", dev, file)
		}
		return ok(args, sb.String())
	case args[1] == "-D":
		h.attached = make(map[string]string)
		return ok(args, "")
	case args[1] == "-d":
		dev := args[2]
		if _, ok := h.attached[dev]; !ok {
			return exitErr(args, 1, "losetup: "+dev+": detach failed: No such device or address")
		}
		delete(h.attached, dev)
		delete(h.formatted, dev)
		return ok(args, "")
	case args[1] == "-n":
		dev := args[len(args)-1]
		file, found := h.attached[dev]
		if !found {
			return exitErr(args, 1, "losetup: "+dev+": No such device or address")
		}
		return ok(args, file+"\n")
	}
	dev, file := args[1], args[2]
	if _, busy := h.attached[dev]; busy {
		return exitErr(args, 1, "losetup: "+dev+": failed to set up loop device: Device or resource busy")
	}
	if _, err := os.Stat(file); err != nil {
		return exitErr(args, 1, "losetup: "+file+": No such file or directory")
	}
	h.attached[dev] = file
	return ok(args, "")
}

func (h *Host) pgrep(args []string) (*command.Result, error) {
	pattern := args[len(args)-1]
	var pids []int
	for pid, cmdline := range h.procs {
		if strings.Contains(cmdline, pattern) {
			pids = append(pids, pid)
		}
	}
	if len(pids) == 0 {
		res := &command.Result{Args: args, ExitCode: 1}
		return res, &command.ExitError{Args: args, Code: 1}
	}
	sort.Ints(pids)
	var sb strings.Builder
	for _, pid := range pids {
		fmt.Fprintf(&sb, "%d\n", pid)
	}
	return ok(args, sb.String())
}
