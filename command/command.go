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

// Package command runs the host tools swapvisor depends upon (swapon,
// losetup, mkswap, pgrep and friends), capturing their output and
// enforcing timeouts.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdamore/swapvisor/fault"
)

const (
	// DefaultTimeout applies to commands that do not set their own.
	DefaultTimeout = time.Second * 60
	// WaitDelay is how long a killed command may hold its output
	// pipes open before they are closed under it.
	WaitDelay = time.Second * 2
	// DeleteTimeout is used for destructive one-shot removals.
	DeleteTimeout = time.Second * 10
	// ReadTimeout is used for quick read-only queries.
	ReadTimeout = time.Second * 5

	previewLen = 500
)

// Cmd describes one invocation.  Privileged commands are run through
// sudo when the Executor is configured to do so.
type Cmd struct {
	Args       []string
	Privileged bool
	Timeout    time.Duration
	Desc       string
}

// Sudo returns a privileged Cmd for the given argv.
func Sudo(desc string, args ...string) Cmd {
	return Cmd{Args: args, Privileged: true, Desc: desc}
}

// Plain returns an unprivileged Cmd for the given argv.
func Plain(desc string, args ...string) Cmd {
	return Cmd{Args: args, Desc: desc}
}

// WithTimeout returns a copy of the Cmd using the supplied timeout.
func (c Cmd) WithTimeout(d time.Duration) Cmd {
	c.Timeout = d
	return c
}

func (c Cmd) String() string {
	return strings.Join(c.Args, " ")
}

// Result is what a completed command left behind.  Both streams are
// captured in full.
type Result struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Lines returns the non-empty lines of stdout, trimmed.
func (r *Result) Lines() []string {
	var lines []string
	if r == nil {
		return lines
	}
	for _, line := range strings.Split(r.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ExitError is returned when a command ran but exited non-zero.  Whether
// that is fatal is up to the caller.
type ExitError struct {
	Args   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", strings.Join(e.Args, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + preview(s)
	}
	return msg
}

// Is matches ErrCommandFailed always, and ErrPermissionDenied or
// ErrCommandNotFound when stderr says as much.
func (e *ExitError) Is(target error) bool {
	switch target {
	case fault.ErrCommandFailed:
		return true
	case fault.ErrPermissionDenied:
		return isPermissionText(e.Stderr)
	case fault.ErrCommandNotFound:
		// sudo reports a missing inner command this way
		return strings.Contains(e.Stderr, "command not found")
	}
	return false
}

func isPermissionText(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "permission denied") ||
		strings.Contains(s, "operation not permitted") ||
		strings.Contains(s, "a password is required")
}

// Runner is implemented by anything that can execute a Cmd.  The
// components take a Runner so that tests can simulate the host.
type Runner interface {
	Run(ctx context.Context, c Cmd) (*Result, error)
}

// Executor runs commands on the local host.
type Executor struct {
	sudo   bool
	logger logrus.FieldLogger
}

// NewExecutor returns an Executor.  When sudo is true, privileged
// commands are prefixed with sudo.
func NewExecutor(sudo bool, logger logrus.FieldLogger) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{
		sudo:   sudo,
		logger: logger.WithField("component", "command"),
	}
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}

// Run executes the command, waiting for it to finish or for its timeout
// to expire.  A non-zero exit yields both a Result and an *ExitError.
func (e *Executor) Run(ctx context.Context, c Cmd) (*Result, error) {
	if len(c.Args) == 0 {
		return nil, fmt.Errorf("empty command: %w", fault.ErrUnexpected)
	}
	argv := c.Args
	if c.Privileged && e.sudo {
		argv = append([]string{"sudo", "-n"}, argv...)
	}
	d := c.Timeout
	if d == 0 {
		d = DefaultTimeout
	}
	cmdStr := strings.Join(argv, " ")
	log := e.logger.WithField("cmd", cmdStr)
	log.Debugf("Executing command (%s)", c.Desc)

	// The child leads its own process group, so that expiry takes
	// down anything it spawned (sudo, sh) along with it.  WaitDelay
	// bounds the wait when a descendant escapes the group and keeps
	// our pipes open.
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(tctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = WaitDelay
	setGroup(cmd)
	cmd.Cancel = func() error {
		return killGroup(cmd.Process)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			log.Errorf("Command not found: %s", argv[0])
			return nil, fmt.Errorf("%s: %w", argv[0], fault.ErrCommandNotFound)
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%s: %w", argv[0], fault.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("%s: %v: %w", cmdStr, err, fault.ErrUnexpected)
	}
	err := cmd.Wait()

	res := &Result{
		Args:     c.Args,
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if s := preview(res.Stdout); s != "" {
		log.Debugf("stdout> %s", s)
	}
	if s := preview(res.Stderr); s != "" {
		log.Debugf("stderr> %s", s)
	}

	switch {
	case err == nil:
	case ctx.Err() == nil && tctx.Err() != nil:
		log.Warnf("Command timed out after %v (%s)", d, c.Desc)
		return res, fmt.Errorf("%s: after %v: %w", cmdStr, d, fault.ErrCommandTimeout)
	case ctx.Err() != nil:
		return res, fmt.Errorf("%s: %w", cmdStr, ctx.Err())
	default:
		var xe *exec.ExitError
		if errors.As(err, &xe) {
			return res, &ExitError{Args: c.Args, Code: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("%s: %v: %w", cmdStr, err, fault.ErrUnexpected)
	}
	return res, nil
}
