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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"time"

	"github.com/docker/go-units"

	"github.com/gdamore/swapvisor"
	"github.com/gdamore/swapvisor/rest"
)

// Health is a coarse summary of a status record, used to pick colors.
type Health int

const (
	Normal Health = iota
	Good
	Warn
	Bad
)

func Check(s *rest.StatusInfo) Health {
	switch {
	case s.Error != nil,
		s.SwapStatus == string(swapvisor.SwapFailed),
		s.CgroupStatus == string(swapvisor.CgroupFailed):
		return Bad
	case s.Pid == 0,
		s.SwapStatus != string(swapvisor.SwapActive),
		s.CgroupStatus != string(swapvisor.CgroupConfigured):
		return Warn
	default:
		return Good
	}
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

func bytes(n int64) string {
	if n <= 0 {
		return rest.NotAvailable
	}
	return units.BytesSize(float64(n))
}

// Lines renders a status record for display, one field per line.
func Lines(s *rest.StatusInfo, now time.Time) []string {
	pid := rest.NotAvailable
	if s.Pid > 0 {
		pid = fmt.Sprintf("%d", s.Pid)
	}
	errText := "none"
	if s.Error != nil {
		errText = *s.Error
		if s.ErrorKind != "" {
			errText = fmt.Sprintf("%s (%s)", errText, s.ErrorKind)
		}
	}
	dev := s.SwapDevice
	if dev == "" {
		dev = rest.NotAvailable
	}
	cg := s.CgroupStatus
	if !s.Cgroup2 {
		cg += " (not cgroup v2)"
	}
	up := now.Sub(s.Started)
	up -= up % time.Second

	return []string{
		fmt.Sprintf("Container:    %s", s.ContainerName),
		fmt.Sprintf("Process:      %s", s.TargetProcess),
		fmt.Sprintf("PID:          %s", pid),
		fmt.Sprintf("Status:       %s", s.Message),
		fmt.Sprintf("Error:        %s", errText),
		"",
		fmt.Sprintf("Swap:         %s", s.SwapStatus),
		fmt.Sprintf("Swap file:    %s (%s)", s.SwapFile, s.SwapSize),
		fmt.Sprintf("Swap device:  %s", dev),
		fmt.Sprintf("Created:      %s", s.SwapCreated),
		fmt.Sprintf("Swappiness:   %d", s.Swappiness),
		"",
		fmt.Sprintf("Cgroup:       %s (%s)", s.CgroupName, cg),
		fmt.Sprintf("Memory limit: %s", s.MemoryLimit),
		fmt.Sprintf("Swap limit:   %s", s.SwapLimit),
		fmt.Sprintf("Memory usage: %s", s.MemoryUsage),
		fmt.Sprintf("Swap usage:   %s", s.SwapUsage),
		"",
		fmt.Sprintf("Host RAM:     %s", bytes(s.HostTotalRAM)),
		fmt.Sprintf("Host swap:    %s (%s free)", bytes(s.HostTotalSwap), bytes(s.HostFreeSwap)),
		fmt.Sprintf("Restarts:     %d", s.Restarts),
		fmt.Sprintf("Uptime:       %s", FormatDuration(up)),
		fmt.Sprintf("Updated:      %s", s.LastUpdated.Local().Format("2006-01-02 15:04:05")),
	}
}
