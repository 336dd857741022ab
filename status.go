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
	"github.com/gdamore/swapvisor/cgroup"
)

// SwapStatus is the state of the managed swap area.
type SwapStatus string

const (
	SwapUnset     SwapStatus = "Unset"
	SwapSettingUp SwapStatus = "Setting up..."
	SwapActive    SwapStatus = "Active"
	SwapFailed    SwapStatus = "Failed"
)

// CgroupStatus is the state of the control group for the current pid.
type CgroupStatus string

const (
	CgroupUnset        CgroupStatus = "Unset"
	CgroupConfiguring  CgroupStatus = "Configuring"
	CgroupConfigured   CgroupStatus = "Configured"
	CgroupWithWarnings CgroupStatus = "Configured (with warnings)"
	CgroupFailed       CgroupStatus = "Failed"
	CgroupUnknown      CgroupStatus = "Unknown"
)

func cgroupStatus(o cgroup.Outcome) CgroupStatus {
	switch o {
	case cgroup.Configured:
		return CgroupConfigured
	case cgroup.ConfiguredWithWarnings:
		return CgroupWithWarnings
	}
	return CgroupFailed
}

// Error sources.  A phase that succeeds clears the last error only when
// that phase recorded it.
const (
	srcSwap    = "swap"
	srcDocker  = "docker"
	srcLocate  = "locate"
	srcCgroup  = "cgroup"
	srcMonitor = "monitor"
	srcRestart = "restart"
	srcLoop    = "loop"
)
