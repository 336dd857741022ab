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

//go:build linux
// +build linux

package proc

import (
	"golang.org/x/sys/unix"
)

func hostTotals() (Host, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return Host{}, err
	}
	unit := int64(si.Unit)
	return Host{
		TotalRAM:  int64(si.Totalram) * unit,
		TotalSwap: int64(si.Totalswap) * unit,
		FreeSwap:  int64(si.Freeswap) * unit,
	}, nil
}
