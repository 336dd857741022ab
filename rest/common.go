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

package rest

import (
	"time"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// A client that sends If-None-Match together with these headers
	// asks the server to hold the request until the Etag changes, for
	// at most PollTimeHeader (and MaxPollTime) seconds.
	PollEtagHeader = "X-Swapvisor-Poll-Etag"
	PollTimeHeader = "X-Swapvisor-Poll-Time"
	MaxPollTime    = 300

	// NotAvailable stands in for readings that are not known.
	NotAvailable = "N/A"

	timeFormat = "2006-01-02 15:04:05"
)

// StatusInfo is the status record served at / and /status.
type StatusInfo struct {
	ContainerName string    `json:"container_name"`
	TargetProcess string    `json:"target_process"`
	Pid           int       `json:"pid"`
	CgroupName    string    `json:"cgroup_name"`
	MemoryLimit   string    `json:"memory_limit"`
	SwapLimit     string    `json:"swap_limit"`
	SwapFile      string    `json:"swap_file"`
	SwapSize      string    `json:"swap_size"`
	Swappiness    int       `json:"swappiness"`
	LastUpdated   time.Time `json:"last_updated"`
	Message       string    `json:"status_message"`
	Error         *string   `json:"error"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	SwapStatus    string    `json:"swap_status"`
	SwapDevice    string    `json:"swap_device,omitempty"`
	SwapCreated   string    `json:"swap_creation_time"`
	CgroupStatus  string    `json:"cgroup_status"`
	Cgroup2       bool      `json:"cgroup2"`
	MemoryUsage   string    `json:"memory_usage"`
	SwapUsage     string    `json:"swap_usage"`
	Restarts      int       `json:"container_restarts"`
	HostTotalRAM  int64     `json:"host_total_ram,omitempty"`
	HostTotalSwap int64     `json:"host_total_swap,omitempty"`
	HostFreeSwap  int64     `json:"host_free_swap,omitempty"`
	Started       time.Time `json:"started"`

	etag string
}

// DeleteResult is the outcome of a bulk swap file deletion.
type DeleteResult struct {
	Message string   `json:"message"`
	Deleted int      `json:"deleted_count"`
	Errors  []string `json:"errors"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
