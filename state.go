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
	"sync"
	"time"

	"github.com/gdamore/swapvisor/fault"
)

// Status is a consistent snapshot of the supervisor state.
type Status struct {
	Config Config

	Pid          int
	SwapStatus   SwapStatus
	SwapDevice   string
	SwapCreated  time.Time // zero unless the area is active
	Swappiness   int       // effective value, when known
	CgroupStatus CgroupStatus
	Cgroup2      bool

	UsageValid bool
	Memory     int64 // resident bytes
	Swap       int64 // swapped bytes

	Restarts    int
	LastRestart time.Time

	Message   string
	Error     string // last error, "" if none
	ErrorKind string // fault category of Error
	errSource string

	Serial  int64
	Started time.Time
	Updated time.Time
}

// State is the status record shared between the supervisor loop, which
// is the only writer, and any number of readers.  Readers may wait for
// changes with WatchSerial.
type State struct {
	status Status
	serial int64
	cvs    map[*sync.Cond]bool
	mx     sync.Mutex
}

// NewState returns a State describing a supervisor that has not yet done
// anything.
func NewState(cfg Config) *State {
	now := time.Now()
	s := &State{
		// starting from the clock lets cached clients notice that
		// the daemon restarted
		serial: now.UnixNano(),
		cvs:    make(map[*sync.Cond]bool),
	}
	s.status = Status{
		Config:       cfg,
		SwapStatus:   SwapUnset,
		Swappiness:   cfg.Swappiness,
		CgroupStatus: CgroupUnknown,
		Message:      "Initializing...",
		Started:      now,
		Updated:      now,
	}
	return s
}

func (s *State) lock() {
	s.mx.Lock()
}

func (s *State) unlock() {
	s.mx.Unlock()
}

// update applies fn under the lock, then notifies watchers.
func (s *State) update(fn func(*Status)) {
	s.lock()
	fn(&s.status)
	s.status.Updated = time.Now()
	s.serial++
	for cv := range s.cvs {
		cv.Broadcast()
	}
	s.unlock()
}

func (st *Status) setError(src string, err error) {
	st.Error = err.Error()
	st.ErrorKind = fault.Kind(err)
	st.errSource = src
}

func (st *Status) clearError(src string) {
	if st.errSource == src {
		st.Error = ""
		st.ErrorKind = ""
		st.errSource = ""
	}
}

// Snapshot returns a copy of the current status.
func (s *State) Snapshot() Status {
	s.lock()
	st := s.status
	st.Serial = s.serial
	s.unlock()
	return st
}

// Touch marks the record as freshly read, without notifying watchers.
func (s *State) Touch() {
	s.lock()
	s.status.Updated = time.Now()
	s.unlock()
}

// Serial returns the change counter.  It grows with every update.
func (s *State) Serial() int64 {
	s.lock()
	defer s.unlock()
	return s.serial
}

// WatchSerial waits until the serial differs from old, or expire has
// elapsed, and returns the serial.  An expire of 0 is a plain poll.
func (s *State) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&s.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			s.lock()
			expired = true
			cv.Broadcast()
			s.unlock()
		})
	} else {
		expired = true
	}

	s.lock()
	s.cvs[cv] = true
	for {
		rv = s.serial
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(s.cvs, cv)
	s.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}
