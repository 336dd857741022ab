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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/gdamore/swapvisor/fault"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfigValidate(t *testing.T) {
	good := DefaultConfig()
	assert.NoError(t, good.Validate())
	assert.Equal(t, "/mnt/SwapWork/swapfile", good.SwapPath())

	for name, mod := range map[string]func(*Config){
		"nested swap file":    func(c *Config) { c.SwapFile = "a/b" },
		"zero size":           func(c *Config) { c.SwapSize = 0 },
		"swappiness":          func(c *Config) { c.Swappiness = 201 },
		"relative work dir":   func(c *Config) { c.WorkDir = "SwapWork" },
		"empty prefix":        func(c *Config) { c.DeletePrefix = "" },
		"empty pattern":       func(c *Config) { c.TargetProcess = " " },
		"no retries":          func(c *Config) { c.MaxPidRetries = 0 },
		"zero interval":       func(c *Config) { c.CheckInterval = 0 },
		"rate without period": func(c *Config) { c.RestartRatePeriod = 0 },
		"escaping cgroup":     func(c *Config) { c.CgroupName = "../x" },
	} {
		c := DefaultConfig()
		mod(&c)
		err := c.Validate()
		assert.True(t, errors.Is(err, ErrBadConfig), name)
	}
}

func TestRateLimiter(t *testing.T) {
	t0 := time.Unix(1000, 0)
	now := t0
	r := newRateLimiter(2, time.Minute, logrus.New())
	r.now = func() time.Time { return now }

	assert.NoError(t, r.tooQuickly())
	r.record()
	now = t0.Add(time.Second)
	assert.NoError(t, r.tooQuickly())
	r.record()

	now = t0.Add(2 * time.Second)
	assert.Equal(t, ErrRateLimited, r.tooQuickly())

	// window passed, but cooling down from the last restart
	now = t0.Add(60*time.Second + 500*time.Millisecond)
	assert.Equal(t, ErrRateLimited, r.tooQuickly())

	now = t0.Add(62 * time.Second)
	assert.NoError(t, r.tooQuickly())

	unlimited := newRateLimiter(0, 0, logrus.New())
	for i := 0; i < 100; i++ {
		assert.NoError(t, unlimited.tooQuickly())
		unlimited.record()
	}
}

func TestState(t *testing.T) {
	Convey("Given a fresh state", t, func() {
		s := NewState(DefaultConfig())
		st := s.Snapshot()
		So(st.SwapStatus, ShouldEqual, SwapUnset)
		So(st.CgroupStatus, ShouldEqual, CgroupUnknown)
		So(st.Swappiness, ShouldEqual, 200)
		So(st.Serial, ShouldEqual, s.Serial())

		Convey("Updates bump the serial and wake watchers", func() {
			old := s.Serial()
			go func() {
				time.Sleep(10 * time.Millisecond)
				s.update(func(st *Status) {
					st.Pid = 7
				})
			}()
			n := s.WatchSerial(old, 5*time.Second)
			So(n, ShouldNotEqual, old)
			So(s.Snapshot().Pid, ShouldEqual, 7)
		})

		Convey("Watches expire", func() {
			old := s.Serial()
			So(s.WatchSerial(old, 10*time.Millisecond), ShouldEqual, old)
			So(s.WatchSerial(old, 0), ShouldEqual, old)
		})

		Convey("Touch does not bump the serial", func() {
			old := s.Serial()
			before := s.Snapshot().Updated
			time.Sleep(time.Millisecond)
			s.Touch()
			So(s.Serial(), ShouldEqual, old)
			So(s.Snapshot().Updated.After(before), ShouldBeTrue)
		})

		Convey("Errors are cleared only by their source", func() {
			s.update(func(st *Status) {
				st.setError(srcCgroup, fmt.Errorf("no file: %w", fault.ErrResourceUnavailable))
			})
			So(s.Snapshot().ErrorKind, ShouldEqual, "ResourceUnavailable")
			s.update(func(st *Status) {
				st.clearError(srcLocate)
			})
			So(s.Snapshot().Error, ShouldEqual, "no file: Resource unavailable")
			s.update(func(st *Status) {
				st.clearError(srcCgroup)
			})
			So(s.Snapshot().Error, ShouldEqual, "")
			So(s.Snapshot().ErrorKind, ShouldEqual, "")
		})
	})
}

func TestLog(t *testing.T) {
	Convey("The log ring keeps the newest records", t, func() {
		l := NewLog(3)
		_, id0 := l.GetRecords(0)
		for i := 1; i <= 5; i++ {
			fmt.Fprintf(l, "line %d\n", i)
		}
		recs, id := l.GetRecords(id0)
		So(recs, ShouldHaveLength, 3)
		So(recs[0].Text, ShouldEqual, "line 3")
		So(recs[2].Text, ShouldEqual, "line 5")
		So(id, ShouldEqual, id0+5)

		again, same := l.GetRecords(id)
		So(again, ShouldBeNil)
		So(same, ShouldEqual, id)

		Convey("It is a logrus hook", func() {
			lg := logrus.New()
			lg.SetOutput(&testLog{t: t})
			lg.AddHook(l)
			go func() {
				time.Sleep(10 * time.Millisecond)
				lg.WithField("component", "test").Warn("hooked")
			}()
			So(l.Watch(id, 5*time.Second), ShouldEqual, id+1)
			recs, _ := l.GetRecords(id)
			So(recs[2].Text, ShouldContainSubstring, `msg=hooked`)
			So(recs[2].Text, ShouldContainSubstring, `level=warning`)
			So(recs[2].Text, ShouldContainSubstring, `component=test`)
		})
	})
}
