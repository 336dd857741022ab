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

package proc

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gdamore/swapvisor/command/cmdtest"
	"github.com/gdamore/swapvisor/fault"

	. "github.com/smartystreets/goconvey/convey"
)

const statusText = `Name:	ollama
Umask:	0022
State:	S (sleeping)
Pid:	4242
VmPeak:	 9000000 kB
VmSize:	 8800000 kB
VmRSS:	  204800 kB
RssAnon:	  200000 kB
VmSwap:	    1024 kB
Threads:	12
`

func TestLocate(t *testing.T) {
	ctx := context.Background()

	Convey("Locating processes", t, func() {
		h := cmdtest.NewHost(0)
		l := NewLocator(h, nil)

		Convey("No match is NotFound", func() {
			_, err := l.Locate(ctx, "/bin/ollama serve")
			So(errors.Is(err, fault.ErrNotFound), ShouldBeTrue)
		})

		Convey("The full command line is matched", func() {
			h.SetProcess(300, "/usr/bin/ollama-helper")
			h.SetProcess(200, "/bin/ollama serve --port 11434")
			pid, err := l.Locate(ctx, "/bin/ollama serve")
			So(err, ShouldBeNil)
			So(pid, ShouldEqual, 200)
		})

		Convey("The first of several matches wins", func() {
			h.SetProcess(310, "/bin/ollama serve")
			h.SetProcess(120, "/bin/ollama serve")
			pid, err := l.Locate(ctx, "ollama serve")
			So(err, ShouldBeNil)
			So(pid, ShouldEqual, 120)
		})

		Convey("Our own process is never chosen", func() {
			h.SetProcess(os.Getpid(), "swapvisord --pattern ollama serve")
			_, err := l.Locate(ctx, "ollama serve")
			So(errors.Is(err, fault.ErrNotFound), ShouldBeTrue)

			h.SetProcess(os.Getpid()+1, "/bin/ollama serve")
			pid, err := l.Locate(ctx, "ollama serve")
			So(err, ShouldBeNil)
			So(pid, ShouldEqual, os.Getpid()+1)
		})

		Convey("A missing pgrep is distinct from no match", func() {
			h.Remove("pgrep")
			_, err := l.Locate(ctx, "x")
			So(errors.Is(err, fault.ErrCommandNotFound), ShouldBeTrue)
			So(errors.Is(err, fault.ErrNotFound), ShouldBeFalse)
		})
	})
}

func TestSample(t *testing.T) {
	Convey("Sampling memory usage", t, func() {
		root, err := ioutil.TempDir("", "proctest")
		So(err, ShouldBeNil)
		Reset(func() {
			os.RemoveAll(root)
		})
		s := NewSampler(root)

		Convey("Counters are read from the status record", func() {
			So(os.Mkdir(filepath.Join(root, "4242"), 0755), ShouldBeNil)
			So(ioutil.WriteFile(filepath.Join(root, "4242", "status"),
				[]byte(statusText), 0644), ShouldBeNil)
			u, err := s.Sample(4242)
			So(err, ShouldBeNil)
			So(u.RSS, ShouldEqual, 204800*1024)
			So(u.Swap, ShouldEqual, 1024*1024)
			So(Format(u.RSS), ShouldEqual, "204800 kB")
		})

		Convey("A vanished process is NotFound", func() {
			_, err := s.Sample(999)
			So(errors.Is(err, fault.ErrNotFound), ShouldBeTrue)
		})

		Convey("A record without counters is NotFound", func() {
			So(os.Mkdir(filepath.Join(root, "2"), 0755), ShouldBeNil)
			So(ioutil.WriteFile(filepath.Join(root, "2", "status"),
				[]byte("Name:\tkthreadd\n"), 0644), ShouldBeNil)
			_, err := s.Sample(2)
			So(errors.Is(err, fault.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestSampleSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /proc")
	}
	u, err := NewSampler("").Sample(os.Getpid())
	assert.NoError(t, err)
	assert.True(t, u.RSS > 0)

	h, err := HostTotals()
	assert.NoError(t, err)
	assert.True(t, h.TotalRAM > 0)
	assert.True(t, h.FreeSwap <= h.TotalSwap)
}

func TestHuman(t *testing.T) {
	assert.Equal(t, "1MiB", Human(1<<20))
	assert.Equal(t, "1024 kB", Format(1<<20))
}
