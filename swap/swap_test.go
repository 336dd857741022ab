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
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/gdamore/swapvisor/command/cmdtest"
	"github.com/gdamore/swapvisor/fault"

	. "github.com/smartystreets/goconvey/convey"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	tl.t.Log(strings.Trim(string(p), "\n"))
	return len(p), nil
}

func withManager(t *testing.T, loops int, fn func(m *Manager, h *cmdtest.Host, dir string)) func() {
	return func() {
		dir, err := ioutil.TempDir("", "swaptest")
		So(err, ShouldBeNil)
		Reset(func() {
			os.RemoveAll(dir)
		})
		l := logrus.New()
		l.SetOutput(&testLog{t: t})
		l.SetLevel(logrus.DebugLevel)
		h := cmdtest.NewHost(loops)
		m := NewManager(Config{
			WorkDir:      dir,
			FileName:     "swapfile",
			Size:         1 << 20,
			Swappiness:   200,
			DeletePrefix: "swapfile",
		}, h, l)
		fn(m, h, dir)
	}
}

func countFiles(dir string) int {
	ents, _ := ioutil.ReadDir(dir)
	return len(ents)
}

func TestSetupIdempotent(t *testing.T) {
	Convey("Setup twice leaves exactly one area and one file", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			ctx := context.Background()
			info, err := m.Setup(ctx)
			So(err, ShouldBeNil)
			So(info.Device, ShouldEqual, "/dev/loop0")
			So(info.Swappiness, ShouldEqual, 200)
			So(h.Swaps(), ShouldResemble, []string{"/dev/loop0"})
			So(countFiles(dir), ShouldEqual, 1)

			fi, err := os.Stat(m.Path())
			So(err, ShouldBeNil)
			So(fi.Size(), ShouldEqual, 1<<20)
			So(fi.Mode().Perm(), ShouldEqual, os.FileMode(0600))

			info, err = m.Setup(ctx)
			So(err, ShouldBeNil)
			So(h.Swaps(), ShouldHaveLength, 1)
			So(h.Attached(), ShouldHaveLength, 1)
			So(countFiles(dir), ShouldEqual, 1)
			So(m.Active(), ShouldNotBeNil)
			So(m.Active().Device, ShouldEqual, info.Device)
		}))
}

func TestPreflight(t *testing.T) {
	Convey("Failed checks are reported but do not stop setup", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			So(m.Preflight(context.Background()), ShouldBeEmpty)

			h.FailOn("id")
			errs := m.Preflight(context.Background())
			So(errs, ShouldHaveLength, 1)
			So(errors.Is(errs[0], fault.ErrCommandFailed), ShouldBeTrue)

			_, err := m.Setup(context.Background())
			So(err, ShouldBeNil)
		}))
}

func TestSetupResetsForeignAreas(t *testing.T) {
	Convey("Setup disables swap areas it did not create", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			h.Attach("/dev/loop5", "/elsewhere/orphan")
			h.AddSwap("/dev/loop5")
			h.AddSwap("/swap.img")

			_, err := m.Setup(context.Background())
			So(err, ShouldBeNil)
			So(h.Swaps(), ShouldResemble, []string{"/dev/loop0"})
			_, stillAttached := h.Attached()["/dev/loop5"]
			So(stillAttached, ShouldBeFalse)
		}))

	Convey("Resetting a host without swap succeeds", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			So(m.ResetHost(context.Background()), ShouldBeNil)
			So(h.Count("swapoff"), ShouldEqual, 0)
		}))
}

func TestCreateRollback(t *testing.T) {
	for _, step := range []string{"mkswap", "swapon /dev", "chmod", "losetup /dev"} {
		step := step
		Convey("A failure at "+step+" leaves nothing behind", t,
			withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
				h.FailOn(step)
				info, err := m.Create(context.Background(), 1<<20)
				So(info, ShouldBeNil)
				So(errors.Is(err, fault.ErrCommandFailed), ShouldBeTrue)
				So(h.Attached(), ShouldBeEmpty)
				So(h.Swaps(), ShouldBeEmpty)
				So(countFiles(dir), ShouldEqual, 0)
				So(m.Active(), ShouldBeNil)
			}))
	}

	Convey("No free loop device is ResourceUnavailable", t,
		withManager(t, 0, func(m *Manager, h *cmdtest.Host, dir string) {
			_, err := m.Create(context.Background(), 1<<20)
			So(errors.Is(err, fault.ErrResourceUnavailable), ShouldBeTrue)
			So(countFiles(dir), ShouldEqual, 0)
		}))

	Convey("A swappiness failure is not fatal", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			h.FailOn("sysctl")
			info, err := m.Create(context.Background(), 1<<20)
			So(err, ShouldBeNil)
			So(info.Swappiness, ShouldEqual, 200)
			So(h.Swaps(), ShouldHaveLength, 1)
		}))
}

func TestSetupStopsWhenDeleteFails(t *testing.T) {
	Convey("A stale file that cannot be removed aborts setup", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			So(ioutil.WriteFile(m.Path(), []byte("stale"), 0600), ShouldBeNil)
			h.FailOn("rm -f")
			_, err := m.Setup(context.Background())
			So(err, ShouldNotBeNil)
			So(h.Count("truncate"), ShouldEqual, 0)
			So(h.Count("losetup -f"), ShouldEqual, 0)
		}))

	Convey("A missing swapon aborts setup", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			h.Remove("swapon")
			_, err := m.Setup(context.Background())
			So(errors.Is(err, fault.ErrCommandNotFound), ShouldBeTrue)
		}))
}

func TestTeardown(t *testing.T) {
	Convey("Teardown removes only what was created", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			h.AddSwap("/swap.img")
			_, err := m.Create(context.Background(), 1<<20)
			So(err, ShouldBeNil)
			So(m.Teardown(context.Background()), ShouldBeNil)
			So(h.Swaps(), ShouldResemble, []string{"/swap.img"})
			So(h.Attached(), ShouldBeEmpty)
			So(countFiles(dir), ShouldEqual, 0)
		}))
}

func TestDeleteMatching(t *testing.T) {
	Convey("Matching files are deleted", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			for _, n := range []string{"swapfile.tmp1", "swapfile.tmp2", "keep.me"} {
				So(ioutil.WriteFile(filepath.Join(dir, n), nil, 0600), ShouldBeNil)
			}
			r := m.DeleteMatching(context.Background(), false)
			So(r.Deleted, ShouldEqual, 2)
			So(r.Errors, ShouldBeEmpty)
			So(r.OK(), ShouldBeTrue)
			_, err := os.Stat(filepath.Join(dir, "swapfile.tmp1"))
			So(os.IsNotExist(err), ShouldBeTrue)
			_, err = os.Stat(filepath.Join(dir, "swapfile.tmp2"))
			So(os.IsNotExist(err), ShouldBeTrue)
			So(countFiles(dir), ShouldEqual, 1)
			So(h.Count("losetup -D"), ShouldEqual, 0)
		}))

	Convey("Active loop-backed swap on a matching file is disabled first", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			_, err := m.Setup(context.Background())
			So(err, ShouldBeNil)
			h.Attach("/dev/loop7", "/elsewhere/swapfile")
			h.AddSwap("/dev/loop7")

			r := m.DeleteMatching(context.Background(), true)
			So(r.Errors, ShouldBeEmpty)
			So(r.Deleted, ShouldEqual, 1)
			So(h.Swaps(), ShouldResemble, []string{"/dev/loop7"})
			So(m.Active(), ShouldBeNil)
			So(h.Count("losetup -D"), ShouldEqual, 1)
		}))

	Convey("A missing work directory is reported", t,
		withManager(t, 8, func(m *Manager, h *cmdtest.Host, dir string) {
			os.RemoveAll(dir)
			r := m.DeleteMatching(context.Background(), false)
			So(r.OK(), ShouldBeFalse)
			So(r.Errors[0], ShouldContainSubstring, "not found")
		}))
}

func TestParseSwapon(t *testing.T) {
	out := "/dev/loop0 partition 1073741824 4096 -2\n" +
		"/loop3 partition 2048 0 -3\n" +
		"/swap\\x20file file 1024 0 -4\n\n"
	areas := parseSwapon(out)
	assert.Len(t, areas, 3)
	assert.Equal(t, "/dev/loop0", areas[0].Name)
	assert.Equal(t, int64(1073741824), areas[0].Size)
	assert.Equal(t, int64(4096), areas[0].Used)
	assert.True(t, areas[0].IsLoop())
	assert.Equal(t, "/dev/loop3", areas[1].Name)
	assert.True(t, areas[1].IsLoop())
	assert.Equal(t, "/swap file", areas[2].Name)
	assert.False(t, areas[2].IsLoop())
	assert.Empty(t, parseSwapon(""))
}
