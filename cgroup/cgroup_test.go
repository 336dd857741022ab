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

package cgroup

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
	"github.com/stretchr/testify/require"

	"github.com/gdamore/swapvisor/command"
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

func TestParseLimit(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"0G", 0},
		{" 0g ", 0},
		{"max", 0},
		{"8G", 8 << 30},
		{"512M", 512 << 20},
		{"1g", 1 << 30},
		{"4096", 4096},
	} {
		l, err := ParseLimit(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, l.Bytes(), tc.in)
		assert.Equal(t, tc.want == 0, l.IsUnlimited(), tc.in)
	}
	_, err := ParseLimit("lots")
	assert.Error(t, err)
	assert.Equal(t, "unlimited", Unlimited.String())
	assert.Equal(t, "2GiB", Bytes(2<<30).String())
}

// fakeRoot lays out a cgroup root with an existing group whose limit
// files are present unless listed in missing.
func fakeRoot(t *testing.T, subtree string, missing ...string) string {
	root, err := ioutil.TempDir("", "cgtest")
	So(err, ShouldBeNil)
	Reset(func() {
		os.RemoveAll(root)
	})
	So(ioutil.WriteFile(filepath.Join(root, subtreeControl), []byte(subtree), 0644), ShouldBeNil)
	group := filepath.Join(root, "test")
	So(os.Mkdir(group, 0755), ShouldBeNil)
	skip := map[string]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	for _, f := range []string{procsFile, memoryMaxFile, swapMaxFile} {
		if !skip[f] {
			So(ioutil.WriteFile(filepath.Join(group, f), []byte("max\n"), 0644), ShouldBeNil)
		}
	}
	return root
}

func newTestLimiter(t *testing.T, root string) *Limiter {
	l := logrus.New()
	l.SetOutput(&testLog{t: t})
	return NewLimiter(root, "test", cmdtest.NewHost(0), l)
}

func read(root, file string) string {
	b, _ := ioutil.ReadFile(filepath.Join(root, "test", file))
	return strings.TrimSpace(string(b))
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	gig := Bytes(1 << 30)

	Convey("All ceilings written", t, func() {
		root := fakeRoot(t, "cpu memory")
		lim := newTestLimiter(t, root)
		o, w, err := lim.Configure(ctx, 42, Bytes(2<<30), gig)
		So(err, ShouldBeNil)
		So(w, ShouldBeEmpty)
		So(o, ShouldEqual, Configured)
		So(o.String(), ShouldEqual, "Configured")
		So(read(root, procsFile), ShouldEqual, "42")
		So(read(root, memoryMaxFile), ShouldEqual, "2147483648")
		So(read(root, swapMaxFile), ShouldEqual, "1073741824")
		So(lim.Unified(), ShouldBeFalse)
	})

	Convey("Unlimited ceilings are never written", t, func() {
		root := fakeRoot(t, "memory")
		lim := newTestLimiter(t, root)
		for _, s := range []string{"0", ""} {
			z, err := ParseLimit(s)
			So(err, ShouldBeNil)
			o, w, err := lim.Configure(ctx, 42, z, z)
			So(err, ShouldBeNil)
			So(w, ShouldBeEmpty)
			So(o, ShouldEqual, Configured)
			So(read(root, memoryMaxFile), ShouldEqual, "max")
			So(read(root, swapMaxFile), ShouldEqual, "max")
		}
	})

	Convey("A missing swap limit file is a warning", t, func() {
		root := fakeRoot(t, "memory", swapMaxFile)
		lim := newTestLimiter(t, root)
		o, w, err := lim.Configure(ctx, 7, gig, gig)
		So(err, ShouldBeNil)
		So(o, ShouldEqual, ConfiguredWithWarnings)
		So(w, ShouldHaveLength, 1)
		So(w[0], ShouldContainSubstring, swapMaxFile)
		So(read(root, procsFile), ShouldEqual, "7")
		So(read(root, memoryMaxFile), ShouldEqual, "1073741824")
	})

	Convey("Failed enrollment writes no ceilings", t, func() {
		root := fakeRoot(t, "memory", procsFile)
		lim := newTestLimiter(t, root)
		o, w, err := lim.Configure(ctx, 7, gig, gig)
		So(o, ShouldEqual, Failed)
		So(w, ShouldBeNil)
		So(errors.Is(err, fault.ErrResourceUnavailable), ShouldBeTrue)
		So(read(root, memoryMaxFile), ShouldEqual, "max")
		So(read(root, swapMaxFile), ShouldEqual, "max")
	})

	Convey("An invalid pid is rejected", t, func() {
		root := fakeRoot(t, "memory")
		lim := newTestLimiter(t, root)
		o, _, err := lim.Configure(ctx, 0, gig, gig)
		So(o, ShouldEqual, Failed)
		So(err, ShouldNotBeNil)
		So(read(root, procsFile), ShouldEqual, "max")
	})

	Convey("A new group is created", t, func() {
		root := fakeRoot(t, "memory")
		lim := NewLimiter(root, "fresh", cmdtest.NewHost(0), nil)
		So(lim.EnsureGroup(ctx), ShouldBeNil)
		fi, err := os.Stat(lim.Path())
		So(err, ShouldBeNil)
		So(fi.IsDir(), ShouldBeTrue)
		So(lim.EnsureGroup(ctx), ShouldBeNil)
	})
}

func TestDelegation(t *testing.T) {
	ctx := context.Background()

	Convey("The memory controller is enabled when missing", t, func() {
		root := fakeRoot(t, "cpu io")
		lim := newTestLimiter(t, root)
		So(lim.EnsureGroup(ctx), ShouldBeNil)
		So(lim.delegated, ShouldBeTrue)
		b, err := ioutil.ReadFile(filepath.Join(root, subtreeControl))
		So(err, ShouldBeNil)
		So(string(b), ShouldEqual, "+memory")
	})

	Convey("An already delegated controller is left alone", t, func() {
		root := fakeRoot(t, "cpu memory")
		lim := newTestLimiter(t, root)
		So(lim.EnsureGroup(ctx), ShouldBeNil)
		b, _ := ioutil.ReadFile(filepath.Join(root, subtreeControl))
		So(string(b), ShouldEqual, "cpu memory")
	})

	Convey("A missing delegation file is only a warning", t, func() {
		root := fakeRoot(t, "")
		So(os.Remove(filepath.Join(root, subtreeControl)), ShouldBeNil)
		lim := newTestLimiter(t, root)
		So(lim.EnsureGroup(ctx), ShouldBeNil)
		So(lim.delegated, ShouldBeFalse)
	})
}

func TestUnified(t *testing.T) {
	Convey("A plain directory is not a cgroup2 mount", t, func() {
		root := fakeRoot(t, "memory")
		So(newTestLimiter(t, root).Unified(), ShouldBeFalse)
	})
}

func TestPrivilegedWrite(t *testing.T) {
	dir, err := ioutil.TempDir("", "cgtest")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	// a hostile path and value stay single arguments
	path := filepath.Join(dir, "memory max; touch pwned")
	value := "1G $(touch pwned2)"
	c := writeCmd(path, value)
	assert.True(t, c.Privileged)
	assert.Equal(t, path, c.Args[len(c.Args)-1])
	assert.Equal(t, value, c.Args[len(c.Args)-2])

	e := command.NewExecutor(false, logrus.New())
	_, err = e.Run(context.Background(), c)
	require.NoError(t, err)
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, value+"\n", string(data))

	ents, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 1)
	_, err = os.Stat("pwned")
	assert.True(t, os.IsNotExist(err))
}
