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

package util

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gdamore/swapvisor"
)

func TestSeverity(t *testing.T) {
	assert.Equal(t, Bad, Severity(`level=error msg="swapon failed"`))
	assert.Equal(t, Bad, Severity(`level=fatal msg=gone`))
	assert.Equal(t, Warn, Severity(`level=warning msg="no process"`))
	assert.Equal(t, Normal, Severity(`level=info msg=started`))
	assert.Equal(t, Normal, Severity(`level=bogus msg=x`))
	assert.Equal(t, Normal, Severity("plain writer output"))
}

func TestLogView(t *testing.T) {
	now := time.Now()
	recs := []swapvisor.LogRecord{
		{Id: 1, Time: now, Text: "level=info msg=one"},
		{Id: 2, Time: now, Text: "level=warning msg=two"},
		{Id: 3, Time: now, Text: "level=debug msg=three"},
	}

	lines, worst := LogView(recs, Normal)
	assert.Len(t, lines, 3)
	assert.Equal(t, Warn, worst)
	assert.True(t, strings.HasSuffix(lines[0], " level=info msg=one"))

	lines, worst = LogView(recs, Warn)
	assert.Equal(t, 1, len(lines))
	assert.Contains(t, lines[0], "msg=two")
	assert.Equal(t, Warn, worst)

	recs = append(recs, swapvisor.LogRecord{Id: 4, Time: now, Text: "level=error msg=four"})
	lines, worst = LogView(recs, Warn)
	assert.Equal(t, 2, len(lines))
	assert.Equal(t, Bad, worst)

	lines, worst = LogView(nil, Normal)
	assert.Empty(t, lines)
	assert.Equal(t, Normal, worst)
}
