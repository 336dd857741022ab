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
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gdamore/swapvisor"
)

// Severity grades a logged line by its level field.  Lines without one,
// such as raw writer output, are Normal.
func Severity(text string) Health {
	for _, f := range strings.Fields(text) {
		if !strings.HasPrefix(f, "level=") {
			continue
		}
		lvl, err := logrus.ParseLevel(strings.TrimPrefix(f, "level="))
		switch {
		case err != nil:
			return Normal
		case lvl <= logrus.ErrorLevel:
			return Bad
		case lvl == logrus.WarnLevel:
			return Warn
		}
		return Normal
	}
	return Normal
}

// LogView renders records for display, dropping those below min, and
// reports the worst severity among those kept.
func LogView(recs []swapvisor.LogRecord, min Health) ([]string, Health) {
	worst := Normal
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		sev := Severity(r.Text)
		if sev < min {
			continue
		}
		if sev > worst {
			worst = sev
		}
		lines = append(lines, fmt.Sprintf("%s %s",
			r.Time.Local().Format(time.StampMilli), r.Text))
	}
	return lines, worst
}
