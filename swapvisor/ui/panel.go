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

package ui

import (
	"fmt"
	"sync"

	"github.com/gdamore/tcell/views"

	"github.com/gdamore/swapvisor/swapvisor/util"
)

// Panel is the frame shared by every screen: the daemon address and
// screen name across the top, a status line colored by health, and
// the key bindings along the bottom.
type Panel struct {
	title  *TitleBar
	status *StatusBar
	keys   *KeyBar
	once   sync.Once
	app    *App

	views.Panel
}

func (p *Panel) SetTitle(title string) {
	p.title.SetCenter(title)
}

func (p *Panel) SetKeys(words []string) {
	p.keys.SetKeys(words)
}

// Report shows msg on the status line, colored for h.
func (p *Panel) Report(msg string, h util.Health) {
	p.status.SetText(msg)
	switch h {
	case util.Good:
		p.status.SetGood()
	case util.Warn:
		p.status.SetWarn()
	case util.Bad:
		p.status.SetError()
	default:
		p.status.SetNormal()
	}
}

// Unavailable reports a fetch that has produced nothing yet.  It
// returns false when there is data to show.
func (p *Panel) Unavailable(have bool, err error) bool {
	switch {
	case have:
		return false
	case err != nil:
		p.Report(fmt.Sprintf("No data: %v", err), util.Bad)
	default:
		p.Report("Loading ...", util.Normal)
	}
	return true
}

// Stale flags data that the last refresh failed to update.
func (p *Panel) Stale(err error) bool {
	if err == nil {
		return false
	}
	p.Report(fmt.Sprintf("Stale data: %v", err), util.Bad)
	return true
}

func (p *Panel) Init(app *App) {
	p.once.Do(func() {
		p.app = app

		p.title = NewTitleBar()
		p.title.SetLeft(app.URL())
		p.title.SetRight(app.GetAppName())
		p.title.SetCenter(" ")
		p.keys = NewKeyBar()
		p.status = NewStatusBar()

		p.Panel.SetTitle(p.title)
		p.Panel.SetMenu(p.status)
		p.Panel.SetStatus(p.keys)
	})
}

func (p *Panel) App() *App {
	return p.app
}
