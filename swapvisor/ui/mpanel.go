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
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/gdamore/swapvisor/swapvisor/util"
)

// MainPanel shows the supervisor status.
type MainPanel struct {
	text    *views.TextArea
	confirm bool // waiting for a yes/no on deletion

	Panel
}

func NewMainPanel(app *App) *MainPanel {
	m := &MainPanel{}
	m.Panel.Init(app)
	m.SetTitle("Status")

	m.text = views.NewTextArea()
	m.text.EnableCursor(false)
	m.text.SetStyle(tcell.StyleDefault.
		Foreground(tcell.ColorSilver).Background(tcell.ColorBlack))
	m.SetContent(m.text)
	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	app := m.app
	if ev, ok := ev.(*tcell.EventKey); ok {
		if m.confirm {
			m.confirm = false
			if ev.Key() == tcell.KeyRune && (ev.Rune() == 'Y' || ev.Rune() == 'y') {
				app.DeleteSwap()
			}
			app.app.Update()
			return true
		}
		switch ev.Key() {
		case tcell.KeyEsc:
			app.Quit()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.Quit()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				app.ShowLog()
				return true
			case 'D', 'd':
				m.confirm = true
				app.app.Update()
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

func (m *MainPanel) update() {
	st, err := m.app.GetStatus()

	if m.confirm {
		m.Report("Delete ALL matching swap files? [Y]es / [N]o", util.Warn)
		m.SetKeys([]string{"[Y] Yes", "[N] No"})
		return
	}
	m.SetKeys([]string{"[Q] Quit", "[H] Help", "[L] Log", "[D] Delete swap"})

	if m.Unavailable(st != nil, err) {
		m.text.SetLines([]string{""})
		return
	}
	m.text.SetLines(util.Lines(st, time.Now()))

	if msg, failed := m.app.Result(); msg != "" {
		h := util.Normal
		if failed {
			h = util.Bad
		}
		m.Report(msg, h)
		return
	}
	if !m.Stale(err) {
		m.Report(st.Message, util.Check(st))
	}
}
