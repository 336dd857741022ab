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

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/gdamore/swapvisor/swapvisor/util"
)

// LogPanel shows the daemon's recent log.  It follows the newest
// record unless the user pauses it, and can hide everything below
// warning level.
type LogPanel struct {
	text   *views.TextArea
	paused bool
	min    util.Health

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{min: util.Normal}

	p.Panel.Init(app)
	p.SetTitle("Log")

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(tcell.StyleDefault.
		Foreground(tcell.ColorSilver).Background(tcell.ColorBlack))
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
	app := p.app
	if ev, ok := ev.(*tcell.EventKey); ok {
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyUp, tcell.KeyPgUp, tcell.KeyHome:
			// looking back stops the tail
			p.paused = true
		case tcell.KeyEnd:
			p.paused = false
			app.app.Update()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'F', 'f':
				p.paused = !p.paused
				app.app.Update()
				return true
			case 'W', 'w':
				if p.min == util.Warn {
					p.min = util.Normal
				} else {
					p.min = util.Warn
				}
				app.app.Update()
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *LogPanel) update() {
	follow := "[F] Pause"
	if p.paused {
		follow = "[F] Follow"
	}
	filter := "[W] Warnings"
	if p.min == util.Warn {
		filter = "[W] All"
	}
	p.SetKeys([]string{"[ESC] Main", "[H] Help", follow, filter})

	info, err := p.app.GetLog()
	if p.Unavailable(info != nil, err) {
		p.text.SetLines([]string{""})
		return
	}
	lines, worst := util.LogView(info.Records, p.min)
	shown := len(lines)
	if shown == 0 {
		lines = []string{""}
	}
	p.text.SetLines(lines)
	if !p.paused {
		p.text.MakeVisible(0, len(lines)-1)
	}
	if p.Stale(err) {
		return
	}

	msg := fmt.Sprintf("%d records", len(info.Records))
	if p.min == util.Warn {
		msg = fmt.Sprintf("%d of %d records at warning or above",
			shown, len(info.Records))
	}
	if p.paused {
		msg += ", paused"
	}
	p.Report(msg, worst)
}
