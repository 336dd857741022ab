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

// Package ui implements the full screen status view of the swapvisor CLI.
package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell"
	"github.com/gdamore/tcell/views"

	"github.com/gdamore/swapvisor/rest"
)

const deleteTimeout = 5 * time.Minute

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	client    *rest.Client
	url       string
	ctx       context.Context
	cancel    context.CancelFunc
	logCancel context.CancelFunc

	// updated by the refresh goroutines
	mx        sync.Mutex
	status    *rest.StatusInfo
	err       error
	logInfo   *rest.LogInfo
	logErr    error
	deleting  bool
	result    string
	resultErr bool

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowLog() {
	if a.logCancel == nil {
		ctx, cancel := context.WithCancel(a.ctx)
		a.logCancel = cancel
		go a.refreshLog(ctx)
	}
	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

// DeleteSwap starts a bulk deletion.  The outcome is reported through
// Result once it completes.
func (a *App) DeleteSwap() {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.deleting {
		return
	}
	a.deleting = true
	a.result = "Deleting swap files ..."
	a.resultErr = false
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, deleteTimeout)
		res, e := a.client.DeleteSwap(ctx, false)
		cancel()
		var msg string
		switch {
		case res != nil:
			msg = fmt.Sprintf("%s Deleted %d.", res.Message, res.Deleted)
			if len(res.Errors) > 0 {
				msg += " " + res.Errors[0]
			}
		case e != nil:
			msg = fmt.Sprintf("Delete failed: %v", e)
		}
		a.mx.Lock()
		a.deleting = false
		a.result = msg
		a.resultErr = e != nil
		a.mx.Unlock()
		a.app.Update()
	}()
}

// Result returns the outcome of the last deletion, if any.
func (a *App) Result() (string, bool) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.result, a.resultErr
}

func (a *App) Quit() {
	a.cancel()
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetAppName() string {
	return "Swapvisor"
}

func (a *App) URL() string {
	return a.url
}

func NewApp(client *rest.Client, url string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.url = url
	app.ctx, app.cancel = context.WithCancel(context.Background())
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app)
	app.panel = app.main

	go app.refresh()
	return app
}

// refresh keeps the status current, using long polls.
func (a *App) refresh() {
	var last *rest.StatusInfo
	for {
		var st *rest.StatusInfo
		var e error
		if last == nil {
			st, e = a.client.Status()
		} else {
			st, e = a.client.WatchStatus(a.ctx, last)
		}
		if a.ctx.Err() != nil {
			return
		}
		a.mx.Lock()
		if st != nil {
			a.status = st
		}
		a.err = e
		a.mx.Unlock()
		a.app.Update()
		if e != nil {
			last = nil
			time.Sleep(2 * time.Second)
			continue
		}
		last = st
	}
}

func (a *App) refreshLog(ctx context.Context) {
	info, e := a.client.GetLog()

	for {
		a.mx.Lock()
		if info != nil {
			a.logInfo = info
		}
		a.logErr = e
		a.mx.Unlock()
		a.app.Update()
		if e != nil {
			info = nil
			time.Sleep(2 * time.Second)
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if info == nil {
			info, e = a.client.GetLog()
		} else {
			info, e = a.client.WatchLog(ctx, info)
		}
	}
}

// GetStatus returns the most recent status, and the error from the
// most recent attempt to get it.
func (a *App) GetStatus() (*rest.StatusInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.status, a.err
}

func (a *App) GetLog() (*rest.LogInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.logInfo, a.logErr
}

func (a *App) Run() error {
	a.app.SetRootWidget(a)
	a.ShowMain()
	go func() {
		// Give us periodic updates
		for a.ctx.Err() == nil {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	return a.app.Run()
}
