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

//go:build !plan9 && !nacl && !js
// +build !plan9,!nacl,!js

package main

import (
	"github.com/gdamore/swapvisor/rest"
	"github.com/gdamore/swapvisor/swapvisor/ui"
)

func doUI(client *rest.Client, url string) error {
	return ui.NewApp(client, url).Run()
}
