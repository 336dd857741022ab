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

// Package swapvisor keeps one process running with file-backed swap
// attached and a bounded memory and swap budget.
//
// At startup the Supervisor builds a fresh swap area on a loop device.
// It then runs a loop that locates the target process by command line,
// moves it into a dedicated control group with memory and swap ceilings,
// and samples its memory usage.  When the process cannot be found for
// too long, the enclosing container is restarted through the Docker
// Engine API.
//
// The Supervisor never exits on its own.  Failures are recorded in the
// shared State, which the rest package exposes over HTTP, and the loop
// carries on in a degraded mode.  Cancelling the context passed to Run
// stops the loop and tears down the swap area that was created.
package swapvisor
