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

package swapvisor

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/swapvisor/cgroup"
	"github.com/gdamore/swapvisor/swap"
)

// Config is read once at startup.
type Config struct {
	SwapFile          string // backing file name, within WorkDir
	SwapSize          int64  // bytes
	Swappiness        int
	WorkDir           string
	DeletePrefix      string // file prefix matched by bulk deletion
	DetachAllOnDelete bool   // default for bulk deletion

	ContainerName     string
	TargetProcess     string // matched against full command lines
	MaxPidRetries     int
	StartTimeout      time.Duration // grace period after a restart
	CheckInterval     time.Duration
	RestartRateLimit  int // max restarts per RestartRatePeriod, 0 is no limit
	RestartRatePeriod time.Duration

	CgroupRoot  string
	CgroupName  string
	MemoryLimit cgroup.Limit
	SwapLimit   cgroup.Limit
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		SwapFile:          "swapfile",
		SwapSize:          512 << 30,
		Swappiness:        200,
		WorkDir:           "/mnt/SwapWork",
		DeletePrefix:      "swapfile",
		ContainerName:     "ix-ollama-ollama-1",
		TargetProcess:     "/bin/ollama serve",
		MaxPidRetries:     5,
		StartTimeout:      30 * time.Second,
		CheckInterval:     30 * time.Second,
		RestartRateLimit:  10,
		RestartRatePeriod: time.Hour,
		CgroupRoot:        cgroup.DefaultRoot,
		CgroupName:        "my_large_process",
		MemoryLimit:       cgroup.Bytes(8 << 30),
		SwapLimit:         cgroup.Bytes(512 << 30),
	}
}

// SwapPath returns the full path of the managed backing file.
func (c *Config) SwapPath() string {
	return filepath.Join(c.WorkDir, c.SwapFile)
}

// SwapConfig returns the settings of the managed swap slot.
func (c *Config) SwapConfig() swap.Config {
	return swap.Config{
		WorkDir:      c.WorkDir,
		FileName:     c.SwapFile,
		Size:         c.SwapSize,
		Swappiness:   c.Swappiness,
		DeletePrefix: c.DeletePrefix,
	}
}

func bad(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBadConfig, fmt.Sprintf(format, v...))
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.SwapFile == "" || strings.ContainsRune(c.SwapFile, filepath.Separator):
		return bad("swap file name '%s' must be a plain file name", c.SwapFile)
	case c.SwapSize <= 0:
		return bad("swap size must be positive")
	case c.Swappiness < 0 || c.Swappiness > 200:
		return bad("swappiness %d not in 0..200", c.Swappiness)
	case !filepath.IsAbs(c.WorkDir):
		return bad("work directory '%s' must be absolute", c.WorkDir)
	case c.DeletePrefix == "":
		return bad("delete prefix must not be empty")
	case strings.TrimSpace(c.TargetProcess) == "":
		return bad("target process pattern must not be empty")
	case c.MaxPidRetries < 1:
		return bad("max pid retries must be at least 1")
	case c.StartTimeout < 0:
		return bad("container start timeout must not be negative")
	case c.CheckInterval <= 0:
		return bad("check interval must be positive")
	case c.RestartRateLimit < 0:
		return bad("restart rate limit must not be negative")
	case c.RestartRateLimit > 0 && c.RestartRatePeriod <= 0:
		return bad("restart rate period must be positive")
	case c.CgroupName == "" || strings.Contains(c.CgroupName, ".."):
		return bad("cgroup name '%s' is not valid", c.CgroupName)
	}
	return nil
}
