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

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/urfave/cli"

	"github.com/gdamore/swapvisor"
	"github.com/gdamore/swapvisor/cgroup"
)

const defaultEnvFile = "/app/swap.env"

func flags() []cli.Flag {
	def := swapvisor.DefaultConfig()
	return []cli.Flag{
		cli.StringFlag{
			Name:   "swap-file",
			Value:  def.SwapFile,
			Usage:  "swap file name within the work directory",
			EnvVar: "SWAP_FILE",
		},
		cli.StringFlag{
			Name:   "swap-size",
			Value:  "512G",
			Usage:  "size of the swap file",
			EnvVar: "SWAP_SIZE",
		},
		cli.IntFlag{
			Name:   "swappiness",
			Value:  def.Swappiness,
			Usage:  "vm.swappiness once swap is active",
			EnvVar: "SWAPINESS",
		},
		cli.StringFlag{
			Name:   "work-dir",
			Value:  def.WorkDir,
			Usage:  "directory holding swap files",
			EnvVar: "SWAP_WORK_DIR",
		},
		cli.StringFlag{
			Name:   "delete-prefix",
			Value:  def.DeletePrefix,
			Usage:  "file prefix matched by bulk swap deletion",
			EnvVar: "SWAP_FILE_PREFIX_TO_DELETE",
		},
		cli.BoolFlag{
			Name:   "detach-all",
			Usage:  "bulk deletion detaches every loop device by default",
			EnvVar: "DETACH_ALL_LOOPS_ON_DELETE",
		},
		cli.StringFlag{
			Name:   "container",
			Value:  def.ContainerName,
			Usage:  "container to restart when the process is lost",
			EnvVar: "CONTAINER_NAME",
		},
		cli.StringFlag{
			Name:   "process",
			Value:  def.TargetProcess,
			Usage:  "command line pattern of the supervised process",
			EnvVar: "TARGET_PROCESS_NAME",
		},
		cli.IntFlag{
			Name:   "max-pid-retries",
			Value:  def.MaxPidRetries,
			Usage:  "failed lookups before restarting the container",
			EnvVar: "MAX_PID_RETRIES",
		},
		cli.IntFlag{
			Name:   "start-timeout",
			Value:  int(def.StartTimeout / time.Second),
			Usage:  "seconds to wait for the container to start",
			EnvVar: "CONTAINER_START_TIMEOUT",
		},
		cli.IntFlag{
			Name:   "interval",
			Value:  int(def.CheckInterval / time.Second),
			Usage:  "seconds between checks",
			EnvVar: "RESOURCE_CHECK_INTERVAL",
		},
		cli.IntFlag{
			Name:   "restart-limit",
			Value:  def.RestartRateLimit,
			Usage:  "max container restarts per period, 0 for no limit",
			EnvVar: "RESTART_RATE_LIMIT",
		},
		cli.IntFlag{
			Name:   "restart-period",
			Value:  int(def.RestartRatePeriod / time.Second),
			Usage:  "restart rate period in seconds",
			EnvVar: "RESTART_RATE_PERIOD",
		},
		cli.StringFlag{
			Name:   "cgroup-root",
			Value:  def.CgroupRoot,
			Usage:  "cgroup v2 mount point",
			EnvVar: "CGROUP_ROOT",
		},
		cli.StringFlag{
			Name:   "cgroup",
			Value:  def.CgroupName,
			Usage:  "control group name",
			EnvVar: "CGROUP_NAME",
		},
		cli.StringFlag{
			Name:   "memory-limit",
			Value:  "8G",
			Usage:  "memory.max, 0 for unlimited",
			EnvVar: "MEMORY_LIMIT",
		},
		cli.StringFlag{
			Name:   "swap-limit",
			Value:  "512G",
			Usage:  "memory.swap.max, 0 for unlimited",
			EnvVar: "SWAP_LIMIT",
		},
		cli.StringFlag{
			Name:   "docker-host",
			Value:  "",
			Usage:  "container engine address",
			EnvVar: "DOCKER_HOST",
		},
		cli.StringFlag{
			Name:   "sudo",
			Value:  "",
			Usage:  "run privileged commands through sudo (default: when not root)",
			EnvVar: "USE_SUDO",
		},
		cli.IntFlag{
			Name:   "port",
			Value:  5000,
			Usage:  "status server port",
			EnvVar: "WEB_UI_PORT",
		},
		cli.IntFlag{
			Name:   "max-connections",
			Value:  64,
			Usage:  "concurrent status server connections",
			EnvVar: "MAX_CONNECTIONS",
		},
		cli.StringFlag{
			Name:   "admin-user",
			Usage:  "user allowed to delete swap files",
			EnvVar: "ADMIN_USER",
		},
		cli.StringFlag{
			Name:   "admin-password-hash",
			Usage:  "bcrypt hash of the admin password",
			EnvVar: "ADMIN_PASSWORD_HASH",
		},
		cli.StringFlag{
			Name:   "log-file",
			Value:  "/var/log/my_app/swap_manager.log",
			Usage:  "log file, truncated at startup",
			EnvVar: "LOG_FILE",
		},
		cli.BoolFlag{
			Name:  "log-json",
			Usage: "log in JSON",
		},
		cli.BoolFlag{
			Name:   "debug",
			Usage:  "debug logging",
			EnvVar: "DEBUG",
		},
	}
}

// loadEnv reads the optional env file.  Variables already set win.
func loadEnv() error {
	name := os.Getenv("SWAP_ENV_FILE")
	if name == "" {
		name = defaultEnvFile
	}
	if _, err := os.Stat(name); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(name)
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func configure(c *cli.Context) (swapvisor.Config, error) {
	cfg := swapvisor.DefaultConfig()
	size, err := units.RAMInBytes(c.String("swap-size"))
	if err != nil {
		return cfg, fmt.Errorf("%w: swap size: %v", swapvisor.ErrBadConfig, err)
	}
	mem, err := cgroup.ParseLimit(c.String("memory-limit"))
	if err != nil {
		return cfg, fmt.Errorf("%w: memory limit: %v", swapvisor.ErrBadConfig, err)
	}
	swp, err := cgroup.ParseLimit(c.String("swap-limit"))
	if err != nil {
		return cfg, fmt.Errorf("%w: swap limit: %v", swapvisor.ErrBadConfig, err)
	}

	cfg.SwapFile = c.String("swap-file")
	cfg.SwapSize = size
	cfg.Swappiness = c.Int("swappiness")
	cfg.WorkDir = c.String("work-dir")
	cfg.DeletePrefix = c.String("delete-prefix")
	cfg.DetachAllOnDelete = c.Bool("detach-all")
	cfg.ContainerName = c.String("container")
	cfg.TargetProcess = c.String("process")
	cfg.MaxPidRetries = c.Int("max-pid-retries")
	cfg.StartTimeout = secs(c.Int("start-timeout"))
	cfg.CheckInterval = secs(c.Int("interval"))
	cfg.RestartRateLimit = c.Int("restart-limit")
	cfg.RestartRatePeriod = secs(c.Int("restart-period"))
	cfg.CgroupRoot = c.String("cgroup-root")
	cfg.CgroupName = c.String("cgroup")
	cfg.MemoryLimit = mem
	cfg.SwapLimit = swp
	return cfg, cfg.Validate()
}
