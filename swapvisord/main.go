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
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/net/netutil"

	"github.com/gdamore/swapvisor"
	"github.com/gdamore/swapvisor/cgroup"
	"github.com/gdamore/swapvisor/command"
	"github.com/gdamore/swapvisor/docker"
	"github.com/gdamore/swapvisor/proc"
	"github.com/gdamore/swapvisor/rest"
	"github.com/gdamore/swapvisor/swap"
)

const usage = "swapvisord keeps a large process supplied with swap and inside its memory limits"

// openLogFile truncates the log file, falling back to the working
// directory when its own directory cannot be created.
func openLogFile(name string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot create log directory: %v\n", err)
		name = filepath.Base(name)
	}
	return os.Create(name)
}

func setupLogging(c *cli.Context, ring *swapvisor.Log) (*os.File, error) {
	var out io.Writer = os.Stdout
	var f *os.File
	if name := c.String("log-file"); name != "" {
		var err error
		if f, err = openLogFile(name); err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
	}
	log.SetOutput(out)
	if c.Bool("log-json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if c.Bool("debug") {
		log.SetLevel(log.DebugLevel)
	}
	log.AddHook(ring)
	return f, nil
}

func useSudo(c *cli.Context) (bool, error) {
	if v := c.String("sudo"); v != "" {
		return strconv.ParseBool(v)
	}
	return os.Geteuid() != 0, nil
}

func run(c *cli.Context) error {
	ring := swapvisor.NewLog(0)
	f, err := setupLogging(c, ring)
	if err != nil {
		return err
	}
	if f != nil {
		defer f.Close()
	}

	cfg, err := configure(c)
	if err != nil {
		return err
	}
	sudo, err := useSudo(c)
	if err != nil {
		return fmt.Errorf("%w: USE_SUDO: %v", swapvisor.ErrBadConfig, err)
	}

	logger := log.StandardLogger()
	exec := command.NewExecutor(sudo, logger)
	comps := swapvisor.Components{
		Swap:    swap.NewManager(cfg.SwapConfig(), exec, logger),
		Limiter: cgroup.NewLimiter(cfg.CgroupRoot, cfg.CgroupName, exec, logger),
		Locator: proc.NewLocator(exec, logger),
		Sampler: proc.NewSampler(proc.DefaultRoot),
	}
	if dc, err := docker.NewClient(c.String("docker-host")); err != nil {
		log.Warnf("Container engine client unavailable: %v", err)
	} else {
		comps.Restarter = dc
	}
	sup := swapvisor.NewSupervisor(cfg, comps, logger)

	h := rest.NewHandler(sup, ring, logger)
	if user := c.String("admin-user"); user != "" {
		hash := c.String("admin-password-hash")
		if hash == "" {
			return fmt.Errorf("%w: ADMIN_USER needs ADMIN_PASSWORD_HASH", swapvisor.ErrBadConfig)
		}
		h.SetAuth(user, []byte(hash))
	}

	addr := fmt.Sprintf(":%d", c.Int("port"))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if n := c.Int("max-connections"); n > 0 {
		l = netutil.LimitListener(l, n)
	}
	srv := &http.Server{Handler: h}
	go func() {
		log.Infof("Status server listening on %s", addr)
		if err := srv.Serve(l); err != http.ErrServerClosed {
			log.Errorf("Status server failed: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("Received %v, shutting down", sig)
		cancel()
	}()

	// Run returns once the swap area is torn down.
	sup.Run(ctx)

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	srv.Shutdown(sctx)
	return nil
}

func main() {
	if err := loadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
	}

	app := cli.NewApp()
	app.Name = "swapvisord"
	app.Usage = usage
	app.Flags = flags()
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
