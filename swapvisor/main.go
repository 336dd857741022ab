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

// Command swapvisor is the operator client for swapvisord.  It uses
// subcommands.
//
// The flags are
//
//	-a <address>	- server address, default is http://127.0.0.1:5000
//	-u <user:pass>	- user name & password for basic auth
//
// Subcommands are
//
//	status                    - show the supervisor status
//	log                       - show the supervisor log
//	delete-swap [--detach-all] - delete all matching swap files
//	watch                     - full screen status view (the default)
//
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/gdamore/swapvisor/rest"
	"github.com/gdamore/swapvisor/swapvisor/util"
)

func newClient(c *cli.Context) (*rest.Client, error) {
	client := rest.NewClient(nil, c.GlobalString("addr"))
	if auth := c.GlobalString("user"); auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			return nil, errors.New("bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}
	return client, nil
}

func showStatus(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	st, err := client.Status()
	if err != nil {
		return err
	}
	for _, line := range util.Lines(st, time.Now()) {
		fmt.Println(line)
	}
	return nil
}

func showLog(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	info, err := client.GetLog()
	if err != nil {
		return err
	}
	for _, r := range info.Records {
		fmt.Printf("%s %s\n", r.Time.Local().Format(time.StampMilli), r.Text)
	}
	return nil
}

func deleteSwap(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	res, err := client.DeleteSwap(ctx, c.Bool("detach-all"))
	if res != nil {
		fmt.Println(res.Message)
		fmt.Printf("Deleted: %d\n", res.Deleted)
		for _, e := range res.Errors {
			fmt.Printf("Error: %s\n", e)
		}
	}
	return err
}

func watch(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	return doUI(client, c.GlobalString("addr"))
}

func main() {
	app := cli.NewApp()
	app.Name = "swapvisor"
	app.Usage = "query and control swapvisord"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "addr, a",
			Value:  "http://127.0.0.1:5000",
			Usage:  "swapvisord address",
			EnvVar: "SWAPVISOR_ADDR",
		},
		cli.StringFlag{
			Name:  "user, u",
			Usage: "user:pass authentication",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "show the supervisor status",
			Action: showStatus,
		},
		{
			Name:   "log",
			Usage:  "show the supervisor log",
			Action: showLog,
		},
		{
			Name:  "delete-swap",
			Usage: "delete all matching swap files",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "detach-all",
					Usage: "detach every loop device on the host, not just ours",
				},
			},
			Action: deleteSwap,
		},
		{
			Name:   "watch",
			Usage:  "full screen status view",
			Action: watch,
		},
	}
	app.Action = watch

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Failed: %v", err)
	}
}
