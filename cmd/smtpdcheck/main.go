/*
Maddy Mail Server - Composable all-in-one email server.
Copyright 2021, Steve Blinch <dev@blinch.ca>, Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command smtpdcheck evaluates SMTP restriction lists from a main.cf file.
//
// It can replay a session given on the command line, print the compiled
// restriction lists, or run as a policy delegation server so that an MTA
// can consult it with check_policy_service.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sblinch/smtpdcheck/framework/config"
	"github.com/sblinch/smtpdcheck/framework/log"
	"github.com/sblinch/smtpdcheck/internal/smtpdcheck"
	"github.com/urfave/cli/v2"
)

var Version = "dev"

func newApp() *cli.App {
	return &cli.App{
		Name:    "smtpdcheck",
		Usage:   "SMTP restriction engine",
		Version: Version,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "main.cf to read parameters from",
				EnvVars: []string{"SMTPDCHECK_CONFIG"},
				Value:   "/etc/postfix/main.cf",
			},
			&cli.GenericFlag{
				Name:  "o",
				Usage: "override a parameter, `name=value`; may be repeated",
				Value: &overrides{},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "write log messages as JSON",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("log-json") {
				log.DefaultLogger.Out = log.NewJSONOutput(os.Stderr)
			}
			log.DefaultLogger.Debug = c.Bool("debug")
			return nil
		},
		Commands: []*cli.Command{
			checkCommand,
			classesCommand,
			serveCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "smtpdcheck:", err)
		os.Exit(1)
	}
}

// overrides collects -o options. Restriction lists contain commas, so
// the values are not split the way a string slice flag would split them.
type overrides [][2]string

func (o *overrides) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("%s: expected name=value", v)
	}
	*o = append(*o, [2]string{strings.TrimSpace(name), strings.TrimSpace(value)})
	return nil
}

func (o *overrides) String() string {
	if o == nil {
		return ""
	}
	parts := make([]string, 0, len(*o))
	for _, kv := range *o {
		parts = append(parts, kv[0]+"="+kv[1])
	}
	return strings.Join(parts, " ")
}

// loadParams reads the configuration file and applies -o overrides.
func loadParams(c *cli.Context) (*config.Params, error) {
	params, err := config.ReadFile(c.Path("config"))
	if err != nil {
		return nil, err
	}
	if o, ok := c.Generic("o").(*overrides); ok {
		for _, kv := range *o {
			params.Set(kv[0], kv[1])
		}
	}
	return params, nil
}

func newEngine(c *cli.Context, opts ...smtpdcheck.Option) (*smtpdcheck.Engine, error) {
	params, err := loadParams(c)
	if err != nil {
		return nil, err
	}
	engine, err := smtpdcheck.New(params, opts...)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

var classesCommand = &cli.Command{
	Name:  "classes",
	Usage: "print the compiled restriction lists and classes",
	Action: func(c *cli.Context) error {
		engine, err := newEngine(c)
		if err != nil {
			return err
		}
		defer engine.Close()

		for _, p := range engine.Programs() {
			fmt.Fprintf(c.App.Writer, "%s = %s\n", p.Param, p)
			for _, w := range p.Warnings {
				fmt.Fprintf(c.App.ErrWriter, "warning: %s: %s\n", p.Param, w)
			}
		}
		return nil
	},
}
