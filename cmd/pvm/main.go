/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package main is a command-line tool that runs process definitions
// against a bbolt file.
//
//	pvm -d order.yaml start -b '{"amount":12}' -k order-42
//	pvm -d order.yaml signal -e EXEC -b '{"approved":true}'
//	pvm -d order.yaml jobs -wait 1m
//	pvm show -i INSTANCE
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/engine"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/interpreters"
	"github.com/Comcast/pvm/interpreters/goja"
	"github.com/Comcast/pvm/internal/logging"
	"github.com/Comcast/pvm/internal/slogx"
	"github.com/Comcast/pvm/storage"
	"github.com/Comcast/pvm/storage/bolt"

	json "github.com/goccy/go-json"
)

const usage = `usage: pvm [flags] COMMAND [command flags]

Commands:
  deploy              deploy the definitions (scheduling timer starts)
  start               start an instance
  signal              signal a waiting execution
  set                 set a variable
  cancel              cancel an instance
  suspend, resume     suspend or resume an instance
  show                print an instance's executions
  instances           list instances
  jobs                run due jobs
  dead                list dead jobs
  retry               revive a dead job
  analyze             report questionable structure in a definition

Flags:
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "pvm: %s\n", err)
		os.Exit(1)
	}
}

type defFiles []string

func (fs *defFiles) String() string { return strings.Join(*fs, ",") }

func (fs *defFiles) Set(s string) error {
	*fs = append(*fs, s)
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		fs = flag.NewFlagSet("pvm", flag.ContinueOnError)

		defs     defFiles
		dbFile   = fs.String("db", "pvm.db", "bbolt database file")
		libDir   = fs.String("lib", ".", "directory for script libraries")
		logLevel = fs.String("log", "warn", "log level")
	)
	fs.Var(&defs, "d", "definition file (YAML or JSON); repeatable")
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command")
	}

	logger := logging.Setup(stderr, *logLevel, true)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	store := bolt.NewStore(*dbFile)
	store.Logger = logger
	if err := store.Open(ctx); err != nil {
		return err
	}

	is := interpreters.Standard()
	if g, ok := is["goja"].(*goja.Interpreter); ok {
		g.LibraryProvider = goja.MakeFileLibraryProvider(*libDir)
	}

	e, err := engine.New(
		engine.WithStore(store),
		engine.WithLogger(logger),
		engine.WithInterpreters(is),
	)
	if err != nil {
		store.Close()
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Error("close", slogx.Error(err))
		}
	}()

	for _, filename := range defs {
		d, err := graph.ReadFile(ctx, filename, is)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
		if err = e.Deploy(ctx, d); err != nil {
			return err
		}
	}

	c := &cli{e: e, out: stdout, err: stderr, logger: logger}
	return c.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

type cli struct {
	e      *engine.Engine
	out    io.Writer
	err    io.Writer
	logger *slog.Logger
}

func (c *cli) print(x interface{}) error {
	js, err := json.MarshalIndent(x, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", js)
	return err
}

func parseVars(s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var vs map[string]interface{}
	if err := json.Unmarshal([]byte(s), &vs); err != nil {
		return nil, fmt.Errorf("bad vars %q: %w", s, err)
	}
	return vs, nil
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.err)
	return fs
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "deploy":
		var ids []string
		for _, d := range c.e.Definitions().List() {
			ids = append(ids, d.ID())
		}
		return c.print(ids)

	case "start":
		fs := c.flags(cmd)
		var (
			vars = fs.String("b", "", "variables (JSON)")
			key  = fs.String("k", "", "business key")
		)
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("start needs a definition id (name or name:version)")
		}
		vs, err := parseVars(*vars)
		if err != nil {
			return err
		}
		root, err := c.e.Start(ctx, fs.Arg(0), *key, vs)
		if err != nil {
			return err
		}
		return c.show(ctx, root.InstanceID)

	case "signal":
		fs := c.flags(cmd)
		var (
			exec       = fs.String("e", "", "execution id")
			name       = fs.String("n", "complete", "signal name")
			vars       = fs.String("b", "", "variables (JSON)")
			payload    = fs.String("p", "", "payload (JSON)")
			transition = fs.String("t", "", "transition to take")
		)
		if err := fs.Parse(args); err != nil {
			return err
		}
		vs, err := parseVars(*vars)
		if err != nil {
			return err
		}
		sig := &core.Signal{Name: *name, Vars: vs, Transition: *transition}
		if *payload != "" {
			if err := json.Unmarshal([]byte(*payload), &sig.Payload); err != nil {
				return fmt.Errorf("bad payload: %w", err)
			}
		}
		return c.e.Signal(ctx, *exec, sig)

	case "set":
		fs := c.flags(cmd)
		var (
			exec  = fs.String("e", "", "execution id")
			name  = fs.String("n", "", "variable name")
			value = fs.String("v", "null", "value (JSON)")
		)
		if err := fs.Parse(args); err != nil {
			return err
		}
		var x interface{}
		if err := json.Unmarshal([]byte(*value), &x); err != nil {
			return fmt.Errorf("bad value: %w", err)
		}
		return c.e.SetVariable(ctx, *exec, *name, x)

	case "cancel", "suspend", "resume", "show":
		fs := c.flags(cmd)
		var (
			instance = fs.String("i", "", "instance id")
			reason   = fs.String("r", "cancelled from the command line", "reason")
		)
		if err := fs.Parse(args); err != nil {
			return err
		}
		switch cmd {
		case "cancel":
			return c.e.Cancel(ctx, *instance, *reason)
		case "suspend":
			return c.e.Suspend(ctx, *instance)
		case "resume":
			return c.e.Resume(ctx, *instance)
		}
		return c.show(ctx, *instance)

	case "instances":
		fs := c.flags(cmd)
		var (
			def   = fs.String("def", "", "definition id")
			key   = fs.String("k", "", "business key")
			ended = fs.Bool("ended", false, "include ended instances")
			limit = fs.Int("n", 100, "limit")
		)
		if err := fs.Parse(args); err != nil {
			return err
		}
		es, err := c.e.Instances(ctx, storage.InstanceQuery{
			DefinitionID: *def,
			BusinessKey:  *key,
			IncludeEnded: *ended,
			Limit:        *limit,
		})
		if err != nil {
			return err
		}
		return c.print(es)

	case "jobs":
		fs := c.flags(cmd)
		wait := fs.Duration("wait", 0, "keep running jobs this long")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.jobs(ctx, *wait)

	case "dead":
		js, err := c.e.DeadJobs(ctx)
		if err != nil {
			return err
		}
		return c.print(js)

	case "retry":
		fs := c.flags(cmd)
		var (
			id      = fs.String("j", "", "job id")
			retries = fs.Int("n", 0, "retries (0 means the default)")
		)
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.e.RetryJob(ctx, *id, *retries)

	case "analyze":
		fs := c.flags(cmd)
		if err := fs.Parse(args); err != nil {
			return err
		}
		d, err := c.definition(fs.Arg(0))
		if err != nil {
			return err
		}
		ps, err := graph.Analyze(d)
		if err != nil {
			return err
		}
		for _, p := range ps {
			fmt.Fprintln(c.out, p.String())
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// definition finds a deployed definition by id or by name.
func (c *cli) definition(id string) (*graph.Definition, error) {
	repo := c.e.Definitions()
	if d, have := repo.Get(id); have {
		return d, nil
	}
	if d, have := repo.Latest(id); have {
		return d, nil
	}
	return nil, &core.UnknownDefinition{ID: id}
}

func (c *cli) show(ctx context.Context, instanceID string) error {
	es, err := c.e.Instance(ctx, instanceID)
	if err != nil {
		return err
	}
	return c.print(es)
}

// jobs drains due jobs.  With a positive wait, it keeps polling
// until the wait is up.
func (c *cli) jobs(ctx context.Context, wait time.Duration) error {
	w, err := c.e.Worker()
	if err != nil {
		return err
	}
	n, err := w.Drain(ctx)
	if err != nil {
		return err
	}
	if 0 < wait {
		ctx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	c.logger.Info("jobs", "ran", n)
	return nil
}
