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

// Package main is the process engine daemon: an HTTP command surface,
// a websocket event stream, a job worker, and (optionally) an MQTT
// event publisher over a bbolt store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/engine"
	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/events/mqtt"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/interpreters"
	"github.com/Comcast/pvm/interpreters/goja"
	"github.com/Comcast/pvm/internal/logging"
	"github.com/Comcast/pvm/internal/slogx"
	"github.com/Comcast/pvm/storage/bolt"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.String("c", os.Getenv("PVMD_CONFIG"), "config file (YAML)")
	flag.Parse()

	c, err := LoadConfig(*configFile, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pvmd: %s\n", err)
		os.Exit(2)
	}

	logger := logging.Setup(os.Stderr, c.LogLevel, c.LogConsole)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = serve(ctx, c, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("exiting", slogx.Error(err))
		os.Exit(1)
	}
}

// deployDir deploys every definition file in dir.
func deployDir(ctx context.Context, e *engine.Engine, dir string, is map[string]graph.Interpreter) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		d, err := graph.ReadFile(ctx, filepath.Join(dir, name), is)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err = e.Deploy(ctx, d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func serve(ctx context.Context, c Config, logger *slog.Logger) error {
	store := bolt.NewStore(c.DB)
	store.Logger = logger.With(slogx.LoggerName("bolt"))
	if err := store.Open(ctx); err != nil {
		return err
	}

	is := interpreters.Standard()
	if g, ok := is["goja"].(*goja.Interpreter); ok {
		g.LibraryProvider = goja.MakeFileLibraryProvider(c.Libraries)
		g.Logger = logger.With(slogx.LoggerName("goja"))
	}

	hub := &events.Hub{Logger: logger.With(slogx.LoggerName("hub"))}
	opts := []engine.Option{
		engine.WithStore(store),
		engine.WithLogger(logger),
		engine.WithInterpreters(is),
		engine.WithJobConfig(c.Jobs),
		engine.WithPublisher(hub),
		engine.WithRetries(c.Retries),
	}
	if 0 < c.StepLimit {
		opts = append(opts, engine.WithControl(&core.Control{Limit: c.StepLimit}))
	}
	if c.MQTT != nil {
		p, err := mqtt.Connect(ctx, *c.MQTT, logger)
		if err != nil {
			store.Close()
			return err
		}
		opts = append(opts, engine.WithPublisher(p))
	}

	e, err := engine.New(opts...)
	if err != nil {
		store.Close()
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Error("close", slogx.Error(err))
		}
	}()

	if err = deployDir(ctx, e, c.Definitions, is); err != nil {
		return err
	}

	w, err := e.Worker()
	if err != nil {
		return err
	}

	s := &Server{Engine: e, Hub: hub, Logger: logger.With(slogx.LoggerName("http"))}
	hs := &http.Server{
		Addr:              c.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("listening", "addr", c.Listen)
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdown)
	})
	return g.Wait()
}
