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

// Package goja provides an ECMAScript interpreter for transition
// conditions and script tasks.
package goja

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Comcast/pvm/core"
	"github.com/Comcast/pvm/graph"
	"github.com/Comcast/pvm/match"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Exec if the execution is
	// interrupted.
	Interrupted = errors.New(InterruptedMessage)
)

func init() {
	graph.DefaultInterpreters["goja"] = NewInterpreter()
}

// Interpreter implements graph.Interpreter using Goja, which is a Go
// implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
type Interpreter struct {
	// Testing is used to expose or hide some runtime
	// capabilities.
	Testing bool

	// Logger receives _.log() output.  Defaults to slog.Default().
	Logger *slog.Logger

	// LibraryProvider resolves the names listed in a source's
	// "requires".  Defaults to DefaultLibraryProvider.
	LibraryProvider func(ctx context.Context, i *Interpreter, libraryName string) (string, error)
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

func (i *Interpreter) logger() *slog.Logger {
	if i.Logger == nil {
		return slog.Default()
	}
	return i.Logger
}

// ProvideLibrary resolves the library name into library source.
func (i *Interpreter) ProvideLibrary(ctx context.Context, name string) (string, error) {
	if i.LibraryProvider != nil {
		return i.LibraryProvider(ctx, i, name)
	}
	return DefaultLibraryProvider(ctx, i, name)
}

// DefaultLibraryProvider reads "file://" libraries relative to the
// working directory.
var DefaultLibraryProvider = MakeFileLibraryProvider(".")

// MakeFileLibraryProvider makes a provider for names like
// "file://lib/util.js", which are resolved relative to dir.
func MakeFileLibraryProvider(dir string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		parts := strings.SplitN(name, "://", 2)
		if 2 != len(parts) {
			return "", fmt.Errorf("bad link '%s'", name)
		}
		if parts[0] != "file" {
			return "", fmt.Errorf("unknown protocol '%s'", parts[0])
		}
		filename := filepath.Clean(parts[1])
		if strings.HasPrefix(filename, "..") {
			return "", fmt.Errorf("library '%s' is outside %s", name, dir)
		}
		bs, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			return "", err
		}
		return string(bs), nil
	}
}

// MakeMapLibraryProvider makes a provider that looks up libraries by
// name in the given map.
func MakeMapLibraryProvider(srcs map[string]string) func(context.Context, *Interpreter, string) (string, error) {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library '%s'", name)
		}
		return src, nil
	}
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

// AsSource accepts either a string or a map with "code" and optional
// "requires" (a string or list of library names).
func AsSource(src interface{}) (code string, libs []string, err error) {
	switch vv := src.(type) {
	case string:
		return vv, nil, nil
	case map[string]interface{}:
		return parseSource(vv)
	default:
		return "", nil, fmt.Errorf("bad Goja source (%T)", src)
	}
}

func parseSource(m map[string]interface{}) (code string, libs []string, err error) {
	s, is := m["code"].(string)
	if !is {
		return "", nil, errors.New("bad Goja action code")
	}
	code = s

	switch vv := m["requires"].(type) {
	case nil:
	case string:
		libs = []string{vv}
	case []string:
		libs = vv
	case []interface{}:
		libs = make([]string, 0, len(vv))
		for _, x := range vv {
			s, is := x.(string)
			if !is {
				return "", nil, errors.New("bad library")
			}
			libs = append(libs, s)
		}
	default:
		return "", nil, fmt.Errorf("bad requires (%T)", vv)
	}
	return code, libs, nil
}

// Compile prepends the required libraries and calls goja.Compile.
//
// This method can block if the interpreter's LibraryProvider blocks.
func (i *Interpreter) Compile(ctx context.Context, src interface{}) (interface{}, error) {
	code, libs, err := AsSource(src)
	if err != nil {
		return nil, err
	}

	var libsSrc string
	for _, lib := range libs {
		libSrc, err := i.ProvideLibrary(ctx, lib)
		if err != nil {
			return nil, err
		}
		libsSrc += libSrc + "\n"
	}

	code = libsSrc + wrapSrc(code)

	p, err := goja.Compile("", code, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, code)
	}
	return p, nil
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		return v.Export()
	}
	return x
}

// Exec implements graph.Interpreter.
//
// Each variable is a global.  The following are available at _:
//
//	vars: a copy of the variables.
//	props: execution properties (executionId, instanceId, now, ...).
//	out(obj): add the given object to the messages to emit.
//	raise(code, msg): raise a business fault.
//	gensym(): a fresh id.
//	cronNext(expr): the next time for the cron expression.
//	match(pat, obj, bs): run the pattern matcher.
//	log(x): log at debug level.
//
// The Testing flag must be set to see sleep(ms).
func (i *Interpreter) Exec(ctx context.Context, vars map[string]interface{}, props map[string]interface{}, src interface{}, compiled interface{}) (*graph.Evaluation, error) {
	ev := &graph.Evaluation{}

	if compiled == nil {
		var err error
		if compiled, err = i.Compile(ctx, src); err != nil {
			return nil, err
		}
	}
	p, is := compiled.(*goja.Program)
	if !is {
		return nil, fmt.Errorf("Goja bad compilation: %T %#v", compiled, compiled)
	}

	o := goja.New()

	vs, err := graph.Canonicalize(vars)
	if err != nil {
		return nil, err
	}
	if m, is := vs.(map[string]interface{}); is {
		for k, v := range m {
			if err := o.Set(k, v); err != nil {
				return nil, err
			}
		}
	} else {
		vs = map[string]interface{}{}
	}

	ps, err := graph.Canonicalize(props)
	if err != nil {
		return nil, err
	}
	if ps == nil {
		ps = map[string]interface{}{}
	}

	env := map[string]interface{}{
		"vars":  vs,
		"props": ps,
	}

	if i.Testing {
		o.Set("sleep", func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		})
	}

	env["gensym"] = func() interface{} {
		return uuid.NewString()
	}

	env["cronNext"] = func(x interface{}) interface{} {
		s, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		c, err := cronexpr.Parse(s)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	}

	env["out"] = func(x interface{}) interface{} {
		x, err := graph.Canonicalize(export(x))
		if err != nil {
			protest(o, err.Error())
		}
		ev.AddEmitted(x)
		return x
	}

	var raised *core.BusinessError
	env["raise"] = func(code, msg interface{}) interface{} {
		c, _ := export(code).(string)
		m, _ := export(msg).(string)
		raised = &core.BusinessError{Code: c, Message: m}
		panic(o.NewGoError(raised))
	}

	env["log"] = func(x interface{}) interface{} {
		x = export(x)
		i.logger().Debug("goja", "x", x)
		return x
	}

	env["match"] = func(pat, mess, bs goja.Value) interface{} {
		bindings := match.Bindings{}
		if bs != nil && !goja.IsUndefined(bs) && !goja.IsNull(bs) {
			x, err := graph.Canonicalize(bs.Export())
			if err != nil {
				protest(o, err.Error())
			}
			m, is := x.(map[string]interface{})
			if !is {
				protest(o, "bad bindings")
			}
			bindings = match.Bindings(m)
		}

		p, err := graph.Canonicalize(pat.Export())
		if err != nil {
			protest(o, err.Error())
		}
		m, err := graph.Canonicalize(mess.Export())
		if err != nil {
			protest(o, err.Error())
		}
		bss, err := match.Match(p, m, bindings)
		if err != nil {
			protest(o, err.Error())
		}
		acc := make([]interface{}, len(bss))
		for j, bs := range bss {
			acc[j] = map[string]interface{}(bs)
		}
		return acc
	}

	o.Set("_", env)

	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		// If Exec cancels after RunProgram returns, the
		// interrupt is harmless.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p)
	cancel()

	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return nil, Interrupted
		}
		if raised != nil {
			return nil, raised
		}
		return nil, err
	}

	if v != nil {
		if ev.Value, err = graph.Canonicalize(v.Export()); err != nil {
			return nil, err
		}
	}

	return ev, nil
}
