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

// Package slogx has slog attribute helpers.
package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns an "error" attribute with the error's message.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Stringer returns an attribute with the value's String().
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// Instance returns an "instance" attribute.
func Instance(id string) slog.Attr {
	return slog.String("instance", id)
}

// Execution returns an "exec" attribute.
func Execution(id string) slog.Attr {
	return slog.String("exec", id)
}

// Job returns a "job" attribute.
func Job(id string) slog.Attr {
	return slog.String("job", id)
}

// KeyLoggerName is the key for a component name.
const KeyLoggerName = "logger"

// LoggerName returns an attribute naming a component.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}
