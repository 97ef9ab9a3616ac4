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

package graph

import (
	"context"
	"os"

	json "github.com/goccy/go-json"
	"github.com/jsccast/yaml"
)

// ParseYAML parses (but does not compile) a definition.
//
// This package uses https://github.com/jsccast/yaml, which decodes
// maps as map[string]interface{}, so patterns and props come out in
// the same shape as their JSON counterparts.
func ParseYAML(bs []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(bs, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseJSON parses (but does not compile) a definition.
func ParseJSON(bs []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(bs, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ReadFile parses and compiles a YAML or JSON definition file.
// Files ending in ".json" are parsed as JSON.
func ReadFile(ctx context.Context, filename string, interpreters map[string]Interpreter) (*Definition, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	parse := ParseYAML
	if n := len(filename); 5 < n && filename[n-5:] == ".json" {
		parse = ParseJSON
	}
	d, err := parse(bs)
	if err != nil {
		return nil, err
	}
	if err = d.Compile(ctx, interpreters, true); err != nil {
		return nil, err
	}
	return d, nil
}
