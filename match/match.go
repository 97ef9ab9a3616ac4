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

// Package match correlates messages with patterns.
//
// A pattern is a JSON-like value.  Strings starting with "?" are
// variables.  Matching a pattern against a message produces sets of
// Bindings (variable to value).  Zero sets means no match.
//
// Map patterns match maps that have at least the pattern's keys (extra
// message keys are ignored).  Array patterns match arrays containing
// a distinct element for each pattern element (order is ignored), so
// one array pattern can produce several sets of bindings.
package match

import (
	"errors"
	"sort"
	"strings"
)

// Bindings is a map from variables (strings starting with a '?') to
// their values.
type Bindings map[string]interface{}

// Copy makes a shallow copy.
func (bs Bindings) Copy() Bindings {
	acc := make(Bindings, len(bs))
	for p, v := range bs {
		acc[p] = v
	}
	return acc
}

// Extend adds the given binding and returns the receiver.
func (bs Bindings) Extend(p string, v interface{}) Bindings {
	bs[p] = v
	return bs
}

// Unquestioned returns a copy with the leading "?" removed from every
// variable name.  Inequality bindings (see Matcher.Inequalities) are
// dropped.
func (bs Bindings) Unquestioned() map[string]interface{} {
	acc := make(map[string]interface{}, len(bs))
	for p, v := range bs {
		name := strings.TrimPrefix(p, "?")
		if isInequality(name) {
			continue
		}
		acc[name] = v
	}
	return acc
}

// Matcher holds matching options.
type Matcher struct {
	// Inequalities enables numeric inequality variables.
	//
	// With this feature, the input bindings can include a binding
	// for a variable whose name has "<", ">", "<=", ">=", or "!="
	// immediately after the leading "?".  A pattern using that
	// variable matches a number X only if X compares with the
	// bound number as the operator says.  The output bindings then
	// also bind the variable name without the operator to X.
	//
	// For example, given input bindings {"?<n":10}, pattern
	// {"n":"?<n"}, and message {"n":3}, the match succeeds with
	// bindings {"?<n":10,"?n":3}.
	Inequalities bool
}

// DefaultMatcher is used by Match.
var DefaultMatcher = &Matcher{
	Inequalities: true,
}

// Match runs DefaultMatcher.
func Match(pattern, message interface{}, bindings Bindings) ([]Bindings, error) {
	return DefaultMatcher.Match(pattern, message, bindings)
}

// IsVariable reports whether the string is a pattern variable.
func IsVariable(s string) bool {
	return strings.HasPrefix(s, "?")
}

// IsAnonymousVariable reports whether the string is "?", which
// matches anything and binds nothing.
func IsAnonymousVariable(s string) bool {
	return s == "?"
}

// UnknownPatternType occurs when a pattern holds something other than
// JSON-like data.
type UnknownPatternType struct {
	Pattern interface{}
}

func (e *UnknownPatternType) Error() string {
	return "unknown pattern type"
}

// Match matches the pattern against the message starting from the
// given bindings, which are not modified.
func (m *Matcher) Match(pattern, message interface{}, bindings Bindings) ([]Bindings, error) {
	if bindings == nil {
		bindings = make(Bindings)
	}
	return m.match(normalize(pattern), normalize(message), bindings.Copy())
}

// normalize turns Go numbers into float64s, which is what JSON
// decoding produces.
func normalize(x interface{}) interface{} {
	switch vv := x.(type) {
	case int:
		return float64(vv)
	case int32:
		return float64(vv)
	case int64:
		return float64(vv)
	case float32:
		return float64(vv)
	case map[string]interface{}:
		acc := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			acc[k] = normalize(v)
		}
		return acc
	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, v := range vv {
			acc[i] = normalize(v)
		}
		return acc
	default:
		return x
	}
}

func (m *Matcher) match(p, f interface{}, bs Bindings) ([]Bindings, error) {
	switch vv := p.(type) {
	case nil:
		if f == nil {
			return []Bindings{bs}, nil
		}
		return nil, nil
	case bool, float64:
		if p == f {
			return []Bindings{bs}, nil
		}
		return nil, nil
	case string:
		if !IsVariable(vv) {
			if s, is := f.(string); is && s == vv {
				return []Bindings{bs}, nil
			}
			return nil, nil
		}
		return m.matchVariable(vv, f, bs)
	case map[string]interface{}:
		fm, is := f.(map[string]interface{})
		if !is {
			return nil, nil
		}
		return m.matchMap(vv, fm, bs)
	case []interface{}:
		fs, is := f.([]interface{})
		if !is {
			return nil, nil
		}
		return m.matchArray(vv, fs, bs)
	default:
		return nil, &UnknownPatternType{p}
	}
}

func (m *Matcher) matchVariable(v string, f interface{}, bs Bindings) ([]Bindings, error) {
	if IsAnonymousVariable(v) {
		return []Bindings{bs}, nil
	}
	if m.Inequalities {
		if op := inequality(v[1:]); op != "" {
			return m.matchInequality(v, op, f, bs)
		}
	}
	if bound, have := bs[v]; have {
		return m.match(bound, f, bs)
	}
	return []Bindings{bs.Copy().Extend(v, f)}, nil
}

func inequality(name string) string {
	for _, op := range []string{"<=", ">=", "!=", "<", ">"} {
		if strings.HasPrefix(name, op) {
			return op
		}
	}
	return ""
}

func isInequality(name string) bool {
	return inequality(name) != ""
}

func (m *Matcher) matchInequality(v, op string, f interface{}, bs Bindings) ([]Bindings, error) {
	bound, have := bs[v]
	if !have {
		return nil, errors.New(`inequality variable "` + v + `" isn't bound`)
	}
	y, is := normalize(bound).(float64)
	if !is {
		return nil, errors.New(`inequality variable "` + v + `" isn't bound to a number`)
	}
	x, is := f.(float64)
	if !is {
		return nil, nil
	}
	var ok bool
	switch op {
	case "<":
		ok = x < y
	case ">":
		ok = x > y
	case "<=":
		ok = x <= y
	case ">=":
		ok = x >= y
	case "!=":
		ok = x != y
	}
	if !ok {
		return nil, nil
	}
	plain := "?" + v[1+len(op):]
	if plain == "?" {
		return []Bindings{bs}, nil
	}
	return m.matchVariable(plain, f, bs)
}

func (m *Matcher) matchMap(p, f map[string]interface{}, bs Bindings) ([]Bindings, error) {
	// Sorted keys keep results deterministic.
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bss := []Bindings{bs}
	for _, k := range keys {
		fv, have := f[k]
		if !have {
			return nil, nil
		}
		var acc []Bindings
		for _, bs := range bss {
			more, err := m.match(p[k], fv, bs)
			if err != nil {
				return nil, err
			}
			acc = append(acc, more...)
		}
		if len(acc) == 0 {
			return nil, nil
		}
		bss = acc
	}
	return bss, nil
}

func (m *Matcher) matchArray(p, f []interface{}, bs Bindings) ([]Bindings, error) {
	used := make([]bool, len(f))
	var (
		acc  []Bindings
		walk func(i int, bs Bindings) error
	)
	walk = func(i int, bs Bindings) error {
		if i == len(p) {
			acc = append(acc, bs)
			return nil
		}
		for j, x := range f {
			if used[j] {
				continue
			}
			bss, err := m.match(p[i], x, bs)
			if err != nil {
				return err
			}
			used[j] = true
			for _, bs := range bss {
				if err := walk(i+1, bs); err != nil {
					return err
				}
			}
			used[j] = false
		}
		return nil
	}
	if err := walk(0, bs); err != nil {
		return nil, err
	}
	return acc, nil
}
