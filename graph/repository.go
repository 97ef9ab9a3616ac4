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
	"sort"
	"sync"

	"github.com/alphadose/haxmap"
)

// Repository holds deployed definitions.
//
// Deploying a definition with an id that is already deployed replaces
// it atomically: running instances pick up the new definition on
// their next command.
type Repository struct {
	sync.Mutex // serializes Deploy

	byID     *haxmap.Map[string, *Definition]
	byName   *haxmap.Map[string, *Definition]
	versions *haxmap.Map[string, []string]
}

// NewRepository makes an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		byID:     haxmap.New[string, *Definition](),
		byName:   haxmap.New[string, *Definition](),
		versions: haxmap.New[string, []string](),
	}
}

// Deploy adds a compiled definition.  The most recently deployed
// version of a name becomes that name's latest.
func (r *Repository) Deploy(d *Definition) error {
	if !d.Compiled() {
		return &NotCompiled{d.ID()}
	}
	r.Lock()
	defer r.Unlock()
	id := d.ID()
	if _, have := r.byID.Get(id); !have {
		vs, _ := r.versions.Get(d.Name)
		r.versions.Set(d.Name, append(append([]string(nil), vs...), d.Version))
	}
	r.byID.Set(id, d)
	r.byName.Set(d.Name, d)
	return nil
}

// Get returns the definition with the given id (name:version).
func (r *Repository) Get(id string) (*Definition, bool) {
	return r.byID.Get(id)
}

// Latest returns the most recently deployed definition with the
// given name.
func (r *Repository) Latest(name string) (*Definition, bool) {
	return r.byName.Get(name)
}

// Versions returns the deployed versions of the named definition in
// deployment order.
func (r *Repository) Versions(name string) []string {
	vs, _ := r.versions.Get(name)
	return append([]string(nil), vs...)
}

// List returns every deployed definition sorted by id.
func (r *Repository) List() []*Definition {
	var acc []*Definition
	r.byID.ForEach(func(id string, d *Definition) bool {
		acc = append(acc, d)
		return true
	})
	sort.Slice(acc, func(i, j int) bool {
		return acc[i].ID() < acc[j].ID()
	})
	return acc
}
