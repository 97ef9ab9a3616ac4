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

package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Comcast/pvm/storage"
	"github.com/Comcast/pvm/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s := NewStore(filepath.Join(t.TempDir(), "pvm.db"))
		if err := s.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestReopen(t *testing.T) {
	var (
		ctx      = context.Background()
		filename = filepath.Join(t.TempDir(), "pvm.db")
		s        = NewStore(filename)
	)
	if err := s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	err := s.Persist(ctx, storage.Batch{
		storage.SaveJob{Job: storage.Job{ID: "j", Type: storage.JobTimer, Retries: 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Close(); err != nil {
		t.Fatal(err)
	}

	s = NewStore(filename)
	if err = s.Open(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	j, have, err := s.LoadJob(ctx, "j")
	if err != nil {
		t.Fatal(err)
	}
	if !have || j.Type != storage.JobTimer || j.Revision != 1 {
		t.Fatalf("bad job after reopen: %#v", j)
	}
}
