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

// Package bolt is a bbolt implementation of storage.Store.
//
// Rows are stored as JSON.  Jobs are additionally indexed by due
// time so that acquisition can scan due jobs in order and stop at the
// first job that isn't due yet.
package bolt

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Comcast/pvm/storage"

	json "github.com/goccy/go-json"
	"go.etcd.io/bbolt"
)

var (
	// executionsBucketKey holds execution rows keyed by id.
	executionsBucketKey = []byte("executions")

	// instancesBucketKey indexes executions by instance.  Keys
	// are "instanceID/executionID"; values are nil.
	instancesBucketKey = []byte("instances")

	// jobsBucketKey holds job rows keyed by id.
	jobsBucketKey = []byte("jobs")

	// dueBucketKey indexes jobs by due time.  Keys are
	// "dueTime/jobID" where dueTime is a fixed-width UTC
	// timestamp; values are nil.
	dueBucketKey = []byte("due")
)

// dueFormat sorts lexically in time order.
const dueFormat = "2006-01-02T15:04:05.000000000Z"

// Store is a storage.Store backed by a bbolt file.
type Store struct {
	Logger *slog.Logger

	filename string
	db       *bbolt.DB
}

// NewStore makes a Store for the given file.  Call Open before use.
func NewStore(filename string) *Store {
	return &Store{
		filename: filename,
	}
}

// Open opens (and creates if necessary) the database file.
func (s *Store) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := &bbolt.Options{
		Timeout: time.Second,
	}
	db, err := bbolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, k := range [][]byte{executionsBucketKey, instancesBucketKey, jobsBucketKey, dueBucketKey} {
			if _, err := tx.CreateBucketIfNotExists(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return err
	}
	s.db = db
	s.logger().Debug("bolt store opened", "file", s.filename)
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func dueKey(j storage.Job) []byte {
	return []byte(j.DueAt.UTC().Format(dueFormat) + "/" + j.ID)
}

func instanceKey(e storage.Execution) []byte {
	return []byte(e.InstanceID + "/" + e.ID)
}

func getExecution(tx *bbolt.Tx, id string) (storage.Execution, bool, error) {
	var e storage.Execution
	bs := tx.Bucket(executionsBucketKey).Get([]byte(id))
	if bs == nil {
		return e, false, nil
	}
	if err := json.Unmarshal(bs, &e); err != nil {
		return e, false, err
	}
	return e, true, nil
}

func getJob(tx *bbolt.Tx, id string) (storage.Job, bool, error) {
	var j storage.Job
	bs := tx.Bucket(jobsBucketKey).Get([]byte(id))
	if bs == nil {
		return j, false, nil
	}
	if err := json.Unmarshal(bs, &j); err != nil {
		return j, false, err
	}
	return j, true, nil
}

func putJob(tx *bbolt.Tx, j storage.Job) error {
	js, err := json.Marshal(&j)
	if err != nil {
		return err
	}
	return tx.Bucket(jobsBucketKey).Put([]byte(j.ID), js)
}

func (s *Store) LoadExecution(ctx context.Context, id string) (e storage.Execution, have bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		e, have, err = getExecution(tx, id)
		return err
	})
	return
}

func (s *Store) LoadInstance(ctx context.Context, instanceID string) ([]storage.Execution, error) {
	var acc []storage.Execution
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := []byte(instanceID + "/")
		c := tx.Bucket(instancesBucketKey).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id := string(k[len(prefix):])
			e, have, err := getExecution(tx, id)
			if err != nil {
				return err
			}
			if have {
				acc = append(acc, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(acc, func(i, j int) bool {
		return acc[i].IsRoot() && !acc[j].IsRoot()
	})
	return acc, nil
}

func (s *Store) QueryInstances(ctx context.Context, q storage.InstanceQuery) ([]storage.Execution, error) {
	var acc []storage.Execution
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(executionsBucketKey).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e storage.Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !q.Matches(e) {
				continue
			}
			acc = append(acc, e)
			if len(acc) == q.Limit {
				return nil
			}
		}
		return nil
	})
	return acc, err
}

func (s *Store) LoadJob(ctx context.Context, id string) (j storage.Job, have bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		j, have, err = getJob(tx, id)
		return err
	})
	return
}

// QueryJobs walks the due index, so results come back in due order.
// When the query has AcquirableAt, the walk stops at the first job
// that isn't due at that time.
func (s *Store) QueryJobs(ctx context.Context, q storage.JobQuery) ([]storage.Job, error) {
	var (
		acc   []storage.Job
		limit []byte
	)
	if !q.AcquirableAt.IsZero() {
		limit = []byte(q.AcquirableAt.UTC().Format(dueFormat) + "/\xff")
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(dueBucketKey).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if limit != nil && bytes.Compare(k, limit) > 0 {
				return nil
			}
			i := strings.LastIndexByte(string(k), '/')
			j, have, err := getJob(tx, string(k[i+1:]))
			if err != nil {
				return err
			}
			if !have || !q.Matches(j) {
				continue
			}
			acc = append(acc, j)
			if len(acc) == q.Limit {
				return nil
			}
		}
		return nil
	})
	return acc, err
}

func (s *Store) LockJob(ctx context.Context, l storage.JobLock) (locked storage.Job, ok bool, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		j, have, err := getJob(tx, l.ID)
		if err != nil || !have || !storage.CanLock(j, l) {
			return err
		}
		j.LockOwner = l.Owner
		j.LockExpiresAt = l.Until
		j.Revision++
		if err := putJob(tx, j); err != nil {
			return err
		}
		locked, ok = j, true
		return nil
	})
	return
}

// Persist applies the batch in a single bbolt transaction.  Any
// conflict aborts the transaction.
func (s *Store) Persist(ctx context.Context, b storage.Batch) error {
	b.MustValidate()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return b.AcceptVisitor(ctx, &committer{tx: tx})
	})
}

type committer struct {
	tx *bbolt.Tx
}

func (c *committer) VisitSaveExecution(ctx context.Context, op storage.SaveExecution) error {
	old, _, err := getExecution(c.tx, op.Execution.ID)
	if err != nil {
		return err
	}
	if old.Revision != op.Execution.Revision {
		return &storage.ConflictError{Cause: op}
	}
	e := op.Execution
	e.Revision++
	js, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	if err := c.tx.Bucket(executionsBucketKey).Put([]byte(e.ID), js); err != nil {
		return err
	}
	return c.tx.Bucket(instancesBucketKey).Put(instanceKey(e), nil)
}

func (c *committer) VisitRemoveExecution(ctx context.Context, op storage.RemoveExecution) error {
	old, have, err := getExecution(c.tx, op.Execution.ID)
	if err != nil {
		return err
	}
	if !have || old.Revision != op.Execution.Revision {
		return &storage.ConflictError{Cause: op}
	}
	if err := c.tx.Bucket(executionsBucketKey).Delete([]byte(old.ID)); err != nil {
		return err
	}
	return c.tx.Bucket(instancesBucketKey).Delete(instanceKey(old))
}

func (c *committer) VisitSaveJob(ctx context.Context, op storage.SaveJob) error {
	old, have, err := getJob(c.tx, op.Job.ID)
	if err != nil {
		return err
	}
	if old.Revision != op.Job.Revision {
		return &storage.ConflictError{Cause: op}
	}
	due := c.tx.Bucket(dueBucketKey)
	if have {
		if err := due.Delete(dueKey(old)); err != nil {
			return err
		}
	}
	j := op.Job
	j.Revision++
	if err := putJob(c.tx, j); err != nil {
		return err
	}
	return due.Put(dueKey(j), nil)
}

func (c *committer) VisitRemoveJob(ctx context.Context, op storage.RemoveJob) error {
	old, have, err := getJob(c.tx, op.Job.ID)
	if err != nil {
		return err
	}
	if !have || old.Revision != op.Job.Revision {
		return &storage.ConflictError{Cause: op}
	}
	if err := c.tx.Bucket(jobsBucketKey).Delete([]byte(old.ID)); err != nil {
		return err
	}
	return c.tx.Bucket(dueBucketKey).Delete(dueKey(old))
}
