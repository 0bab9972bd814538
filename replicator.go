// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package cloudant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/go-cloudant/cloudant/chttp"
)

const replicatorDB = "_replicator"

// Replicator manages replications through the _replicator database.
type Replicator struct {
	client *Client
	db     *DB
}

// Replicator returns a handle to the server's replicator.
func (c *Client) Replicator() *Replicator {
	return &Replicator{
		client: c,
		db:     c.DB(replicatorDB),
	}
}

// Replication is a document in the _replicator database.
type Replication struct {
	ID           string `json:"_id"`
	Rev          string `json:"_rev,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	Continuous   bool   `json:"continuous,omitempty"`
	CreateTarget bool   `json:"create_target,omitempty"`
}

// Replication state values reported by the scheduler. A replication is
// finished once it reaches ReplicationStateCompleted or
// ReplicationStateFailed.
const (
	ReplicationStateInitializing = "initializing"
	ReplicationStateRunning      = "running"
	ReplicationStatePending      = "pending"
	ReplicationStateCrashing     = "crashing"
	ReplicationStateCompleted    = "completed"
	ReplicationStateFailed       = "failed"
)

// CreateReplication starts a replication by writing a document to the
// _replicator database. The document ID is taken from the _id option when
// present, and generated otherwise. Additional options (continuous,
// create_target, selector, filter, ...) are stored on the document verbatim.
func (r *Replicator) CreateReplication(ctx context.Context, source, target string, opts Options) (*Replication, error) {
	if source == "" {
		return nil, missingArg("source")
	}
	if target == "" {
		return nil, missingArg("target")
	}
	doc := map[string]interface{}{
		"source": source,
		"target": target,
	}
	for k, v := range opts {
		doc[k] = v
	}
	id, _ := doc["_id"].(string)
	if id == "" {
		id = uuid.NewString()
		doc["_id"] = id
	}
	rev, err := r.db.Put(ctx, id, doc, nil)
	if err != nil {
		return nil, err
	}
	repl := &Replication{
		ID:     id,
		Rev:    rev,
		Source: source,
		Target: target,
	}
	repl.Continuous, _ = doc["continuous"].(bool)
	repl.CreateTarget, _ = doc["create_target"].(bool)
	return repl, nil
}

// ListReplications returns the replication documents in the _replicator
// database, excluding design documents.
func (r *Replicator) ListReplications(ctx context.Context) ([]*Replication, error) {
	rows, err := r.db.AllDocs(Options{"include_docs": true}).All(ctx)
	if err != nil {
		return nil, err
	}
	replications := make([]*Replication, 0, len(rows))
	for _, row := range rows {
		if strings.HasPrefix(row.ID, "_design/") {
			continue
		}
		repl := new(Replication)
		if err := json.Unmarshal(row.Doc, repl); err != nil {
			return nil, err
		}
		replications = append(replications, repl)
	}
	return replications, nil
}

// ReplicationState returns the scheduler state of the replication.
func (r *Replicator) ReplicationState(ctx context.Context, replID string) (string, error) {
	doc, err := r.client.Scheduler().Doc(ctx, replicatorDB, replID)
	if err != nil {
		return "", err
	}
	return doc.State, nil
}

// Follow polls the replication state every interval until the replication
// completes or fails, and returns the terminal state. The context bounds the
// wait.
func (r *Replicator) Follow(ctx context.Context, replID string, interval time.Duration) (string, error) {
	for {
		state, err := r.ReplicationState(ctx, replID)
		if err != nil {
			return "", err
		}
		switch state {
		case ReplicationStateCompleted, ReplicationStateFailed:
			return state, nil
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return state, ctx.Err()
		case <-t.C:
		}
	}
}

// StopReplication cancels the replication by deleting its document.
func (r *Replicator) StopReplication(ctx context.Context, replID string) error {
	if replID == "" {
		return missingArg("replID")
	}
	rev, err := r.db.GetRev(ctx, replID)
	if err != nil {
		return err
	}
	_, err = r.db.Delete(ctx, replID, rev)
	return err
}

// Scheduler exposes the server's replication scheduler.
type Scheduler struct {
	client *Client
}

// Scheduler returns a handle to the server's replication scheduler.
func (c *Client) Scheduler() *Scheduler {
	return &Scheduler{client: c}
}

// SchedulerJob describes one running replication job, as reported by
// GET /_scheduler/jobs.
type SchedulerJob struct {
	ID       string          `json:"id"`
	Database string          `json:"database"`
	DocID    string          `json:"doc_id"`
	Pid      string          `json:"pid"`
	Node     string          `json:"node"`
	Source   string          `json:"source"`
	Target   string          `json:"target"`
	History  json.RawMessage `json:"history"`
}

// SchedulerDoc describes the scheduler's view of one replication document,
// as reported by GET /_scheduler/docs.
type SchedulerDoc struct {
	Database   string          `json:"database"`
	DocID      string          `json:"doc_id"`
	ID         string          `json:"id"`
	Node       string          `json:"node"`
	Source     string          `json:"source"`
	Target     string          `json:"target"`
	State      string          `json:"state"`
	ErrorCount int             `json:"error_count"`
	Info       json.RawMessage `json:"info"`
	StartTime  string          `json:"start_time"`
}

// Jobs returns the replication jobs the scheduler is running.
func (s *Scheduler) Jobs(ctx context.Context, opts Options) ([]*SchedulerJob, error) {
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	var result struct {
		Jobs []*SchedulerJob `json:"jobs"`
	}
	err = s.client.conn.DoJSON(ctx, http.MethodGet, "/_scheduler/jobs", &chttp.Options{Query: query}, &result)
	return result.Jobs, err
}

// Docs returns the scheduler's state for all replication documents.
func (s *Scheduler) Docs(ctx context.Context, opts Options) ([]*SchedulerDoc, error) {
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	var result struct {
		Docs []*SchedulerDoc `json:"docs"`
	}
	err = s.client.conn.DoJSON(ctx, http.MethodGet, "/_scheduler/docs", &chttp.Options{Query: query}, &result)
	return result.Docs, err
}

// Doc returns the scheduler's state for one replication document.
func (s *Scheduler) Doc(ctx context.Context, db, docID string) (*SchedulerDoc, error) {
	if docID == "" {
		return nil, missingArg("docID")
	}
	if db == "" {
		db = replicatorDB
	}
	doc := new(SchedulerDoc)
	path := "/_scheduler/docs/" + url.PathEscape(db) + "/" + chttp.EncodeDocID(docID)
	if err := s.client.conn.DoJSON(ctx, http.MethodGet, path, nil, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
