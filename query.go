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
	"fmt"
	"net/http"

	"github.com/go-cloudant/cloudant/chttp"
)

// Find returns a lazy [QueryResult] for a Mango (_find) query. The query is
// the request body: selector, and optionally fields, sort, use_index, etc.
// No request is sent until docs are accessed.
func (d *DB) Find(query Options) *QueryResult {
	return newQueryResult(d, "_find", query)
}

// FindRaw performs a single _find request and returns the raw JSON response
// body.
func (d *DB) FindRaw(ctx context.Context, query Options) (json.RawMessage, error) {
	result := json.RawMessage{}
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(query),
	}
	err := d.client.conn.DoJSON(ctx, http.MethodPost, d.path("_find"), opts, &result)
	return result, err
}

// QueryResult is a lazy window over the documents matched by a Mango query.
// Unlike a view, a _find response carries no row keys, so access is
// positional only: [QueryResult.Get] and [QueryResult.Slice] translate
// positions to skip and limit, and [QueryResult.Iterator] pages with the
// server-issued bookmark.
type QueryResult struct {
	db       *DB
	path     string
	query    Options
	pageSize int
	err      error
}

func newQueryResult(db *DB, path string, query Options) *QueryResult {
	q := &QueryResult{
		db:       db,
		path:     path,
		query:    query.clone(),
		pageSize: DefaultPageSize,
	}
	if _, ok := q.query["selector"]; !ok {
		q.err = missingArg("selector")
	}
	return q
}

// WithPageSize returns a copy of the result which fetches n docs per page.
func (q *QueryResult) WithPageSize(n int) *QueryResult {
	clone := *q
	clone.pageSize = n
	if n <= 0 && clone.err == nil {
		clone.err = invalidArgf("cloudant: page size must be positive, got %d", n)
	}
	return &clone
}

func (q *QueryResult) checkIndexAccess() error {
	for _, opt := range []string{"skip", "limit"} {
		if _, ok := q.query[opt]; ok {
			return invalidArgf("cloudant: cannot access by position with %q option set", opt)
		}
	}
	return nil
}

// Get retrieves the document at position i, fetched with skip and limit.
// It returns [ErrIndexOutOfRange] if the query matches fewer documents.
func (q *QueryResult) Get(ctx context.Context, i int) ([]json.RawMessage, error) {
	if q.err != nil {
		return nil, q.err
	}
	if i < 0 {
		return nil, invalidArgf("cloudant: negative index %d", i)
	}
	if err := q.checkIndexAccess(); err != nil {
		return nil, err
	}
	docs, _, err := q.fetchDocs(ctx, Options{"skip": i, "limit": 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrIndexOutOfRange
	}
	return docs, nil
}

// Slice retrieves the documents from position start through end, both
// inclusive. A negative bound or end < start is an argument error.
func (q *QueryResult) Slice(ctx context.Context, start, end int) ([]json.RawMessage, error) {
	if q.err != nil {
		return nil, q.err
	}
	if start < 0 || end < 0 {
		return nil, invalidArgf("cloudant: negative slice index")
	}
	if end < start {
		return nil, invalidArgf("cloudant: slice end %d before start %d", end, start)
	}
	if err := q.checkIndexAccess(); err != nil {
		return nil, err
	}
	docs, _, err := q.fetchDocs(ctx, Options{"skip": start, "limit": end - start + 1})
	return docs, err
}

// Iterator returns a fresh iterator over all matching documents, following
// the server-issued bookmark from page to page.
//
// Iteration is incompatible with skip and limit in the query; the first call
// to [QueryIterator.Next] reports the error without sending a request.
func (q *QueryResult) Iterator() *QueryIterator {
	it := &QueryIterator{result: q}
	if q.err != nil {
		it.err = q.err
		return it
	}
	for _, opt := range []string{"skip", "limit"} {
		if _, ok := q.query[opt]; ok {
			it.err = invalidArgf("cloudant: cannot iterate with %q option set", opt)
			break
		}
	}
	return it
}

// All fetches all matching documents, page at a time.
func (q *QueryResult) All(ctx context.Context) ([]json.RawMessage, error) {
	var docs []json.RawMessage
	it := q.Iterator()
	for it.Next(ctx) {
		docs = append(docs, it.Doc())
	}
	return docs, it.Err()
}

func (q *QueryResult) fetchDocs(ctx context.Context, extra Options) ([]json.RawMessage, string, error) {
	body := q.query.clone()
	for k, v := range extra {
		body[k] = v
	}
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(body),
	}
	var result struct {
		Docs     []json.RawMessage `json:"docs"`
		Bookmark string            `json:"bookmark"`
		Warning  string            `json:"warning"`
	}
	if err := q.db.client.conn.DoJSON(ctx, http.MethodPost, q.db.path(q.path), opts, &result); err != nil {
		return nil, "", err
	}
	return result.Docs, result.Bookmark, nil
}

// QueryIterator iterates a [QueryResult] one page at a time.
type QueryIterator struct {
	result *QueryResult

	page     []json.RawMessage
	pos      int
	bookmark string
	done     bool
	err      error
}

// Next advances to the next document. It returns false when the query is
// exhausted or an error occurs.
func (it *QueryIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}
	if it.pos+1 < len(it.page) {
		it.pos++
		return true
	}
	// A short page means the final page was already consumed.
	if len(it.page) > 0 && len(it.page) < it.result.pageSize {
		it.done = true
		return false
	}
	extra := Options{"limit": it.result.pageSize}
	if it.bookmark != "" {
		extra["bookmark"] = it.bookmark
	}
	docs, bookmark, err := it.result.fetchDocs(ctx, extra)
	if err != nil {
		it.err = err
		return false
	}
	it.bookmark = bookmark
	if len(docs) == 0 {
		it.done = true
		return false
	}
	it.page, it.pos = docs, 0
	return true
}

// Doc returns the current document. It is only valid after a call to Next
// has returned true.
func (it *QueryIterator) Doc() json.RawMessage {
	return it.page[it.pos]
}

// Err returns the error, if any, encountered during iteration.
func (it *QueryIterator) Err() error {
	return it.err
}

// Index describes one index, as returned by [DB.GetIndexes].
type Index struct {
	DesignDoc  string      `json:"ddoc,omitempty"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Definition interface{} `json:"def"`
}

// CreateIndex creates an index for use by _find. The ddoc and name are
// optional, and generated by the server when empty. The index is a JSON
// index definition, such as
//
//	Options{"fields": []string{"year", "title"}}
func (d *DB) CreateIndex(ctx context.Context, ddoc, name string, index interface{}) error {
	parameters := struct {
		Index interface{} `json:"index"`
		Ddoc  string      `json:"ddoc,omitempty"`
		Name  string      `json:"name,omitempty"`
	}{
		Index: index,
		Ddoc:  ddoc,
		Name:  name,
	}
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(parameters),
	}
	_, err := d.client.conn.DoError(ctx, http.MethodPost, d.path("_index"), opts)
	return err
}

// GetIndexes returns the indexes defined on the database.
func (d *DB) GetIndexes(ctx context.Context) ([]Index, error) {
	var result struct {
		Indexes []Index `json:"indexes"`
	}
	err := d.client.conn.DoJSON(ctx, http.MethodGet, d.path("_index"), nil, &result)
	return result.Indexes, err
}

// DeleteIndex deletes the named index.
func (d *DB) DeleteIndex(ctx context.Context, ddoc, name string) error {
	if ddoc == "" {
		return missingArg("ddoc")
	}
	if name == "" {
		return missingArg("name")
	}
	path := fmt.Sprintf("_index/%s/json/%s", ddoc, name)
	_, err := d.client.conn.DoError(ctx, http.MethodDelete, d.path(path), nil)
	return err
}

// QueryPlan is the response to an _explain request.
type QueryPlan struct {
	DBName   string                 `json:"dbname"`
	Index    map[string]interface{} `json:"index"`
	Selector map[string]interface{} `json:"selector"`
	Options  map[string]interface{} `json:"opts"`
	Limit    int64                  `json:"limit"`
	Skip     int64                  `json:"skip"`
	Fields   fields                 `json:"fields"`
	Range    map[string]interface{} `json:"range"`
}

type fields []interface{}

func (f *fields) UnmarshalJSON(data []byte) error {
	// The server reports "all_fields" instead of a list when no projection
	// applies.
	if string(data) == `"all_fields"` {
		return nil
	}
	var i []interface{}
	if err := json.Unmarshal(data, &i); err != nil {
		return err
	}
	*f = i
	return nil
}

// Explain returns the query plan the server would use for a Mango query.
func (d *DB) Explain(ctx context.Context, query Options) (*QueryPlan, error) {
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(query),
	}
	plan := new(QueryPlan)
	if err := d.client.conn.DoJSON(ctx, http.MethodPost, d.path("_explain"), opts, plan); err != nil {
		return nil, err
	}
	return plan, nil
}
