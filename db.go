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
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-cloudant/cloudant/chttp"
)

// DB is a handle to a database.
type DB struct {
	client *Client
	name   string
}

// Name returns the database name.
func (d *DB) Name() string {
	return d.name
}

func (d *DB) path(path string) string {
	u, err := url.Parse(url.PathEscape(d.name) + "/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		panic("THIS IS A BUG: d.path failed: " + err.Error())
	}
	return u.String()
}

// Exists returns true if the database exists.
func (d *DB) Exists(ctx context.Context) (bool, error) {
	return d.client.DBExists(ctx, d.name)
}

// DBStats represents the response to GET /{db}.
type DBStats struct {
	Name           string          `json:"db_name"`
	CompactRunning bool            `json:"compact_running"`
	DocCount       int64           `json:"doc_count"`
	DeletedCount   int64           `json:"doc_del_count"`
	UpdateSeq      json.RawMessage `json:"update_seq"`
	DiskSize       int64           `json:"disk_size"`
	ActiveSize     int64           `json:"data_size"`
	Sizes          struct {
		File     int64 `json:"file"`
		External int64 `json:"external"`
		Active   int64 `json:"active"`
	} `json:"sizes"`
	Cluster struct {
		Replicas    int `json:"n"`
		Shards      int `json:"q"`
		ReadQuorum  int `json:"r"`
		WriteQuorum int `json:"w"`
	} `json:"cluster"`
}

// Stats returns the database metadata.
func (d *DB) Stats(ctx context.Context) (*DBStats, error) {
	stats := new(DBStats)
	if err := d.client.conn.DoJSON(ctx, http.MethodGet, url.PathEscape(d.name), nil, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Get fetches the document with the given ID, returning the raw JSON body.
func (d *DB) Get(ctx context.Context, docID string, opts Options) (json.RawMessage, error) {
	if docID == "" {
		return nil, missingArg("docID")
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.conn.DoReq(ctx, http.MethodGet, d.path(chttp.EncodeDocID(docID)), &chttp.Options{Query: query})
	if err != nil {
		return nil, err
	}
	defer chttp.CloseBody(resp.Body)
	if err := chttp.ResponseError(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// GetRev returns the current revision of the document, fetched with a HEAD
// request.
func (d *DB) GetRev(ctx context.Context, docID string) (string, error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	resp, err := d.client.conn.DoError(ctx, http.MethodHead, d.path(chttp.EncodeDocID(docID)), nil)
	if err != nil {
		return "", err
	}
	return chttp.GetRev(resp)
}

// CreateDoc stores a new document, letting the server generate its ID.
func (d *DB) CreateDoc(ctx context.Context, doc interface{}) (id, rev string, err error) {
	result := struct {
		ID  string `json:"id"`
		Rev string `json:"rev"`
	}{}
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(doc),
	}
	err = d.client.conn.DoJSON(ctx, http.MethodPost, url.PathEscape(d.name), opts, &result)
	return result.ID, result.Rev, err
}

// Put stores the document under docID, and returns the new revision. To
// update an existing document, the doc must carry its current _rev, or the
// rev option must be set.
func (d *DB) Put(ctx context.Context, docID string, doc interface{}, opts Options) (rev string, err error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return "", err
	}
	chttpOpts := &chttp.Options{
		Query:   query,
		GetBody: chttp.BodyEncoder(doc),
	}
	var result struct {
		Rev string `json:"rev"`
	}
	err = d.client.conn.DoJSON(ctx, http.MethodPut, d.path(chttp.EncodeDocID(docID)), chttpOpts, &result)
	return result.Rev, err
}

// Delete marks the document as deleted, and returns the tombstone revision.
func (d *DB) Delete(ctx context.Context, docID, rev string) (newRev string, err error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if rev == "" {
		return "", missingArg("rev")
	}
	opts := &chttp.Options{
		Query: url.Values{"rev": {rev}},
	}
	resp, err := d.client.conn.DoError(ctx, http.MethodDelete, d.path(chttp.EncodeDocID(docID)), opts)
	if err != nil {
		return "", err
	}
	return chttp.GetRev(resp)
}

// BulkResult is the per-document result of a [DB.BulkDocs] call.
type BulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev"`
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BulkDocs stores a batch of documents in a single request. Results are
// reported per document; a document-level conflict does not fail the whole
// call.
func (d *DB) BulkDocs(ctx context.Context, docs []interface{}, opts Options) ([]BulkResult, error) {
	if len(docs) == 0 {
		return nil, missingArg("docs")
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"docs": docs}
	if newEdits, ok := opts["new_edits"]; ok {
		query.Del("new_edits")
		body["new_edits"] = newEdits
	}
	chttpOpts := &chttp.Options{
		Query:   query,
		GetBody: chttp.BodyEncoder(body),
	}
	var results []BulkResult
	err = d.client.conn.DoJSON(ctx, http.MethodPost, d.path("_bulk_docs"), chttpOpts, &results)
	return results, err
}

// BulkGet fetches the documents with the given IDs in a single request,
// via _all_docs with include_docs.
func (d *DB) BulkGet(ctx context.Context, docIDs []string, opts Options) ([]Row, error) {
	if len(docIDs) == 0 {
		return nil, missingArg("docIDs")
	}
	merged := opts.clone()
	merged["keys"] = docIDs
	if _, ok := merged["include_docs"]; !ok {
		merged["include_docs"] = true
	}
	return d.viewFetch("_all_docs")(ctx, merged)
}

// AllDocs returns a lazy [Result] over the database's _all_docs view.
func (d *DB) AllDocs(opts Options) *Result {
	return NewResult(d.viewFetch("_all_docs"), opts, 0)
}

// AllDocsRaw performs a single _all_docs request and returns the raw JSON
// response body.
func (d *DB) AllDocsRaw(ctx context.Context, opts Options) (json.RawMessage, error) {
	return d.rawQuery(ctx, "_all_docs", opts)
}

// DesignDocs returns a lazy [Result] over the database's design documents.
func (d *DB) DesignDocs(opts Options) *Result {
	return NewResult(d.viewFetch("_design_docs"), opts, 0)
}

// Query returns a lazy [Result] over a map/reduce view.
func (d *DB) Query(ddoc, view string, opts Options) *Result {
	return NewResult(d.viewFetch(viewPath(ddoc, view)), opts, 0)
}

// QueryRaw performs a single view request and returns the raw JSON response
// body.
func (d *DB) QueryRaw(ctx context.Context, ddoc, view string, opts Options) (json.RawMessage, error) {
	return d.rawQuery(ctx, viewPath(ddoc, view), opts)
}

func viewPath(ddoc, view string) string {
	return "_design/" + url.PathEscape(strings.TrimPrefix(ddoc, "_design/")) +
		"/_view/" + url.PathEscape(view)
}

// viewFetch returns a page fetcher for a view-style endpoint. A keys option
// switches the request to POST, since the key list may exceed URL limits.
func (d *DB) viewFetch(path string) PageFn {
	return func(ctx context.Context, opts Options) ([]Row, error) {
		var result struct {
			Rows []Row `json:"rows"`
		}
		resp, err := d.queryResponse(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		defer chttp.CloseBody(resp.Body)
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, err
		}
		return result.Rows, nil
	}
}

func (d *DB) rawQuery(ctx context.Context, path string, opts Options) (json.RawMessage, error) {
	resp, err := d.queryResponse(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	defer chttp.CloseBody(resp.Body)
	return io.ReadAll(resp.Body)
}

func (d *DB) queryResponse(ctx context.Context, path string, opts Options) (*http.Response, error) {
	opts = opts.clone()
	payload := make(map[string]interface{})
	if keys := opts["keys"]; keys != nil {
		delete(opts, "keys")
		payload["keys"] = keys
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	chttpOpts := &chttp.Options{Query: query}
	method := http.MethodGet
	if len(payload) > 0 {
		method = http.MethodPost
		chttpOpts.GetBody = chttp.BodyEncoder(payload)
	}
	resp, err := d.client.conn.DoReq(ctx, method, d.path(path), chttpOpts)
	if err != nil {
		return nil, err
	}
	if err := chttp.ResponseError(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SecurityMembers represents one security class, admins or members.
type SecurityMembers struct {
	Names []string `json:"names,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Security represents the database security document.
type Security struct {
	Admins  SecurityMembers `json:"admins,omitempty"`
	Members SecurityMembers `json:"members,omitempty"`
}

// Security returns the database's security document.
func (d *DB) Security(ctx context.Context) (*Security, error) {
	sec := new(Security)
	if err := d.client.conn.DoJSON(ctx, http.MethodGet, d.path("_security"), nil, sec); err != nil {
		return nil, err
	}
	return sec, nil
}

// SetSecurity replaces the database's security document.
func (d *DB) SetSecurity(ctx context.Context, security *Security) error {
	if security == nil {
		return missingArg("security")
	}
	opts := &chttp.Options{
		GetBody: chttp.BodyEncoder(security),
	}
	_, err := d.client.conn.DoError(ctx, http.MethodPut, d.path("_security"), opts)
	return err
}

// RevsLimit returns the database's revision depth limit.
func (d *DB) RevsLimit(ctx context.Context) (int, error) {
	var limit int
	err := d.client.conn.DoJSON(ctx, http.MethodGet, d.path("_revs_limit"), nil, &limit)
	return limit, err
}

// SetRevsLimit sets the database's revision depth limit.
func (d *DB) SetRevsLimit(ctx context.Context, limit int) error {
	if limit < 1 {
		return invalidArgf("cloudant: revs limit must be positive, got %d", limit)
	}
	opts := &chttp.Options{
		Body: io.NopCloser(strings.NewReader(strconv.Itoa(limit))),
	}
	_, err := d.client.conn.DoError(ctx, http.MethodPut, d.path("_revs_limit"), opts)
	return err
}

// Changes returns a feed of changes to the database. Supported options
// include feed (normal, longpoll, continuous), since, heartbeat, timeout,
// include_docs, filter and doc_ids, as documented in the CouchDB changes
// reference.
func (d *DB) Changes(ctx context.Context, opts Options) (*Feed, error) {
	return newFeed(ctx, d.client.conn, d.path("_changes"), opts)
}

// InfiniteChanges returns a continuous changes feed which transparently
// reconnects, resuming from the last seen sequence.
func (d *DB) InfiniteChanges(ctx context.Context, opts Options) (*InfiniteFeed, error) {
	return newInfiniteFeed(ctx, d.client.conn, d.path("_changes"), opts)
}

// Partition returns a handle scoped to one shard key of a partitioned
// database.
func (d *DB) Partition(name string) *Partition {
	return &Partition{db: d, name: name}
}

// Partition is a handle to a single partition of a partitioned database.
// Its queries address only rows sharing the partition key.
type Partition struct {
	db   *DB
	name string
}

func (p *Partition) path(path string) string {
	return "_partition/" + url.PathEscape(p.name) + "/" + path
}

// AllDocs returns a lazy [Result] over the partition's documents.
func (p *Partition) AllDocs(opts Options) *Result {
	return NewResult(p.db.viewFetch(p.path("_all_docs")), opts, 0)
}

// Query returns a lazy [Result] over a view, restricted to the partition.
func (p *Partition) Query(ddoc, view string, opts Options) *Result {
	return NewResult(p.db.viewFetch(p.path(viewPath(ddoc, view))), opts, 0)
}

// Find returns a lazy [QueryResult] for a Mango query against the partition.
func (p *Partition) Find(query Options) *QueryResult {
	return newQueryResult(p.db, p.path("_find"), query)
}
