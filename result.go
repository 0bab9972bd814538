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
)

// DefaultPageSize is the number of rows fetched per request when iterating a
// [Result], unless overridden with [Result.WithPageSize].
const DefaultPageSize = 100

// Row is a single row of a view result.
type Row struct {
	ID    string          `json:"id"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Doc   json.RawMessage `json:"doc,omitempty"`
}

// Key marks a value as a document key, to distinguish key access from
// positional access in [Result.Get] and [Result.Slice]. A bare integer
// argument means a position in the result sequence; Key{42} means the
// integer key 42.
type Key struct {
	Value interface{}
}

// PageFn fetches one page of view rows with the given query options. A
// [Result] calls it lazily, once per access or page.
type PageFn func(ctx context.Context, opts Options) ([]Row, error)

// Result is a lazy window over a paginated row sequence, such as _all_docs
// or a map/reduce view. No request is sent until rows are accessed.
//
// Rows are retrieved by position, key, or key range with [Result.Get] and
// [Result.Slice], or streamed with [Result.Iterator]. A Result holds no
// state between accesses, so it may be read many times.
type Result struct {
	fetch    PageFn
	opts     Options
	pageSize int
	err      error // deferred construction error
}

// NewResult returns a lazy result window over the row sequence produced by
// fetch. opts are included in every request. A pageSize of 0 means
// [DefaultPageSize].
func NewResult(fetch PageFn, opts Options, pageSize int) *Result {
	r := &Result{
		fetch:    fetch,
		opts:     opts.clone(),
		pageSize: pageSize,
	}
	if fetch == nil {
		r.err = missingArg("fetch")
	}
	if pageSize == 0 {
		r.pageSize = DefaultPageSize
	}
	if pageSize < 0 {
		r.err = invalidArgf("cloudant: page size must be positive, got %d", pageSize)
	}
	return r
}

// WithPageSize returns a copy of the result which fetches n rows per page.
func (r *Result) WithPageSize(n int) *Result {
	clone := *r
	clone.pageSize = n
	if n <= 0 && clone.err == nil {
		clone.err = invalidArgf("cloudant: page size must be positive, got %d", n)
	}
	return &clone
}

// Get retrieves rows by position or by key, without fetching the rest of the
// sequence.
//
// An int argument is a position: Get pages through the sequence until the
// position is reached, and returns a single-row slice, or
// [ErrIndexOutOfRange] if the sequence ends first. A construction-time skip
// option offsets every position. Any other argument is a
// document key, and may match several rows when keys are duplicated; wrap
// integer keys in [Key]. Key access is rejected when the construction
// options already pin key, keys, startkey or endkey.
func (r *Result) Get(ctx context.Context, arg interface{}) ([]Row, error) {
	if r.err != nil {
		return nil, r.err
	}
	if arg == nil {
		return nil, invalidArgf("cloudant: nil argument")
	}
	if k, ok := arg.(Key); ok {
		return r.getKey(ctx, k.Value)
	}
	if i, ok := sliceIndex(arg); ok {
		return r.getIndex(ctx, i)
	}
	return r.getKey(ctx, arg)
}

// Slice retrieves a contiguous run of rows by position or by key range. Both
// bounds are inclusive. A nil bound leaves that end open.
//
// Integer bounds are positions: Slice(ctx, 0, 2) returns the first three
// rows, fetched with skip and limit in a single request. Any other bounds
// are keys, fetched as startkey/endkey; wrap integer keys in [Key]. Mixing a
// positional bound with a key bound is an error.
func (r *Result) Slice(ctx context.Context, start, end interface{}) ([]Row, error) {
	if r.err != nil {
		return nil, r.err
	}
	startIdx, startIsIdx := sliceIndex(start)
	endIdx, endIsIdx := sliceIndex(end)
	switch {
	case start == nil && end == nil:
		return r.fetch(ctx, r.opts.clone())
	case (startIsIdx || start == nil) && (endIsIdx || end == nil):
		return r.indexSlice(ctx, start, end, startIdx, endIdx)
	case startIsIdx || endIsIdx:
		return nil, invalidArgf("cloudant: cannot mix index and key slice bounds")
	default:
		return r.keySlice(ctx, start, end)
	}
}

// sliceIndex reports whether arg is an integer, i.e. a positional argument.
func sliceIndex(arg interface{}) (int, bool) {
	switch t := arg.(type) {
	case int:
		return t, true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case uint:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	case uint64:
		return int(t), true
	}
	return 0, false
}

func (r *Result) indexSlice(ctx context.Context, start, end interface{}, startIdx, endIdx int) ([]Row, error) {
	for _, opt := range []string{"skip", "limit"} {
		if _, ok := r.opts[opt]; ok {
			return nil, invalidArgf("cloudant: cannot slice by index with %q option set", opt)
		}
	}
	opts := r.opts.clone()
	if start != nil {
		if startIdx < 0 {
			return nil, invalidArgf("cloudant: negative slice index %d", startIdx)
		}
		opts["skip"] = startIdx
	}
	if end != nil {
		if endIdx < 0 {
			return nil, invalidArgf("cloudant: negative slice index %d", endIdx)
		}
		if endIdx < startIdx {
			return nil, invalidArgf("cloudant: slice end %d before start %d", endIdx, startIdx)
		}
		// Both bounds are inclusive, so [0:2] spans three rows.
		opts["limit"] = endIdx - startIdx + 1
	}
	return r.fetch(ctx, opts)
}

func (r *Result) keySlice(ctx context.Context, start, end interface{}) ([]Row, error) {
	if err := r.checkKeyAccess(); err != nil {
		return nil, err
	}
	opts := r.opts.clone()
	if start != nil {
		opts["startkey"] = unwrapKey(start)
	}
	if end != nil {
		// endkey is inclusive, matching the server default.
		opts["endkey"] = unwrapKey(end)
	}
	return r.fetch(ctx, opts)
}

func unwrapKey(arg interface{}) interface{} {
	if k, ok := arg.(Key); ok {
		return k.Value
	}
	return arg
}

func (r *Result) getKey(ctx context.Context, key interface{}) ([]Row, error) {
	if err := r.checkKeyAccess(); err != nil {
		return nil, err
	}
	opts := r.opts.clone()
	opts["key"] = key
	return r.fetch(ctx, opts)
}

// checkKeyAccess rejects key access when the construction options already
// constrain the key range.
func (r *Result) checkKeyAccess() error {
	for _, opt := range []string{"key", "keys", "startkey", "start_key", "endkey", "end_key"} {
		if _, ok := r.opts[opt]; ok {
			return invalidArgf("cloudant: cannot access by key with %q option set", opt)
		}
	}
	return nil
}

func (r *Result) getIndex(ctx context.Context, i int) ([]Row, error) {
	if i < 0 {
		return nil, invalidArgf("cloudant: negative index %d", i)
	}
	if limit, ok := optInt(r.opts, "limit"); ok && i >= limit {
		return nil, ErrIndexOutOfRange
	}
	count := 0
	var resume *Row
	for {
		rows, next, err := r.fetchPage(ctx, resume)
		if err != nil {
			return nil, err
		}
		if i < count+len(rows) {
			return rows[i-count : i-count+1], nil
		}
		if next == nil {
			return nil, ErrIndexOutOfRange
		}
		count += len(rows)
		resume = next
	}
}

func optInt(opts Options, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), true
	}
	return 0, false
}

// fetchPage requests one page of pageSize rows, resuming from the given row.
// It fetches one extra row to learn whether another page follows; when it
// does, the extra row is withheld and returned as the resume point, to be
// re-fetched as the first row of the next page via its startkey and
// startkey_docid.
func (r *Result) fetchPage(ctx context.Context, resume *Row) (rows []Row, next *Row, err error) {
	opts := r.opts.clone()
	opts["limit"] = r.pageSize + 1
	if resume != nil {
		// A skip option offsets the sequence once, on the first page;
		// resumed pages are positioned by the withheld row's key instead.
		delete(opts, "skip")
		opts["startkey"] = resume.Key
		if resume.ID != "" {
			opts["startkey_docid"] = resume.ID
		}
	}
	fetched, err := r.fetch(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	if len(fetched) > r.pageSize {
		return fetched[:r.pageSize], &fetched[r.pageSize], nil
	}
	return fetched, nil, nil
}

// Iterator returns a fresh iterator over the whole sequence, fetching
// pageSize rows per request. Each call restarts from the beginning. A
// construction-time skip option is applied once, before the first row.
//
// Iteration is incompatible with a construction-time limit option; the first
// call to [Iterator.Next] reports the error without sending a request.
func (r *Result) Iterator() *Iterator {
	it := &Iterator{result: r}
	if r.err != nil {
		it.err = r.err
		return it
	}
	if _, ok := r.opts["limit"]; ok {
		it.err = invalidArgf(`cloudant: cannot iterate with "limit" option set`)
	}
	return it
}

// All fetches the entire sequence, page at a time.
func (r *Result) All(ctx context.Context) ([]Row, error) {
	var rows []Row
	it := r.Iterator()
	for it.Next(ctx) {
		rows = append(rows, it.Row())
	}
	return rows, it.Err()
}

// Iterator iterates a [Result] one page at a time. Call [Iterator.Next] to
// advance, then [Iterator.Row] for the current row. When Next returns false,
// consult [Iterator.Err] to distinguish exhaustion from failure.
type Iterator struct {
	result *Result

	page   []Row
	pos    int
	resume *Row

	started bool
	done    bool
	err     error
}

// Next advances to the next row. It returns false when the sequence is
// exhausted or an error occurs.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}
	if it.pos+1 < len(it.page) {
		it.pos++
		return true
	}
	if it.started && it.resume == nil {
		it.done = true
		return false
	}
	page, next, err := it.result.fetchPage(ctx, it.resume)
	if err != nil {
		it.err = err
		return false
	}
	it.started = true
	it.resume = next
	if len(page) == 0 {
		it.done = true
		return false
	}
	it.page, it.pos = page, 0
	return true
}

// Row returns the current row. It is only valid after a call to Next has
// returned true.
func (it *Iterator) Row() Row {
	return it.page[it.pos]
}

// Err returns the error, if any, encountered during iteration.
func (it *Iterator) Err() error {
	return it.err
}
