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
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gitlab.com/flimzy/testy"
)

// fakeView returns a page fetcher serving rows from memory, honoring the
// query options a real view honors: key, startkey, startkey_docid, endkey,
// skip and limit. Rows must be sorted by key, then by ID. Each request's
// options are appended to calls.
func fakeView(rows []Row, calls *[]Options) PageFn {
	return func(_ context.Context, opts Options) ([]Row, error) {
		if calls != nil {
			*calls = append(*calls, opts)
		}
		out := rows
		if key, ok := opts["key"]; ok {
			target := mustEncodeKey(key)
			var matched []Row
			for _, row := range out {
				if string(row.Key) == target {
					matched = append(matched, row)
				}
			}
			out = matched
		}
		if sk, ok := opts["startkey"]; ok {
			target := mustEncodeKey(sk)
			docID, _ := opts["startkey_docid"].(string)
			for len(out) > 0 {
				if string(out[0].Key) < target {
					out = out[1:]
					continue
				}
				if docID != "" && string(out[0].Key) == target && out[0].ID < docID {
					out = out[1:]
					continue
				}
				break
			}
		}
		if ek, ok := opts["endkey"]; ok {
			target := mustEncodeKey(ek)
			var kept []Row
			for _, row := range out {
				if string(row.Key) <= target {
					kept = append(kept, row)
				}
			}
			out = kept
		}
		if skip, ok := optInt(opts, "skip"); ok && skip < len(out) {
			out = out[skip:]
		} else if ok {
			out = nil
		}
		if limit, ok := optInt(opts, "limit"); ok && limit < len(out) {
			out = out[:limit]
		}
		return out, nil
	}
}

func mustEncodeKey(i interface{}) string {
	s, err := encodeKey(i)
	if err != nil {
		panic(err)
	}
	return s
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			ID:    fmt.Sprintf("doc-%03d", i),
			Key:   json.RawMessage(fmt.Sprintf(`"key-%03d"`, i)),
			Value: json.RawMessage(`1`),
		}
	}
	return rows
}

func TestResultConstructionIsLazy(t *testing.T) {
	var calls []Options
	_ = NewResult(fakeView(makeRows(10), &calls), Options{"include_docs": true}, 0)
	if len(calls) != 0 {
		t.Errorf("Expected no requests at construction, got %d", len(calls))
	}
}

func TestResultGetByIndex(t *testing.T) {
	rows := makeRows(25)

	t.Run("first row", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 10)
		got, err := r.Get(context.Background(), 0)
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[0:1], got); d != nil {
			t.Error(d)
		}
		if len(calls) != 1 {
			t.Errorf("Expected 1 request, got %d", len(calls))
		}
	})

	t.Run("row on a later page", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 10)
		got, err := r.Get(context.Background(), 24)
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[24:25], got); d != nil {
			t.Error(d)
		}
		if len(calls) != 3 {
			t.Errorf("Expected 3 requests, got %d", len(calls))
		}
	})

	t.Run("past the end", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 10)
		_, err := r.Get(context.Background(), 25)
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("negative index", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 10)
		_, err := r.Get(context.Background(), -1)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
		if len(calls) != 0 {
			t.Errorf("Expected no requests, got %d", len(calls))
		}
	})

	t.Run("limit option bounds the window", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), Options{"limit": 5}, 10)
		_, err := r.Get(context.Background(), 5)
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Unexpected error: %v", err)
		}
		if len(calls) != 0 {
			t.Errorf("Expected no requests, got %d", len(calls))
		}
	})

	t.Run("skip option offsets positions", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), Options{"skip": 2}, 10)
		got, err := r.Get(context.Background(), 12)
		if err != nil {
			t.Fatal(err)
		}
		// position 12 of the skipped sequence is absolute row 14
		if d := testy.DiffInterface(rows[14:15], got); d != nil {
			t.Error(d)
		}
		if len(calls) != 2 {
			t.Fatalf("Expected 2 requests, got %d", len(calls))
		}
		if _, ok := calls[1]["skip"]; ok {
			t.Error("skip option sent on a resumed page")
		}
	})

	t.Run("within the limit option", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), Options{"limit": 5}, 10)
		got, err := r.Get(context.Background(), 4)
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[4:5], got); d != nil {
			t.Error(d)
		}
	})
}

func TestResultGetByKey(t *testing.T) {
	rows := []Row{
		{ID: "a", Key: json.RawMessage(`"apple"`)},
		{ID: "b1", Key: json.RawMessage(`"banana"`)},
		{ID: "b2", Key: json.RawMessage(`"banana"`)},
		{ID: "c", Key: json.RawMessage(`"cherry"`)},
	}

	t.Run("single match", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 0)
		got, err := r.Get(context.Background(), "apple")
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[0:1], got); d != nil {
			t.Error(d)
		}
		if len(calls) != 1 {
			t.Fatalf("Expected 1 request, got %d", len(calls))
		}
		if key := calls[0]["key"]; key != "apple" {
			t.Errorf("Unexpected key option: %v", key)
		}
	})

	t.Run("duplicate keys return all matches", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		got, err := r.Get(context.Background(), "banana")
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[1:3], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("integer key via Key wrapper", func(t *testing.T) {
		intRows := []Row{
			{ID: "x", Key: json.RawMessage(`1`)},
			{ID: "y", Key: json.RawMessage(`2`)},
		}
		r := NewResult(fakeView(intRows, nil), nil, 0)
		got, err := r.Get(context.Background(), Key{2})
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(intRows[1:2], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("bare integer is a position, not a key", func(t *testing.T) {
		intRows := []Row{
			{ID: "x", Key: json.RawMessage(`5`)},
			{ID: "y", Key: json.RawMessage(`7`)},
		}
		r := NewResult(fakeView(intRows, nil), nil, 0)
		got, err := r.Get(context.Background(), 1)
		if err != nil {
			t.Fatal(err)
		}
		// position 1 is the row with key 7, not the row with key 1
		if d := testy.DiffInterface(intRows[1:2], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("key access with pinned range", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), Options{"startkey": "apple"}, 0)
		_, err := r.Get(context.Background(), "banana")
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
		if len(calls) != 0 {
			t.Errorf("Expected no requests, got %d", len(calls))
		}
	})

	t.Run("nil argument", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		_, err := r.Get(context.Background(), nil)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestResultSliceByKey(t *testing.T) {
	rows := []Row{
		{ID: "a", Key: json.RawMessage(`"apple"`)},
		{ID: "b", Key: json.RawMessage(`"banana"`)},
		{ID: "c", Key: json.RawMessage(`"cherry"`)},
		{ID: "d", Key: json.RawMessage(`"damson"`)},
	}

	t.Run("both bounds inclusive", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		got, err := r.Slice(context.Background(), "banana", "cherry")
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[1:3], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("open start", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		got, err := r.Slice(context.Background(), nil, "banana")
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[0:2], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("open end", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		got, err := r.Slice(context.Background(), "cherry", nil)
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[2:4], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("pinned range", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), Options{"endkey": "damson"}, 0)
		_, err := r.Slice(context.Background(), "apple", "banana")
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("mixed bounds", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		_, err := r.Slice(context.Background(), 1, "cherry")
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestResultSliceByIndex(t *testing.T) {
	rows := makeRows(10)

	t.Run("both bounds inclusive", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 0)
		got, err := r.Slice(context.Background(), 0, 2)
		if err != nil {
			t.Fatal(err)
		}
		// [0:2] spans three rows
		if d := testy.DiffInterface(rows[0:3], got); d != nil {
			t.Error(d)
		}
		if len(calls) != 1 {
			t.Errorf("Expected 1 request, got %d", len(calls))
		}
	})

	t.Run("interior slice", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		got, err := r.Slice(context.Background(), 3, 5)
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[3:6], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("open end", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		got, err := r.Slice(context.Background(), 7, nil)
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[7:], got); d != nil {
			t.Error(d)
		}
	})

	t.Run("whole sequence", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		got, err := r.Slice(context.Background(), nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows, got); d != nil {
			t.Error(d)
		}
	})

	t.Run("end before start", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		_, err := r.Slice(context.Background(), 5, 3)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("negative bound", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), nil, 0)
		_, err := r.Slice(context.Background(), -1, 3)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("skip option conflicts", func(t *testing.T) {
		r := NewResult(fakeView(rows, nil), Options{"skip": 2}, 0)
		_, err := r.Slice(context.Background(), 0, 2)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestResultIterator(t *testing.T) {
	t.Run("full traversal", func(t *testing.T) {
		rows := makeRows(25)
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 10)
		var got []Row
		it := r.Iterator()
		for it.Next(context.Background()) {
			got = append(got, it.Row())
		}
		if err := it.Err(); err != nil {
			t.Fatal(err)
		}
		if d := cmp.Diff(rows, got); d != "" {
			t.Error(d)
		}
		if len(calls) != 3 {
			t.Errorf("Expected 3 requests, got %d", len(calls))
		}
		for i, call := range calls {
			if limit, _ := optInt(call, "limit"); limit != 11 {
				t.Errorf("Request %d: expected limit 11, got %d", i, limit)
			}
		}
	})

	t.Run("page boundary on exact multiple", func(t *testing.T) {
		rows := makeRows(20)
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 10)
		got, err := r.All(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows, got); d != nil {
			t.Error(d)
		}
		// The second fetch returns a short page of exactly pageSize rows,
		// so no third request is needed.
		if len(calls) != 2 {
			t.Errorf("Expected 2 requests, got %d", len(calls))
		}
	})

	t.Run("restartable", func(t *testing.T) {
		rows := makeRows(5)
		r := NewResult(fakeView(rows, nil), nil, 2)
		for attempt := 0; attempt < 2; attempt++ {
			var got []Row
			it := r.Iterator()
			for it.Next(context.Background()) {
				got = append(got, it.Row())
			}
			if err := it.Err(); err != nil {
				t.Fatal(err)
			}
			if d := testy.DiffInterface(rows, got); d != nil {
				t.Errorf("attempt %d: %s", attempt, d)
			}
		}
	})

	t.Run("empty sequence", func(t *testing.T) {
		r := NewResult(fakeView(nil, nil), nil, 10)
		it := r.Iterator()
		if it.Next(context.Background()) {
			t.Error("Expected no rows")
		}
		if err := it.Err(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("skip option applied once", func(t *testing.T) {
		rows := makeRows(25)
		var calls []Options
		r := NewResult(fakeView(rows, &calls), Options{"skip": 2}, 10)
		got, err := r.All(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows[2:], got); d != nil {
			t.Error(d)
		}
		if len(calls) != 3 {
			t.Fatalf("Expected 3 requests, got %d", len(calls))
		}
		if skip, _ := optInt(calls[0], "skip"); skip != 2 {
			t.Errorf("Expected skip 2 on the first request, got %d", skip)
		}
		for i, call := range calls[1:] {
			if _, ok := call["skip"]; ok {
				t.Errorf("Resumed request %d repeats the skip option", i+1)
			}
		}
	})

	t.Run("limit option rejected", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(makeRows(5), &calls), Options{"limit": 3}, 10)
		it := r.Iterator()
		if it.Next(context.Background()) {
			t.Error("Expected Next to return false")
		}
		if !errors.Is(it.Err(), ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", it.Err())
		}
		if len(calls) != 0 {
			t.Errorf("Expected no requests, got %d", len(calls))
		}
	})

	t.Run("index access equals iteration order", func(t *testing.T) {
		rows := makeRows(13)
		r := NewResult(fakeView(rows, nil), nil, 5)
		iterated, err := r.All(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		for _, i := range []int{0, 4, 5, 7, 12} {
			got, err := r.Get(context.Background(), i)
			if err != nil {
				t.Fatalf("index %d: %s", i, err)
			}
			if d := testy.DiffInterface(iterated[i:i+1], got); d != nil {
				t.Errorf("index %d: %s", i, d)
			}
		}
	})
}

func TestResultPageSize(t *testing.T) {
	t.Run("negative page size", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(makeRows(5), &calls), nil, -1)
		_, err := r.Get(context.Background(), 0)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
		if len(calls) != 0 {
			t.Errorf("Expected no requests, got %d", len(calls))
		}
	})

	t.Run("WithPageSize rejects zero", func(t *testing.T) {
		r := NewResult(fakeView(makeRows(5), nil), nil, 0).WithPageSize(0)
		_, err := r.Get(context.Background(), 0)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("WithPageSize changes request size", func(t *testing.T) {
		rows := makeRows(9)
		var calls []Options
		r := NewResult(fakeView(rows, &calls), nil, 0).WithPageSize(3)
		got, err := r.All(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if d := testy.DiffInterface(rows, got); d != nil {
			t.Error(d)
		}
		if len(calls) != 3 {
			t.Errorf("Expected 3 requests, got %d", len(calls))
		}
	})

	t.Run("default page size", func(t *testing.T) {
		var calls []Options
		r := NewResult(fakeView(makeRows(3), &calls), nil, 0)
		if _, err := r.All(context.Background()); err != nil {
			t.Fatal(err)
		}
		if limit, _ := optInt(calls[0], "limit"); limit != DefaultPageSize+1 {
			t.Errorf("Unexpected limit: %d", limit)
		}
	})
}

func TestResultFetchError(t *testing.T) {
	fetchErr := errors.New("boom")
	failing := func(context.Context, Options) ([]Row, error) {
		return nil, fetchErr
	}

	r := NewResult(failing, nil, 10)
	if _, err := r.Get(context.Background(), 3); !errors.Is(err, fetchErr) {
		t.Errorf("Unexpected error: %v", err)
	}
	it := r.Iterator()
	if it.Next(context.Background()) {
		t.Error("Expected Next to return false")
	}
	if !errors.Is(it.Err(), fetchErr) {
		t.Errorf("Unexpected error: %v", it.Err())
	}
}
