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

package chttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func resp429() *http.Response {
	return &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Content-Type": []string{typeJSON}},
		Body:       io.NopCloser(strings.NewReader(`{"error":"too_many_requests","reason":"You've exceeded your current limit"}`)),
	}
}

func resp200() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"ok":true}`)),
	}
}

func TestReplay429EventualSuccess(t *testing.T) {
	var attempts int
	attemptTimes := []time.Time{}
	rt := &Replay429{
		Retries:        3,
		InitialBackoff: 10 * time.Millisecond,
		Logger:         zerolog.Nop(),
		next: customTransport(func(*http.Request) (*http.Response, error) {
			attempts++
			attemptTimes = append(attemptTimes, time.Now())
			if attempts <= 2 {
				return resp429(), nil
			}
			return resp200(), nil
		}),
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/db", nil)
	res, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Errorf("Unexpected status: %d", res.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("Unexpected attempt count: %d", attempts)
	}
	// The two backoffs follow a doubling schedule: 10ms then 20ms.
	if delay := attemptTimes[1].Sub(attemptTimes[0]); delay < 10*time.Millisecond {
		t.Errorf("First backoff too short: %s", delay)
	}
	if delay := attemptTimes[2].Sub(attemptTimes[1]); delay < 20*time.Millisecond {
		t.Errorf("Second backoff too short: %s", delay)
	}
}

func TestReplay429Exhausted(t *testing.T) {
	var attempts int
	rt := &Replay429{
		Retries:        1,
		InitialBackoff: time.Millisecond,
		Logger:         zerolog.Nop(),
		next: customTransport(func(*http.Request) (*http.Response, error) {
			attempts++
			return resp429(), nil
		}),
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/db", nil)
	res, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("Exhaustion must not produce an error, got %v", err)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Unexpected status: %d", res.StatusCode)
	}
	// max_retries=1 means exactly two total attempts.
	if attempts != 2 {
		t.Errorf("Unexpected attempt count: %d", attempts)
	}
}

func TestReplay429OtherStatusesUntouched(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		var attempts int
		rt := NewReplay429(customTransport(func(*http.Request) (*http.Response, error) {
			attempts++
			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		}))

		req, _ := http.NewRequest(http.MethodGet, "http://example.com/db", nil)
		res, err := rt.RoundTrip(req)
		if err != nil {
			t.Fatal(err)
		}
		if res.StatusCode != status {
			t.Errorf("Unexpected status: %d", res.StatusCode)
		}
		if attempts != 1 {
			t.Errorf("Status %d triggered %d attempts", status, attempts)
		}
	}
}

func TestReplay429TransportError(t *testing.T) {
	var attempts int
	wantErr := errors.New("connection refused")
	rt := NewReplay429(customTransport(func(*http.Request) (*http.Response, error) {
		attempts++
		return nil, wantErr
	}))

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/db", nil)
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, wantErr) {
		t.Errorf("Unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Unexpected attempt count: %d", attempts)
	}
}

func TestReplay429BodyReplay(t *testing.T) {
	var bodies []string
	var attempts int
	rt := &Replay429{
		Retries:        2,
		InitialBackoff: time.Millisecond,
		Logger:         zerolog.Nop(),
		next: customTransport(func(req *http.Request) (*http.Response, error) {
			attempts++
			body, _ := io.ReadAll(req.Body)
			bodies = append(bodies, string(body))
			if attempts == 1 {
				return resp429(), nil
			}
			return resp200(), nil
		}),
	}

	req, _ := http.NewRequest(http.MethodPost, "http://example.com/db", strings.NewReader(`{"a":1}`))
	res, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close() // nolint: errcheck
	if len(bodies) != 2 {
		t.Fatalf("Unexpected attempt count: %d", len(bodies))
	}
	for i, body := range bodies {
		if body != `{"a":1}` {
			t.Errorf("Attempt %d saw body %q", i+1, body)
		}
	}
}

func TestReplay429ContextCanceled(t *testing.T) {
	rt := &Replay429{
		Retries:        3,
		InitialBackoff: time.Hour,
		Logger:         zerolog.Nop(),
		next: customTransport(func(*http.Request) (*http.Response, error) {
			return resp429(), nil
		}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com/db", nil)
	_, err := rt.RoundTrip(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Unexpected error: %v", err)
	}
}
