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
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for 429 replay.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cloudant_request_retries_total",
		Help: "Total number of requests replayed after a 429 response",
	})

	retriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cloudant_request_retries_exhausted_total",
		Help: "Total number of requests that exhausted their 429 retry budget",
	})
)

// Default replay settings, matching the server's recommended client
// behavior.
const (
	DefaultRetries        = 3
	DefaultInitialBackoff = 250 * time.Millisecond
)

// Replay429 is an http.RoundTripper that replays requests which receive a
// 429 Too Many Requests response. The sleep before each replay doubles,
// starting from InitialBackoff. Only a 429 status triggers a replay; every
// other response, and every transport error, is returned to the caller
// untouched. When the retry budget is exhausted the last 429 response is
// returned rather than an error; the caller is responsible for inspecting
// the status code.
//
// Each request's retry budget is independent. No rate-limit state is shared
// between requests.
type Replay429 struct {
	// Retries is the number of times a request may be replayed before
	// giving up. Zero disables replay.
	Retries int

	// InitialBackoff is the sleep before the first replay. Each subsequent
	// sleep doubles.
	InitialBackoff time.Duration

	// Logger, when set, logs each replay at debug level.
	Logger zerolog.Logger

	next http.RoundTripper
}

var (
	_ Authenticator     = (*Replay429)(nil)
	_ http.RoundTripper = (*Replay429)(nil)
)

// NewReplay429 returns a Replay429 with the default retry count and initial
// backoff, wrapping next. A nil next uses http.DefaultTransport.
func NewReplay429(next http.RoundTripper) *Replay429 {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Replay429{
		Retries:        DefaultRetries,
		InitialBackoff: DefaultInitialBackoff,
		Logger:         zerolog.Nop(),
		next:           next,
	}
}

// Authenticate installs the replay transport on the client. It composes with
// authenticators installed before it.
func (r *Replay429) Authenticate(c *Client) error {
	r.next = c.Transport
	if r.next == nil {
		r.next = http.DefaultTransport
	}
	c.Transport = r
	return nil
}

// RoundTrip fulfills the http.RoundTripper interface.
func (r *Replay429) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := r.next.RoundTrip(req)
	if err != nil || res.StatusCode != http.StatusTooManyRequests || r.Retries <= 0 {
		return res, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.InitialBackoff
	bo.RandomizationFactor = 0 // deterministic doubling, no jitter
	bo.Multiplier = 2
	bo.MaxInterval = time.Duration(1<<63 - 1)
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 1; attempt <= r.Retries; attempt++ {
		delay := bo.NextBackOff()
		r.Logger.Debug().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Str("path", req.URL.Path).
			Msg("429 received, replaying request")
		retriesTotal.Inc()

		// The last response will be discarded; release the connection.
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()

		if err := sleep(req, delay); err != nil {
			return nil, err
		}
		if err := rewindBody(req); err != nil {
			return nil, err
		}

		res, err = r.next.RoundTrip(req)
		if err != nil || res.StatusCode != http.StatusTooManyRequests {
			return res, err
		}
	}

	retriesExhaustedTotal.Inc()
	r.Logger.Debug().
		Int("retries", r.Retries).
		Str("path", req.URL.Path).
		Msg("429 retry budget exhausted")
	return res, nil
}

// sleep blocks the calling goroutine for the backoff delay, or until the
// request's context is canceled.
func sleep(req *http.Request, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}

// rewindBody restores the request body before a replay.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}
