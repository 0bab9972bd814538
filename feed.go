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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-cloudant/cloudant/chttp"
)

// feedModes are the supported values of the feed option.
var feedModes = map[string]struct{}{
	"normal":     {},
	"longpoll":   {},
	"continuous": {},
}

// feedStyles are the supported values of the style option.
var feedStyles = map[string]struct{}{
	"main_only": {},
	"all_docs":  {},
}

// validateFeedOptions rejects malformed feed options before any request is
// sent.
func validateFeedOptions(opts Options) error {
	if mode, ok := opts["feed"]; ok {
		s, isStr := mode.(string)
		if !isStr {
			return invalidArgf("cloudant: invalid type %T for option %q", mode, "feed")
		}
		if _, valid := feedModes[s]; !valid {
			return invalidArgf("cloudant: invalid feed value %q", s)
		}
	}
	if style, ok := opts["style"]; ok {
		s, isStr := style.(string)
		if !isStr {
			return invalidArgf("cloudant: invalid type %T for option %q", style, "style")
		}
		if _, valid := feedStyles[s]; !valid {
			return invalidArgf("cloudant: invalid style value %q", s)
		}
	}
	for _, opt := range []string{"heartbeat", "timeout", "limit", "seq_interval"} {
		v, ok := opts[opt]
		if !ok {
			continue
		}
		n, isInt := optInt(opts, opt)
		if !isInt {
			return invalidArgf("cloudant: invalid type %T for option %q", v, opt)
		}
		if n < 0 {
			return invalidArgf("cloudant: option %q must not be negative, got %d", opt, n)
		}
	}
	return nil
}

// Feed streams events from a feed endpoint, _changes or _db_updates. For the
// normal and longpoll modes the whole response is read at once; in
// continuous mode events are decoded line by line as the server emits them,
// and heartbeat blank lines are skipped.
type Feed struct {
	body       io.ReadCloser
	reader     *bufio.Reader // continuous mode only
	buffered   []json.RawMessage
	pos        int
	event      json.RawMessage
	lastSeq    json.RawMessage
	terminated bool
	err        error
}

func newFeed(ctx context.Context, conn *chttp.Client, path string, opts Options) (*Feed, error) {
	if err := validateFeedOptions(opts); err != nil {
		return nil, err
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	resp, err := conn.DoReq(ctx, http.MethodGet, path, &chttp.Options{Query: query})
	if err != nil {
		return nil, err
	}
	if err := chttp.ResponseError(resp); err != nil {
		return nil, err
	}
	if mode, _ := opts["feed"].(string); mode == "continuous" {
		return &Feed{
			body:   resp.Body,
			reader: bufio.NewReader(resp.Body),
		}, nil
	}
	defer chttp.CloseBody(resp.Body)
	var result struct {
		Results []json.RawMessage `json:"results"`
		LastSeq json.RawMessage   `json:"last_seq"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &Feed{
		buffered: result.Results,
		lastSeq:  result.LastSeq,
	}, nil
}

// Next advances to the next event, blocking until the server emits one. It
// returns false when the feed ends or an error occurs.
func (f *Feed) Next() bool {
	if f.err != nil || f.terminated {
		return false
	}
	if f.reader == nil {
		if f.pos < len(f.buffered) {
			f.event = f.buffered[f.pos]
			f.pos++
			return true
		}
		f.terminated = true
		return false
	}
	for {
		line, err := f.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				f.finish(err)
				return false
			}
			// heartbeat
			continue
		}
		// The feed's closing line carries last_seq instead of an event.
		var probe struct {
			LastSeq json.RawMessage `json:"last_seq"`
		}
		if jsonErr := json.Unmarshal(line, &probe); jsonErr != nil {
			f.finish(jsonErr)
			return false
		}
		if probe.LastSeq != nil {
			f.lastSeq = probe.LastSeq
			f.finish(err)
			return false
		}
		f.event = json.RawMessage(bytes.Clone(line))
		return true
	}
}

func (f *Feed) finish(err error) {
	f.terminated = true
	if err != nil && err != io.EOF {
		f.err = err
	}
	_ = f.Stop()
}

// Event returns the current event as raw JSON. It is only valid after a call
// to Next has returned true.
func (f *Feed) Event() json.RawMessage {
	return f.event
}

// LastSeq returns the sequence identifier the feed ended at, when the server
// reported one.
func (f *Feed) LastSeq() json.RawMessage {
	return f.lastSeq
}

// Err returns the error, if any, that terminated the feed.
func (f *Feed) Err() error {
	return f.err
}

// Stop closes the feed's connection. Next returns false afterwards.
func (f *Feed) Stop() error {
	f.terminated = true
	if f.body == nil {
		return nil
	}
	body := f.body
	f.body = nil
	return body.Close()
}

// InfiniteFeed is a continuous feed which transparently reconnects when the
// server drops the connection, resuming from the last seen sequence.
type InfiniteFeed struct {
	ctx     context.Context
	conn    *chttp.Client
	path    string
	opts    Options
	cur     *Feed
	lastSeq json.RawMessage
	stopped bool
	err     error
}

func newInfiniteFeed(ctx context.Context, conn *chttp.Client, path string, opts Options) (*InfiniteFeed, error) {
	opts = opts.clone()
	if mode, ok := opts["feed"]; ok {
		if mode != "continuous" {
			return nil, invalidArgf("cloudant: infinite feed requires the continuous mode, got %v", mode)
		}
	}
	opts["feed"] = "continuous"
	if err := validateFeedOptions(opts); err != nil {
		return nil, err
	}
	return &InfiniteFeed{
		ctx:  ctx,
		conn: conn,
		path: path,
		opts: opts,
	}, nil
}

// Next advances to the next event, reconnecting as needed. It returns false
// only after [InfiniteFeed.Stop] or when the context is done.
func (f *InfiniteFeed) Next() bool {
	for {
		if f.stopped {
			return false
		}
		if err := f.ctx.Err(); err != nil {
			f.err = err
			return false
		}
		if f.cur == nil {
			opts := f.opts.clone()
			if f.lastSeq != nil {
				opts["since"] = seqToString(f.lastSeq)
			}
			cur, err := newFeed(f.ctx, f.conn, f.path, opts)
			if err != nil {
				// Option and server-rejection errors are permanent; only a
				// dropped stream warrants a reconnect.
				f.err = err
				return false
			}
			f.cur = cur
		}
		if f.cur.Next() {
			if seq := eventSeq(f.cur.Event()); seq != nil {
				f.lastSeq = seq
			}
			return true
		}
		if seq := f.cur.LastSeq(); seq != nil {
			f.lastSeq = seq
		}
		f.cur = nil
	}
}

// seqToString renders a sequence identifier as a query parameter value.
// Modern servers report strings; older ones report numbers.
func seqToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func eventSeq(event json.RawMessage) json.RawMessage {
	var probe struct {
		Seq json.RawMessage `json:"seq"`
	}
	if err := json.Unmarshal(event, &probe); err != nil {
		return nil
	}
	return probe.Seq
}

// Event returns the current event as raw JSON.
func (f *InfiniteFeed) Event() json.RawMessage {
	return f.cur.Event()
}

// Err returns the error, if any, that terminated the feed.
func (f *InfiniteFeed) Err() error {
	return f.err
}

// Stop terminates the feed. Next returns false afterwards.
func (f *InfiniteFeed) Stop() error {
	f.stopped = true
	if f.cur != nil {
		return f.cur.Stop()
	}
	return nil
}
