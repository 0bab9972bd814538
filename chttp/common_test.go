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
	"regexp"
	"testing"

	"gitlab.com/flimzy/testy"
)

type customTransport func(*http.Request) (*http.Response, error)

var _ http.RoundTripper = customTransport(nil)

func (t customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t(req)
}

func newCustomClient(fn func(*http.Request) (*http.Response, error)) *Client {
	c, err := New(&http.Client{Transport: customTransport(fn)}, "http://example.com/")
	if err != nil {
		panic(err)
	}
	return c
}

func newTestClient(response *http.Response, err error) *Client {
	return newCustomClient(func(req *http.Request) (*http.Response, error) {
		if req.Body != nil {
			if _, e := io.Copy(io.Discard, req.Body); e != nil {
				return nil, e
			}
		}
		if err != nil {
			return nil, err
		}
		response.Request = req
		return response, nil
	})
}

// statusErrorRE is a version of testy.StatusError that matches the error
// message against a regular expression.
func statusErrorRE(t *testing.T, expected string, status int, actual error) {
	t.Helper()
	var err string
	var actualStatus int
	if actual != nil {
		err = actual.Error()
		actualStatus = testy.StatusCode(actual)
	}
	match, e := regexp.MatchString(expected, err)
	if e != nil {
		t.Fatal(e)
	}
	if !match {
		t.Errorf("Unexpected error: %s (expected %s)", err, expected)
	}
	if status != actualStatus {
		t.Errorf("Unexpected status code: %d (expected %d) [%s]", actualStatus, status, err)
	}
	if actual != nil {
		t.SkipNow()
	}
}
