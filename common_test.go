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
	"io"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"gitlab.com/flimzy/testy"
)

type customTransport func(*http.Request) (*http.Response, error)

var _ http.RoundTripper = customTransport(nil)

func (c customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return c(req)
}

// newCustomClient returns a client whose requests are handled by fn.
func newCustomClient(t *testing.T, fn func(*http.Request) (*http.Response, error)) *Client {
	t.Helper()
	c, err := New("http://example.com/", WithHTTPClient(&http.Client{
		Transport: customTransport(fn),
	}))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// newTestClient returns a client which always responds with resp.
func newTestClient(t *testing.T, resp *http.Response) *Client {
	t.Helper()
	return newCustomClient(t, func(req *http.Request) (*http.Response, error) {
		if req.Body != nil {
			_, _ = io.Copy(io.Discard, req.Body)
			_ = req.Body.Close()
		}
		response := new(http.Response)
		*response = *resp
		response.Request = req
		return response, nil
	})
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
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
