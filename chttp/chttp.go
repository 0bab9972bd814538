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

// Package chttp provides a minimal HTTP client for communicating with
// CouchDB and Cloudant servers.
package chttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-cloudant/cloudant/internal"
)

const typeJSON = "application/json"

// The default UserAgent values
const (
	UserAgent = "go-cloudant"
	Version   = "1.0.0"
)

// Client represents a client connection. It embeds an *http.Client.
type Client struct {
	// UserAgents is appended to set the User-Agent header. Typically it
	// should contain pairs of product name and version.
	UserAgents []string

	*http.Client

	rawDSN   string
	dsn      *url.URL
	basePath string
	auth     Authenticator
	authMU   sync.Mutex
	logger   zerolog.Logger
}

// New returns a connection to a CouchDB or Cloudant server. If credentials
// are included in the URL, requests will be authenticated using Cookie Auth.
// To use HTTP Basic Auth or some other authentication mechanism, do not
// specify credentials in the URL, and instead call the Auth method.
func New(client *http.Client, dsn string) (*Client, error) {
	dsnURL, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	user := dsnURL.User
	dsnURL.User = nil
	c := &Client{
		Client:   client,
		dsn:      dsnURL,
		basePath: strings.TrimSuffix(dsnURL.Path, "/"),
		rawDSN:   dsn,
		logger:   zerolog.Nop(),
	}
	if user != nil {
		password, _ := user.Password()
		err := c.Auth(&CookieAuth{
			Username: user.Username(),
			Password: password,
		})
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func parseDSN(dsn string) (*url.URL, error) {
	if dsn == "" {
		return nil, &internal.Error{Status: http.StatusBadRequest, Err: errors.New("no URL specified")}
	}
	if !strings.HasPrefix(dsn, "http://") && !strings.HasPrefix(dsn, "https://") {
		dsn = "http://" + dsn
	}
	dsnURL, err := url.Parse(dsn)
	if err != nil {
		return nil, &internal.Error{Status: http.StatusBadRequest, Err: err}
	}
	if dsnURL.Path == "" {
		dsnURL.Path = "/"
	}
	return dsnURL, nil
}

// DSN returns the unparsed DSN used to connect.
func (c *Client) DSN() string {
	return c.rawDSN
}

// Auth authenticates using the provided Authenticator.
func (c *Client) Auth(a Authenticator) error {
	if c.auth != nil {
		return errors.New("chttp: auth already set")
	}
	if err := a.Authenticate(c); err != nil {
		return err
	}
	c.auth = a
	return nil
}

// SetLogger configures a logger for request-level debug logging. The default
// logger discards everything.
func (c *Client) SetLogger(lg zerolog.Logger) {
	c.logger = lg
}

// Logger returns the client's configured logger.
func (c *Client) Logger() zerolog.Logger {
	return c.logger
}

// DecodeJSON unmarshals the response body into i. This method consumes and
// closes the response body.
func DecodeJSON(r *http.Response, i interface{}) error {
	defer CloseBody(r.Body)
	if err := json.NewDecoder(r.Body).Decode(i); err != nil {
		return &internal.Error{Status: http.StatusBadGateway, Err: err}
	}
	return nil
}

// CloseBody drains and closes the response body to allow connection re-use.
func CloseBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

// DoJSON combines [Client.DoReq], [ResponseError], and [DecodeJSON], and
// closes the response body.
func (c *Client) DoJSON(ctx context.Context, method, path string, opts *Options, i interface{}) error {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return err
	}
	if res.Body != nil {
		defer CloseBody(res.Body)
	}
	if err = ResponseError(res); err != nil {
		return err
	}
	return DecodeJSON(res, i)
}

func (c *Client) path(path string) string {
	if c.basePath != "" {
		return c.basePath + "/" + strings.TrimPrefix(path, "/")
	}
	return path
}

// NewRequest returns a new *http.Request to the server and the specified
// path. The host, scheme, etc, of the specified path are ignored.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader, opts *Options) (*http.Request, error) {
	fullPath := c.path(path)
	reqPath, err := url.Parse(fullPath)
	if err != nil {
		return nil, &internal.Error{Status: http.StatusBadRequest, Err: err}
	}
	u := *c.dsn // Make a copy
	u.Path = reqPath.Path
	u.RawQuery = reqPath.RawQuery
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &internal.Error{Status: http.StatusBadRequest, Err: err}
	}
	req.Header.Add("User-Agent", c.userAgent())
	return req, nil
}

// DoReq does an HTTP request. An error is returned only if there was an error
// processing the request. In particular, an error status code, such as 400
// or 500, does _not_ cause an error to be returned.
func (c *Client) DoReq(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	if method == "" {
		return nil, errors.New("chttp: method required")
	}
	var body io.Reader
	if opts != nil {
		if opts.GetBody != nil {
			var err error
			opts.Body, err = opts.GetBody()
			if err != nil {
				return nil, err
			}
		}
		if opts.Body != nil {
			body = opts.Body
			defer opts.Body.Close() // nolint: errcheck
		}
	}
	req, err := c.NewRequest(ctx, method, path, body, opts)
	if err != nil {
		return nil, err
	}
	fixPath(req, path)
	setHeaders(req, opts)
	setQuery(req, opts)
	if opts != nil {
		req.GetBody = opts.GetBody
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Msg("sending request")

	response, err := c.Do(req)
	if response != nil {
		c.logger.Debug().
			Str("method", method).
			Str("path", req.URL.Path).
			Int("status", response.StatusCode).
			Msg("received response")
	}
	return response, netError(err)
}

func netError(err error) error {
	if err == nil {
		return nil
	}
	if urlErr, ok := err.(*url.Error); ok {
		// If the error was generated by the body encoder, it may carry an
		// embedded status code, which should be honored.
		status := internal.HTTPStatus(urlErr.Err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		return &internal.Error{Status: status, Err: err}
	}
	if status := internal.HTTPStatus(err); status != http.StatusInternalServerError {
		return err
	}
	return &internal.Error{Status: http.StatusBadGateway, Err: err}
}

// fixPath sets the request's URL.RawPath to work with escaped characters in
// paths.
func fixPath(req *http.Request, path string) {
	// Remove any query parameters
	parts := strings.SplitN(path, "?", 2)
	req.URL.RawPath = "/" + strings.TrimPrefix(parts[0], "/")
}

// BodyEncoder returns a function which returns the encoded body. It is meant
// to be used as a http.Request.GetBody value, so the body can be regenerated
// when a request is replayed.
func BodyEncoder(i interface{}) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return EncodeBody(i)
	}
}

// EncodeBody JSON encodes i to an io.ReadCloser. Strings, byte slices and
// json.RawMessage values are passed through unaltered.
func EncodeBody(i interface{}) (io.ReadCloser, error) {
	switch t := i.(type) {
	case io.ReadCloser:
		return t, nil
	case []byte:
		return io.NopCloser(bytes.NewReader(t)), nil
	case json.RawMessage:
		return io.NopCloser(bytes.NewReader(t)), nil
	case string:
		return io.NopCloser(strings.NewReader(t)), nil
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(i); err != nil {
		return nil, &internal.Error{Status: http.StatusBadRequest, Err: err}
	}
	return io.NopCloser(buf), nil
}

func setHeaders(req *http.Request, opts *Options) {
	accept := typeJSON
	contentType := typeJSON
	if opts != nil {
		if opts.Accept != "" {
			accept = opts.Accept
		}
		if opts.ContentType != "" {
			contentType = opts.ContentType
		}
		if opts.IfNoneMatch != "" {
			inm := "\"" + strings.Trim(opts.IfNoneMatch, "\"") + "\""
			req.Header.Set("If-None-Match", inm)
		}
		if opts.ContentLength != 0 {
			req.ContentLength = opts.ContentLength
		}
		for k, v := range opts.Header {
			if _, ok := req.Header[k]; !ok {
				req.Header[k] = v
			}
		}
	}
	req.Header.Add("Accept", accept)
	req.Header.Add("Content-Type", contentType)
}

func setQuery(req *http.Request, opts *Options) {
	if opts == nil || len(opts.Query) == 0 {
		return
	}
	if req.URL.RawQuery == "" {
		req.URL.RawQuery = opts.Query.Encode()
		return
	}
	req.URL.RawQuery = strings.Join([]string{req.URL.RawQuery, opts.Query.Encode()}, "&")
}

// DoError is the same as DoReq, followed by checking the response error. This
// method is meant for cases where the only information needed from the
// response is the status code. It unconditionally closes the response body.
func (c *Client) DoError(ctx context.Context, method, path string, opts *Options) (*http.Response, error) {
	res, err := c.DoReq(ctx, method, path, opts)
	if err != nil {
		return res, err
	}
	if res.Body != nil {
		defer CloseBody(res.Body)
	}
	err = ResponseError(res)
	return res, err
}

// ETag returns the unquoted ETag value, and a bool indicating whether it was
// found.
func ETag(resp *http.Response) (string, bool) {
	if resp == nil {
		return "", false
	}
	etag, ok := resp.Header["Etag"]
	if !ok {
		etag, ok = resp.Header["ETag"] // nolint: staticcheck
	}
	if !ok {
		return "", false
	}
	return strings.Trim(etag[0], `"`), ok
}

// GetRev extracts the document revision from the response's ETag header, or
// from the response body when the header is absent.
func GetRev(resp *http.Response) (string, error) {
	if err := ResponseError(resp); err != nil {
		return "", err
	}
	if rev, ok := ETag(resp); ok {
		return rev, nil
	}
	return extractRev(resp)
}

// extractRev reads the response body looking for a _rev field. CouchDB tends
// to send _id and _rev first, so normally only a few bytes are consumed. The
// consumed prefix is restored so the body can still be decoded in full.
func extractRev(resp *http.Response) (string, error) {
	if resp == nil || resp.Request == nil || resp.Request.Method == http.MethodHead {
		return "", errors.New("unable to determine document revision")
	}
	buf := &bytes.Buffer{}
	r := io.TeeReader(resp.Body, buf)
	defer func() {
		resp.Body = struct {
			io.Reader
			io.Closer
		}{
			Reader: io.MultiReader(buf, resp.Body),
			Closer: resp.Body,
		}
	}()
	rev, err := readRev(r)
	if err != nil {
		return "", fmt.Errorf("unable to determine document revision: %w", err)
	}
	return rev, nil
}

// readRev searches r for a `_rev` field, and returns its value without
// reading the rest of the JSON stream.
func readRev(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	tk, err := dec.Token()
	if err != nil {
		return "", err
	}
	if tk != json.Delim('{') {
		return "", fmt.Errorf("expected %q token, found %q", '{', tk)
	}
	for dec.More() {
		tk, err = dec.Token()
		if err != nil {
			return "", err
		}
		if tk == "_rev" {
			tk, err = dec.Token()
			if err != nil {
				return "", err
			}
			if value, ok := tk.(string); ok {
				return value, nil
			}
			return "", fmt.Errorf("found %q in place of _rev value", tk)
		}
	}

	return "", errors.New("_rev key not found in response body")
}

func (c *Client) userAgent() string {
	ua := fmt.Sprintf("%s/%s (Language=%s; Platform=%s/%s)",
		UserAgent, Version, runtime.Version(), runtime.GOARCH, runtime.GOOS)
	return strings.Join(append([]string{ua}, c.UserAgents...), " ")
}
