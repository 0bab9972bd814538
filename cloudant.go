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
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-cloudant/cloudant/chttp"
)

// Client is a connection handle to a CouchDB or Cloudant server.
type Client struct {
	conn *chttp.Client
}

type clientOptions struct {
	httpClient *http.Client
	auth       chttp.Authenticator
	retry      *chttp.Replay429
	logger     *zerolog.Logger
	userAgents []string
}

// Option configures the client returned by [New].
type Option func(*clientOptions)

// WithHTTPClient sets the underlying HTTP client. The default is a fresh
// [http.Client].
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithAuthenticator sets an explicit authenticator, overriding any
// credentials found in the DSN.
func WithAuthenticator(a chttp.Authenticator) Option {
	return func(o *clientOptions) {
		o.auth = a
	}
}

// WithBasicAuth enables HTTP basic authentication.
func WithBasicAuth(username, password string) Option {
	return WithAuthenticator(&chttp.BasicAuth{Username: username, Password: password})
}

// WithIAM enables IBM Cloud IAM authentication with the provided API key.
func WithIAM(apiKey string) Option {
	return WithAuthenticator(&chttp.IAMAuth{APIKey: apiKey})
}

// WithRetry installs a [chttp.Replay429] transport which replays requests
// rejected with HTTP 429, sleeping initialBackoff before the first retry and
// doubling the delay for each subsequent one. After retries attempts the
// last 429 response is returned to the caller.
func WithRetry(retries int, initialBackoff time.Duration) Option {
	return func(o *clientOptions) {
		o.retry = &chttp.Replay429{
			Retries:        retries,
			InitialBackoff: initialBackoff,
			Logger:         zerolog.Nop(),
		}
	}
}

// WithLogger enables request and retry debug logging.
func WithLogger(lg zerolog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = &lg
	}
}

// WithUserAgent appends user agent strings to the User-Agent header.
func WithUserAgent(ua ...string) Option {
	return func(o *clientOptions) {
		o.userAgents = append(o.userAgents, ua...)
	}
}

// New returns a client connected to the server at dsn. Credentials embedded
// in the DSN enable cookie authentication.
func New(dsn string, options ...Option) (*Client, error) {
	o := &clientOptions{}
	for _, opt := range options {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{}
	}
	if o.auth != nil {
		// An explicit authenticator wins over DSN credentials, which would
		// otherwise install cookie auth.
		dsn = stripCredentials(dsn)
	}
	conn, err := chttp.New(o.httpClient, dsn)
	if err != nil {
		return nil, err
	}
	if o.auth != nil {
		if err := conn.Auth(o.auth); err != nil {
			return nil, err
		}
	}
	if o.logger != nil {
		conn.SetLogger(*o.logger)
	}
	if o.retry != nil {
		if o.logger != nil {
			o.retry.Logger = *o.logger
		}
		// The replay transport wraps whatever transport the authenticator
		// installed, so authentication requests are replayed too.
		if err := o.retry.Authenticate(conn); err != nil {
			return nil, err
		}
	}
	conn.UserAgents = o.userAgents
	return &Client{conn: conn}, nil
}

// stripCredentials removes any userinfo from the DSN. Malformed DSNs are
// returned unchanged, to be rejected by the connection parser.
func stripCredentials(dsn string) string {
	addr := dsn
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.User == nil {
		return dsn
	}
	u.User = nil
	return u.String()
}

// DSN returns the unparsed DSN used to connect.
func (c *Client) DSN() string {
	return c.conn.DSN()
}

// DB returns a handle to the named database. No request is sent; use
// [DB.Exists] to verify the database exists.
func (c *Client) DB(name string) *DB {
	return &DB{client: c, name: name}
}
