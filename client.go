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
	"net/http"
	"net/url"
	"strings"

	"github.com/go-cloudant/cloudant/chttp"
)

// ServerVersion represents the response to GET /.
type ServerVersion struct {
	Version  string          `json:"version"`
	Vendor   json.RawMessage `json:"vendor"`
	Features []string        `json:"features"`
}

// Version returns the server's version info.
func (c *Client) Version(ctx context.Context) (*ServerVersion, error) {
	ver := new(ServerVersion)
	if err := c.conn.DoJSON(ctx, http.MethodGet, "/", nil, ver); err != nil {
		return nil, err
	}
	return ver, nil
}

// Ping returns true if the server is up.
func (c *Client) Ping(ctx context.Context) (bool, error) {
	resp, err := c.conn.DoError(ctx, http.MethodHead, "/_up", nil)
	if HTTPStatus(err) == http.StatusBadRequest {
		// CouchDB 1.x has no _up endpoint
		return strings.HasPrefix(resp.Header.Get("Server"), "CouchDB/1."), nil
	}
	if HTTPStatus(err) == http.StatusNotFound {
		return false, nil
	}
	return err == nil, err
}

// AllDBs returns a list of all databases on the server.
func (c *Client) AllDBs(ctx context.Context, opts Options) ([]string, error) {
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	var allDBs []string
	err = c.conn.DoJSON(ctx, http.MethodGet, "/_all_dbs", &chttp.Options{Query: query}, &allDBs)
	return allDBs, err
}

// DBExists returns true if the named database exists.
func (c *Client) DBExists(ctx context.Context, dbName string) (bool, error) {
	if dbName == "" {
		return false, missingArg("dbName")
	}
	_, err := c.conn.DoError(ctx, http.MethodHead, url.PathEscape(dbName), nil)
	if HTTPStatus(err) == http.StatusNotFound {
		return false, nil
	}
	return err == nil, err
}

// CreateDB creates the named database, and returns a handle to it.
func (c *Client) CreateDB(ctx context.Context, dbName string, opts Options) (*DB, error) {
	if dbName == "" {
		return nil, missingArg("dbName")
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	if _, err := c.conn.DoError(ctx, http.MethodPut, url.PathEscape(dbName), &chttp.Options{Query: query}); err != nil {
		return nil, err
	}
	return c.DB(dbName), nil
}

// DestroyDB deletes the named database.
func (c *Client) DestroyDB(ctx context.Context, dbName string) error {
	if dbName == "" {
		return missingArg("dbName")
	}
	_, err := c.conn.DoError(ctx, http.MethodDelete, url.PathEscape(dbName), nil)
	return err
}

// Session represents an authentication session, as returned by GET /_session.
type Session struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	// AuthenticationMethod is the method used for this session, e.g.
	// "cookie" or "basic".
	AuthenticationMethod string `json:"authentication_method"`
	// AuthenticationHandlers is the list of methods the server supports.
	AuthenticationHandlers []string `json:"authentication_handlers"`
}

// Session returns the session for the currently authenticated user.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	var body struct {
		OK      bool     `json:"ok"`
		UserCtx *Session `json:"userCtx"`
		Info    struct {
			AuthenticationMethod   string   `json:"authenticated"`
			AuthenticationHandlers []string `json:"authentication_handlers"`
		} `json:"info"`
	}
	if err := c.conn.DoJSON(ctx, http.MethodGet, "/_session", nil, &body); err != nil {
		return nil, err
	}
	session := body.UserCtx
	if session == nil {
		session = &Session{}
	}
	session.AuthenticationMethod = body.Info.AuthenticationMethod
	session.AuthenticationHandlers = body.Info.AuthenticationHandlers
	return session, nil
}

// ClusterMembership represents the response to GET /_membership.
type ClusterMembership struct {
	AllNodes     []string `json:"all_nodes"`
	ClusterNodes []string `json:"cluster_nodes"`
}

// Membership returns the list of nodes that are part of the cluster.
func (c *Client) Membership(ctx context.Context) (*ClusterMembership, error) {
	membership := new(ClusterMembership)
	if err := c.conn.DoJSON(ctx, http.MethodGet, "/_membership", nil, membership); err != nil {
		return nil, err
	}
	return membership, nil
}

// DBUpdates returns a feed of database events on the server. See [DB.Changes]
// for the supported options.
func (c *Client) DBUpdates(ctx context.Context, opts Options) (*Feed, error) {
	return newFeed(ctx, c.conn, "/_db_updates", opts)
}
