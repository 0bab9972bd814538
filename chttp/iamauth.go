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
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/go-cloudant/cloudant/internal"
)

// IAMSessionCookieName is the name of the IBM Cloudant IAM session cookie.
const IAMSessionCookieName = "IAMSession"

// DefaultIAMTokenURL is the IBM Cloud IAM token service endpoint used to
// exchange an API key for an access token.
const DefaultIAMTokenURL = "https://iam.cloud.ibm.com/identity/token"

// IAMAuth provides IBM Cloud Identity and Access Management authentication
// for Cloudant. The API key is exchanged for an access token at the IAM
// token service, and the token is then traded for a session cookie at
// /_iam_session. The session is renewed when the cookie expires or the
// server responds 401.
//
// IAMAuth stores authentication state after use, so should not be re-used.
type IAMAuth struct {
	APIKey string

	// ClientID and ClientSecret, when both set, are sent as basic auth
	// credentials to the token service.
	ClientID     string
	ClientSecret string

	// TokenURL is the IAM token service endpoint. Defaults to
	// [DefaultIAMTokenURL].
	TokenURL string

	client    *Client
	transport http.RoundTripper
}

var (
	_ Authenticator     = (*IAMAuth)(nil)
	_ http.RoundTripper = (*IAMAuth)(nil)
)

func (a *IAMAuth) String() string {
	key := a.APIKey
	const unmaskedLen = 3
	if len(key) > unmaskedLen {
		key = key[:unmaskedLen] + strings.Repeat("*", len(key)-unmaskedLen)
	}
	return "[IAMAuth{apikey:" + key + "}]"
}

// Authenticate installs the IAM session transport on the client.
func (a *IAMAuth) Authenticate(c *Client) error {
	a.client = c
	if c.Jar == nil {
		// cookiejar.New never returns an error
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		c.Jar = jar
	}
	a.transport = c.Transport
	if a.transport == nil {
		a.transport = http.DefaultTransport
	}
	if a.TokenURL == "" {
		a.TokenURL = DefaultIAMTokenURL
	}
	c.Transport = a
	return nil
}

// Cookie returns the current IAM session cookie if found, or nil if not.
func (a *IAMAuth) Cookie() *http.Cookie {
	if a.client == nil {
		return nil
	}
	for _, cookie := range a.client.Jar.Cookies(a.client.dsn) {
		if cookie.Name == IAMSessionCookieName {
			return cookie
		}
	}
	return nil
}

func (a *IAMAuth) shouldAuth(req *http.Request) bool {
	if _, err := req.Cookie(IAMSessionCookieName); err == nil {
		return false
	}
	cookie := a.Cookie()
	if cookie == nil {
		return true
	}
	if !cookie.Expires.IsZero() {
		return cookie.Expires.Before(time.Now().Add(time.Minute))
	}
	return false
}

// RoundTrip fulfills the http.RoundTripper interface. It establishes an IAM
// session before the first request, and re-establishes it when the server
// responds 401.
func (a *IAMAuth) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := a.authenticate(req); err != nil {
		return nil, err
	}

	res, err := a.transport.RoundTrip(req)
	if err != nil {
		return res, err
	}

	if res.StatusCode == http.StatusUnauthorized {
		if cookie := a.Cookie(); cookie != nil {
			// set to expire yesterday to allow us to ditch it
			cookie.Expires = time.Now().AddDate(0, 0, -1)
			a.client.Jar.SetCookies(a.client.dsn, []*http.Cookie{cookie})
		}
	}
	return res, nil
}

func (a *IAMAuth) authenticate(req *http.Request) error {
	ctx := req.Context()
	if inProg, _ := ctx.Value(authInProgress).(bool); inProg {
		return nil
	}
	if !a.shouldAuth(req) {
		return nil
	}
	a.client.authMU.Lock()
	defer a.client.authMU.Unlock()
	if c := a.Cookie(); c != nil {
		req.AddCookie(c)
		return nil
	}
	ctx = context.WithValue(ctx, authInProgress, true)
	if err := a.login(ctx); err != nil {
		return err
	}
	if c := a.Cookie(); c != nil {
		req.AddCookie(c)
	}
	return nil
}

// login exchanges the API key for an access token, then trades the token for
// a session cookie.
func (a *IAMAuth) login(ctx context.Context) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	opts := &Options{
		GetBody: BodyEncoder(map[string]string{"access_token": token}),
	}
	_, err = a.client.DoError(ctx, http.MethodPost, "/_iam_session", opts)
	if err != nil {
		return &internal.Error{Status: internal.HTTPStatus(err), Message: "failed to exchange IAM token with Cloudant", Err: err}
	}
	return nil
}

func (a *IAMAuth) accessToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"urn:ibm:params:oauth:grant-type:apikey"},
		"response_type": {"cloud_iam"},
		"apikey":        {a.APIKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &internal.Error{Status: http.StatusBadRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", typeJSON)
	if a.ClientID != "" && a.ClientSecret != "" {
		req.SetBasicAuth(a.ClientID, a.ClientSecret)
	}
	res, err := a.transport.RoundTrip(req)
	if err != nil {
		return "", &internal.Error{Status: http.StatusBadGateway, Message: "failed to contact IAM token service", Err: err}
	}
	defer CloseBody(res.Body)
	var body struct {
		AccessToken  string `json:"access_token"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", &internal.Error{Status: http.StatusBadGateway, Message: "invalid response from IAM token service", Err: err}
	}
	if res.StatusCode >= 400 {
		msg := body.ErrorMessage
		if msg == "" {
			msg = "failed to contact IAM token service"
		}
		return "", &internal.Error{Status: res.StatusCode, Message: msg}
	}
	if body.AccessToken == "" {
		return "", &internal.Error{Status: http.StatusBadGateway, Message: "invalid response from IAM token service"}
	}
	return body.AccessToken, nil
}
