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
	"fmt"
	"net/http"

	"github.com/go-cloudant/cloudant/internal"
)

type cloudantError string

func (e cloudantError) Error() string {
	return string(e)
}

// ErrIndexOutOfRange is returned when a positional access or index slice
// reaches past the end of the result sequence. It is never returned for
// transport or server failures, which carry their own status.
const ErrIndexOutOfRange cloudantError = "cloudant: index out of range"

// ErrInvalidArgument is returned when an access argument or option
// combination is invalid. It is detected before any request is sent.
const ErrInvalidArgument cloudantError = "cloudant: invalid argument"

// invalidArgf wraps ErrInvalidArgument with a description of the offending
// argument.
func invalidArgf(format string, args ...interface{}) error {
	return &internal.Error{
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrInvalidArgument,
	}
}

func missingArg(arg string) error {
	return invalidArgf("cloudant: %s required", arg)
}

// HTTPStatus returns the HTTP status code embedded in the error, 500 for
// errors without one, and 0 for a nil error.
func HTTPStatus(err error) int {
	return internal.HTTPStatus(err)
}

// IsNotFound returns true if the error is the result of an HTTP 404/Not
// Found response.
func IsNotFound(err error) bool {
	return internal.HTTPStatus(err) == http.StatusNotFound
}

// IsConflict returns true if the error is the result of an HTTP 409/Conflict
// response.
func IsConflict(err error) bool {
	return internal.HTTPStatus(err) == http.StatusConflict
}

// IsUnauthorized returns true if the error is the result of an HTTP
// 401/Unauthorized response.
func IsUnauthorized(err error) bool {
	return internal.HTTPStatus(err) == http.StatusUnauthorized
}
