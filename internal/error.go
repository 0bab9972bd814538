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

// Package internal provides the error type shared between the cloudant and
// chttp packages.
package internal

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error returned by the library. Each error is associated
// with an HTTP status code, either the code returned by the server, or the
// code that best describes a client-side failure.
type Error struct {
	// Status is the HTTP status associated with this error.
	Status int

	// Message is a human-readable message. When set, it is used in place of
	// the wrapped error's message.
	Message string

	// Err is the wrapped error, if any.
	Err error
}

type statusCoder interface {
	HTTPStatus() int
}

var (
	_ error       = (*Error)(nil)
	_ statusCoder = (*Error)(nil)
)

func (e *Error) Error() string {
	if e.Err == nil {
		return e.msg()
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) msg() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
}

// HTTPStatus returns the HTTP status associated with the error.
func (e *Error) HTTPStatus() int {
	return e.Status
}

// Unwrap satisfies the errors wrapper interface.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code embedded in err, or 500 (internal
// server error) if none is found. A nil error returns 0.
func HTTPStatus(err error) int {
	if err == nil {
		return 0
	}
	var coder statusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	return http.StatusInternalServerError
}
