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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-cloudant/cloudant/internal"
)

// Options is a collection of query options, as documented in the CouchDB
// query reference. Keys which take JSON values (startkey, endkey, key, keys,
// doc_ids) are JSON-encoded automatically.
type Options map[string]interface{}

// clone returns a shallow copy, so that per-request additions don't leak
// into the caller's map.
func (o Options) clone() Options {
	clone := make(Options, len(o)+4)
	for k, v := range o {
		clone[k] = v
	}
	return clone
}

// jsonKeys are the query parameters which the server expects as JSON values.
var jsonKeys = []string{"endkey", "end_key", "key", "startkey", "start_key", "keys", "doc_ids"}

// encodeKey encodes a key for a view query, or similar, to be passed to the
// server.
func encodeKey(i interface{}) (string, error) {
	if raw, ok := i.(json.RawMessage); ok {
		return string(raw), nil
	}
	raw, err := json.Marshal(i)
	if err != nil {
		err = &internal.Error{Status: http.StatusBadRequest, Err: err}
	}
	return string(raw), err
}

func optionsToParams(opts Options) (url.Values, error) {
	params := url.Values{}
	for key, i := range opts {
		var values []string
		isJSON := false
		for _, jk := range jsonKeys {
			if key == jk {
				isJSON = true
				break
			}
		}
		if isJSON {
			value, err := encodeKey(i)
			if err != nil {
				return nil, err
			}
			values = []string{value}
		} else {
			switch v := i.(type) {
			case string:
				values = []string{v}
			case []string:
				values = v
			case bool:
				values = []string{fmt.Sprintf("%t", v)}
			case int, uint, uint8, uint16, uint32, uint64, int8, int16, int32, int64:
				values = []string{fmt.Sprintf("%d", v)}
			default:
				return nil, &internal.Error{Status: http.StatusBadRequest, Err: fmt.Errorf("cloudant: invalid type %T for option %q", i, key)}
			}
		}
		for _, value := range values {
			params.Add(key, value)
		}
	}
	return params, nil
}
