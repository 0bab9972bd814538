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
	"io"
	"net/http"

	"github.com/go-cloudant/cloudant/chttp"
	"github.com/go-cloudant/cloudant/internal"
)

// Attachment represents a file attachment on a document.
type Attachment struct {
	Filename    string
	ContentType string
	// Digest is the content hash reported by the server, as found in the
	// ETag header.
	Digest string
	Size   int64
	// Content is the attachment body. It is the caller's responsibility to
	// close it.
	Content io.ReadCloser
}

// GetAttachment fetches the named attachment from the document.
func (d *DB) GetAttachment(ctx context.Context, docID, filename string, opts Options) (*Attachment, error) {
	resp, err := d.fetchAttachment(ctx, http.MethodGet, docID, filename, opts)
	if err != nil {
		return nil, err
	}
	return decodeAttachment(resp, filename)
}

// GetAttachmentMeta fetches the attachment's metadata with a HEAD request.
// The returned attachment has no content.
func (d *DB) GetAttachmentMeta(ctx context.Context, docID, filename string, opts Options) (*Attachment, error) {
	resp, err := d.fetchAttachment(ctx, http.MethodHead, docID, filename, opts)
	if err != nil {
		return nil, err
	}
	att, err := decodeAttachment(resp, filename)
	if err != nil {
		return nil, err
	}
	chttp.CloseBody(att.Content)
	att.Content = nil
	return att, nil
}

func (d *DB) fetchAttachment(ctx context.Context, method, docID, filename string, opts Options) (*http.Response, error) {
	if docID == "" {
		return nil, missingArg("docID")
	}
	if filename == "" {
		return nil, missingArg("filename")
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.conn.DoReq(ctx, method, d.attPath(docID, filename), &chttp.Options{Query: query})
	if err != nil {
		return nil, err
	}
	return resp, chttp.ResponseError(resp)
}

func decodeAttachment(resp *http.Response, filename string) (*Attachment, error) {
	if _, ok := resp.Header["Content-Type"]; !ok {
		return nil, &internal.Error{Status: http.StatusBadGateway, Message: "no Content-Type in response"}
	}
	digest, _ := chttp.ETag(resp)
	return &Attachment{
		Filename:    filename,
		ContentType: resp.Header.Get("Content-Type"),
		Digest:      digest,
		Size:        resp.ContentLength,
		Content:     resp.Body,
	}, nil
}

// PutAttachment uploads the attachment to the document, and returns the new
// document revision. To attach to an existing document, the rev option must
// carry its current revision.
func (d *DB) PutAttachment(ctx context.Context, docID string, att *Attachment, opts Options) (newRev string, err error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if att == nil {
		return "", missingArg("att")
	}
	if att.Filename == "" {
		return "", missingArg("att.Filename")
	}
	if att.Content == nil {
		return "", missingArg("att.Content")
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return "", err
	}
	chttpOpts := &chttp.Options{
		Query:       query,
		Body:        att.Content,
		ContentType: att.ContentType,
	}
	var result struct {
		Rev string `json:"rev"`
	}
	err = d.client.conn.DoJSON(ctx, http.MethodPut, d.attPath(docID, att.Filename), chttpOpts, &result)
	return result.Rev, err
}

// DeleteAttachment removes the named attachment, and returns the new document
// revision. The rev option is required.
func (d *DB) DeleteAttachment(ctx context.Context, docID, filename string, opts Options) (newRev string, err error) {
	if docID == "" {
		return "", missingArg("docID")
	}
	if filename == "" {
		return "", missingArg("filename")
	}
	if rev, _ := opts["rev"].(string); rev == "" {
		return "", missingArg("rev")
	}
	query, err := optionsToParams(opts)
	if err != nil {
		return "", err
	}
	var result struct {
		Rev string `json:"rev"`
	}
	err = d.client.conn.DoJSON(ctx, http.MethodDelete, d.attPath(docID, filename), &chttp.Options{Query: query}, &result)
	return result.Rev, err
}

func (d *DB) attPath(docID, filename string) string {
	return d.path(chttp.EncodeDocID(docID) + "/" + filename)
}
