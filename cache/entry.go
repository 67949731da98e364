package cache

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Entry is a captured response.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// NewEntry captures resp with an already-read body. The header map is copied.
func NewEntry(resp *http.Response, body []byte) *Entry {
	return &Entry{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}
}

// OK reports whether the captured status is in the 2xx range.
func (e *Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Storable reports whether the entry is a complete response that may be
// written back. Partial content and other non-200 successes are not.
func (e *Entry) Storable() bool {
	return e.Status == http.StatusOK
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		Status:   e.Status,
		Header:   e.Header.Clone(),
		Body:     bytes.Clone(e.Body),
		StoredAt: e.StoredAt,
	}
}

// Response builds a fresh *http.Response for req from the entry. Each call
// gets its own body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
