package server

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// responseBuffer collects a handler's response so the session can serialize it
// with an exact Content-Length.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header)}
}

func (r *responseBuffer) Header() http.Header {
	return r.header
}

func (r *responseBuffer) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *responseBuffer) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *responseBuffer) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// response builds the wire response. req may be nil for errors raised before a
// request was parsed.
func (r *responseBuffer) response(req *http.Request, keepAlive bool) *http.Response {
	h := r.header.Clone()
	body := r.body.Bytes()
	if h.Get("Content-Type") == "" && len(body) > 0 {
		h.Set("Content-Type", http.DetectContentType(body))
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if keepAlive {
		h.Set("Connection", "keep-alive")
	} else {
		h.Set("Connection", "close")
	}

	code := r.statusCode()
	return &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Close:         !keepAlive,
		Request:       req,
	}
}
