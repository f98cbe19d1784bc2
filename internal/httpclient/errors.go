package httpclient

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// excerptLimit bounds the body bytes kept on an HTTPError.
const excerptLimit = 512

// HTTPError reports a non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Excerpt    string
}

func (e *HTTPError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Excerpt)
}

func readExcerpt(r io.Reader) string {
	buf := make([]byte, excerptLimit)
	n, _ := io.ReadFull(r, buf)
	b := buf[:n]
	// Do not cut a multi-byte rune in half.
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return strings.TrimSpace(string(b))
}
