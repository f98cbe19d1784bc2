package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/metrics"
)

// SessionState is the position of a Session in its request cycle.
type SessionState int32

// Session states. A kept-alive session cycles back to StateIdle after writing.
const (
	StateIdle SessionState = iota
	StateReading
	StateDispatched
	StateWriting
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateDispatched:
		return "dispatched"
	case StateWriting:
		return "writing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrMalformedRequest is returned for request lines or headers that cannot be served.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrBodyTooLarge is returned when a request body exceeds Config.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("request body too large")
)

const (
	lingerTimeout  = 500 * time.Millisecond
	lingerMaxBytes = 256 << 10
)

var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// Session serves HTTP/1.x requests on one connection, strictly one at a time.
type Session struct {
	conn     net.Conn
	br       *bufio.Reader
	bw       *bufio.Writer
	handler  http.Handler
	cfg      Config
	draining func() bool
	logger   *zap.Logger

	state  atomic.Int32
	served int
}

func newSession(conn net.Conn, handler http.Handler, cfg Config, draining func() bool, logger *zap.Logger) *Session {
	if draining == nil {
		draining = func() bool { return false }
	}
	return &Session{
		conn:     conn,
		br:       bufio.NewReader(conn),
		bw:       bufio.NewWriter(conn),
		handler:  handler,
		cfg:      cfg,
		draining: draining,
		logger:   logger.Named("session").With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

// State reports the current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Serve runs the request loop until the connection closes. Handler requests
// carry a context detached from ctx's cancellation so shutdown can drain them.
func (s *Session) Serve(ctx context.Context) {
	metrics.SessionOpened()
	defer metrics.SessionClosed()
	defer s.forceClose()

	base := context.WithoutCancel(ctx)
	for {
		if !s.awaitRequest() {
			return
		}
		req, body, err := s.readRequest()
		if err != nil {
			s.fail(err)
			return
		}
		if !s.state.CompareAndSwap(int32(StateReading), int32(StateDispatched)) {
			return
		}

		resp, panicked := s.dispatch(base, req, body)
		keepAlive := !panicked && s.keepAlive(req, resp)

		s.state.Store(int32(StateWriting))
		if err := s.write(req, resp, keepAlive); err != nil {
			s.logger.Debug("write response", zap.Error(err))
			return
		}
		s.served++
		if !keepAlive {
			s.closeWrite()
			return
		}
	}
}

// awaitRequest parks in StateIdle until the first byte of a request arrives.
func (s *Session) awaitRequest() bool {
	s.state.Store(int32(StateIdle))
	if s.served > 0 && s.draining() {
		return false
	}
	timeout := s.cfg.ReadTimeout
	if s.served > 0 {
		timeout = s.cfg.IdleTimeout
	}
	s.setReadDeadline(timeout)
	if _, err := s.br.Peek(1); err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("waiting for request", zap.Error(err))
		}
		return false
	}
	// Shutdown may have claimed an idle session in the meantime.
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateReading)) {
		return false
	}
	s.setReadDeadline(s.cfg.ReadTimeout)
	return true
}

func (s *Session) readRequest() (*http.Request, []byte, error) {
	req, err := http.ReadRequest(s.br)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil, fmt.Errorf("read request: %w", err)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if req.RequestURI == "" || req.URL == nil {
		return nil, nil, fmt.Errorf("%w: empty target", ErrMalformedRequest)
	}
	if _, ok := knownMethods[req.Method]; !ok {
		return nil, nil, fmt.Errorf("%w: method %q", ErrMalformedRequest, req.Method)
	}

	limit := s.cfg.MaxBodyBytes
	if limit > 0 && req.ContentLength > limit {
		return nil, nil, fmt.Errorf("%w: content-length %d", ErrBodyTooLarge, req.ContentLength)
	}
	var r io.Reader = req.Body
	if limit > 0 {
		r = io.LimitReader(req.Body, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return req, body, nil
}

func (s *Session) fail(err error) {
	var status int
	switch {
	case errors.Is(err, ErrMalformedRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrBodyTooLarge):
		status = http.StatusRequestEntityTooLarge
	default:
		s.logger.Debug("session dropped", zap.Error(err))
		return
	}
	s.logger.Debug("rejecting request", zap.Int("status", status), zap.Error(err))
	s.state.Store(int32(StateWriting))
	resp := newResponseBuffer()
	resp.Header().Set("Content-Type", "text/plain; charset=utf-8")
	resp.WriteHeader(status)
	_, _ = resp.Write([]byte(http.StatusText(status) + "\n"))
	if werr := s.write(nil, resp, false); werr != nil {
		s.logger.Debug("write error response", zap.Error(werr))
		return
	}
	s.closeWrite()
}

func (s *Session) dispatch(ctx context.Context, req *http.Request, body []byte) (resp *responseBuffer, panicked bool) {
	resp = newResponseBuffer()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("handler panic", zap.Any("panic", rec), zap.Stack("stack"))
			resp = newResponseBuffer()
			resp.WriteHeader(http.StatusInternalServerError)
			_, _ = resp.Write([]byte(http.StatusText(http.StatusInternalServerError) + "\n"))
			panicked = true
		}
	}()

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.RemoteAddr = s.conn.RemoteAddr().String()
	s.handler.ServeHTTP(resp, req.WithContext(ctx))
	return resp, false
}

func (s *Session) keepAlive(req *http.Request, resp *responseBuffer) bool {
	if !s.cfg.KeepAlive || req.Close || s.draining() {
		return false
	}
	return !strings.EqualFold(resp.Header().Get("Connection"), "close")
}

func (s *Session) write(req *http.Request, resp *responseBuffer, keepAlive bool) error {
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	out := resp.response(req, keepAlive)
	if err := out.Write(s.bw); err != nil {
		return fmt.Errorf("serialize response: %w", err)
	}
	if err := s.bw.Flush(); err != nil {
		return fmt.Errorf("flush response: %w", err)
	}
	return nil
}

func (s *Session) setReadDeadline(d time.Duration) {
	if d <= 0 {
		_ = s.conn.SetReadDeadline(time.Time{})
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(d))
}

// closeWrite half-closes the send side so the peer sees EOF after the response,
// then discards unread input for a short while so closing does not reset the
// connection before the peer has read the response.
func (s *Session) closeWrite() {
	cw, ok := s.conn.(interface{ CloseWrite() error })
	if !ok {
		return
	}
	if err := cw.CloseWrite(); err != nil {
		s.logger.Debug("close write", zap.Error(err))
		return
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(s.br, lingerMaxBytes))
}

func (s *Session) closeIfIdle() {
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateClosed)) {
		_ = s.conn.Close()
	}
}

func (s *Session) forceClose() {
	s.state.Store(int32(StateClosed))
	_ = s.conn.Close()
}
