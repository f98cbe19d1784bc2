// Package server accepts webhook connections and runs one Session per
// connection on its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// Config controls connection handling.
type Config struct {
	Address      string
	KeepAlive    bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64
}

// Listener owns the listening socket and the set of live sessions.
type Listener struct {
	ln      net.Listener
	handler http.Handler
	cfg     Config
	logger  *zap.Logger

	draining atomic.Bool
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// Listen binds cfg.Address with address reuse enabled.
func Listen(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	return &Listener{
		ln:       ln,
		handler:  handler,
		cfg:      cfg,
		logger:   logger.Named("listener"),
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Addr reports the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is done or Shutdown is called, in which
// case it returns nil.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		l.drain()
		_ = l.ln.Close()
	})
	defer stop()

	l.logger.Info("accepting connections", zap.String("addr", l.Addr().String()))
	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.draining.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if !transient(err) {
				return fmt.Errorf("accept: %w", err)
			}
			delay = nextBackoff(delay)
			l.logger.Warn("accept failed; retrying", zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s := newSession(conn, l.handler, l.cfg, l.draining.Load, l.logger)
		if !l.track(s) {
			// Accepted while Shutdown ran.
			_ = conn.Close()
			return nil
		}
		go func() {
			defer l.wg.Done()
			defer l.untrack(s)
			s.Serve(ctx)
		}()
	}
}

// Shutdown stops accepting, closes idle sessions and waits for in-flight ones
// until ctx expires, after which the remaining connections are closed.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.drain()
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.logger.Warn("close listener", zap.Error(err))
	}
	l.closeIdle()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for s := range l.sessions {
			s.forceClose()
		}
		l.mu.Unlock()
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// ActiveSessions reports how many sessions are currently open.
func (l *Listener) ActiveSessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// drain flips the listener into draining. Holding mu orders it against track,
// so no session is added to wg once Shutdown may be waiting on it.
func (l *Listener) drain() {
	l.mu.Lock()
	l.draining.Store(true)
	l.mu.Unlock()
}

// track registers s unless the listener is draining.
func (l *Listener) track(s *Session) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.draining.Load() {
		return false
	}
	l.sessions[s] = struct{}{}
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(s *Session) {
	l.mu.Lock()
	delete(l.sessions, s)
	l.mu.Unlock()
}

func (l *Listener) closeIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for s := range l.sessions {
		s.closeIfIdle()
	}
}

func transient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var temp interface{ Temporary() bool }
	return errors.As(err, &temp) && temp.Temporary()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return acceptBackoffMin
	}
	d *= 2
	if d > acceptBackoffMax {
		return acceptBackoffMax
	}
	return d
}
