package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/media"
	"github.com/JakeFAU/sipeto/internal/metrics"
	"github.com/JakeFAU/sipeto/internal/router"
	"github.com/JakeFAU/sipeto/internal/telegram"
)

// UpdateRouter handles a decoded webhook update. *router.Router implements it.
type UpdateRouter interface {
	Route(ctx context.Context, u telegram.Update) (router.Outcome, error)
}

// Options wires the route table.
type Options struct {
	// Token is the bot token; updates arrive at "/" + Token.
	Token  string
	Router UpdateRouter
	// Ledger backs /v1/downloads. Nil answers 503 there.
	Ledger media.DownloadLedger
	// Ready reports readiness for /readyz. Nil is always ready.
	Ready func(ctx context.Context) error
	// Fallback serves unmatched requests. Nil reverses the request body.
	Fallback http.Handler
	Logger   *zap.Logger
}

type server struct {
	opts   Options
	logger *zap.Logger
}

// Routes builds the handler for all inbound requests.
func Routes(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	if opts.Fallback == nil {
		opts.Fallback = http.HandlerFunc(reverseBody)
	}
	s := &server{opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	downloads := NewDownloadHandler(opts.Ledger, logger)
	r.Route("/v1/downloads", func(r chi.Router) {
		r.Get("/", downloads.ListDownloads)
		r.Get("/{download_id}", downloads.GetDownload)
	})

	// A parameter route keeps the token out of the route label used by metrics.
	r.HandleFunc("/{token}", s.webhook)
	r.NotFound(opts.Fallback.ServeHTTP)
	r.MethodNotAllowed(opts.Fallback.ServeHTTP)
	return r
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) webhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token == "" || chi.URLParam(r, "token") != s.opts.Token {
		s.opts.Fallback.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	update, err := telegram.ParseUpdate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if s.opts.Router == nil {
		writeError(w, http.StatusServiceUnavailable, "router unavailable")
		return
	}
	out, err := s.opts.Router.Route(r.Context(), update)
	if err != nil {
		if errors.Is(err, router.ErrSubmit) {
			// Telegram redelivers on non-2xx.
			writeError(w, http.StatusServiceUnavailable, "busy")
			return
		}
		s.logger.Error("route update failed", zap.Int64("update_id", update.UpdateID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.logger.Debug("update routed",
		zap.Int64("update_id", update.UpdateID),
		zap.String("type", out.Type),
		zap.String("action", string(out.Action)),
	)
	w.WriteHeader(http.StatusOK)
}

// reverseBody echoes the request body with its characters reversed.
func reverseBody(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	runes := []rune(string(body))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, string(runes))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
