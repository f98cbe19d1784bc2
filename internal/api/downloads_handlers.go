package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/media"
)

const (
	defaultDownloadLimit = 50
	maxDownloadLimit     = 500
	ledgerTimeout        = 3 * time.Second
)

// DownloadHandler exposes read-only download ledger endpoints.
type DownloadHandler struct {
	ledger  media.DownloadLedger
	timeout time.Duration
	logger  *zap.Logger
}

// NewDownloadHandler wires the ledger and logger.
func NewDownloadHandler(ledger media.DownloadLedger, logger *zap.Logger) *DownloadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandler{
		ledger:  ledger,
		timeout: ledgerTimeout,
		logger:  logger,
	}
}

// ListDownloads handles GET /v1/downloads?platform=&limit=&offset=. It returns
// {"downloads": [...]} on success, 400 for invalid filters, 503 when no ledger
// is configured, or 500 if the ledger call fails.
func (h *DownloadHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "download ledger unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultDownloadLimit, maxDownloadLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	platform, err := parsePlatform(r.URL.Query().Get("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	recs, err := h.ledger.ListDownloads(ctx, media.DownloadQuery{Platform: platform, Limit: limit, Offset: offset})
	if err != nil {
		h.logger.Error("list downloads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list downloads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"downloads": toDownloadDTOs(recs),
	})
}

// GetDownload handles GET /v1/downloads/{download_id}. It returns
// {"download": {...}} on success, 404 when the ledger reports
// media.ErrNotFound, 503 without a ledger, or 500 otherwise.
func (h *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "download ledger unavailable")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "download_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "download_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.ledger.GetDownload(ctx, id)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			writeError(w, http.StatusNotFound, "download not found")
			return
		}
		h.logger.Error("get download failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load download")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"download": toDownloadDTO(rec)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parsePlatform(input string) (media.Platform, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "":
		return "", nil
	case "instagram":
		return media.PlatformInstagram, nil
	case "twitter", "x":
		return media.PlatformTwitter, nil
	case "tiktok":
		return media.PlatformTikTok, nil
	default:
		return "", errors.New("invalid platform")
	}
}

func toDownloadDTOs(in []media.DownloadRecord) []downloadDTO {
	out := make([]downloadDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, toDownloadDTO(rec))
	}
	return out
}

func toDownloadDTO(rec media.DownloadRecord) downloadDTO {
	return downloadDTO{
		ID:           rec.ID,
		JobID:        rec.JobID,
		Platform:     string(rec.Platform),
		MediaID:      rec.MediaID,
		MediaType:    rec.MediaType,
		SourceURL:    rec.SourceURL,
		Location:     rec.Location,
		ContentType:  rec.ContentType,
		Bytes:        rec.Bytes,
		SHA256:       rec.SHA256,
		DownloadedAt: rec.DownloadedAt,
	}
}

// chat ids stay out of the API.
type downloadDTO struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Platform     string    `json:"platform"`
	MediaID      string    `json:"media_id"`
	MediaType    string    `json:"media_type"`
	SourceURL    string    `json:"source_url"`
	Location     string    `json:"location"`
	ContentType  string    `json:"content_type,omitempty"`
	Bytes        int64     `json:"bytes"`
	SHA256       string    `json:"sha256,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`
}
