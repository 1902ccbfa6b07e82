package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/seriesvault/seriesvault/internal/domain"
	errpkg "github.com/seriesvault/seriesvault/internal/errors"
	"github.com/seriesvault/seriesvault/internal/library"
	"github.com/seriesvault/seriesvault/internal/validation"
)

// DownloadService is the supervisor surface the HTTP layer needs.
type DownloadService interface {
	Start(target, seriesName string) error
	Cancel() error
	Status() domain.StatusPayload
	ResetSession()
}

// ProgressSource feeds the push channel.
type ProgressSource interface {
	Subscribe() (<-chan domain.ProgressSnapshot, func())
}

// MediaLister reads library records.
type MediaLister interface {
	ListMedia(ctx context.Context) ([]domain.MediaMeta, error)
	GetMediaByTitle(ctx context.Context, title, mediaType string) (*domain.MediaMeta, error)
	EpisodeCount(ctx context.Context) (int, error)
}

// LibraryScanner imports existing files into the library.
type LibraryScanner interface {
	Scan(ctx context.Context, dir string) (library.ScanStats, error)
}

// DownloadHandler handles the download, status, and library HTTP routes.
type DownloadHandler struct {
	downloads  DownloadService
	progress   ProgressSource
	media      MediaLister
	scanner    LibraryScanner
	libraryDir string
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewDownloadHandler(
	downloads DownloadService,
	progress ProgressSource,
	media MediaLister,
	scanner LibraryScanner,
	libraryDir string,
	logger *slog.Logger,
) *DownloadHandler {
	return &DownloadHandler{
		downloads:  downloads,
		progress:   progress,
		media:      media,
		scanner:    scanner,
		libraryDir: libraryDir,
		validator:  validator.New(),
		logger:     logger,
	}
}

// StartDownloadRequest is the body of POST /api/download.
type StartDownloadRequest struct {
	URL        string `json:"url" validate:"required,url"`
	SeriesName string `json:"series_name" validate:"omitempty,max=200"`
}

// StartDownload handles POST /api/download.
func (h *DownloadHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateTarget(req.URL); err != nil {
		h.logger.Warn("unsafe download target", "url", req.URL, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.downloads.Start(req.URL, req.SeriesName); err != nil {
		if errors.Is(err, errpkg.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "a download is already running")
			return
		}
		h.logger.Error("failed to start download", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("download started", "url", req.URL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// DownloadStatus handles GET /api/downloads/status.
func (h *DownloadHandler) DownloadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"data": h.downloads.Status(),
	})
}

// CancelDownload handles POST /api/cancel.
func (h *DownloadHandler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.downloads.Cancel(); err != nil {
		if errors.Is(err, errpkg.ErrNoActiveJob) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"ok":      false,
				"message": "no active download",
			})
			return
		}
		h.logger.Error("cancel failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "cancellation requested",
	})
}

// ResetSession handles POST /api/reset, the escape hatch for a stuck slot.
func (h *DownloadHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	h.downloads.ResetSession()
	writeJSON(w, http.StatusOK, map[string]string{"message": "session reset"})
}

// ListMedia handles GET /api/media.
func (h *DownloadHandler) ListMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	media, err := h.media.ListMedia(ctx)
	if err != nil {
		h.logger.Error("failed to list media", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	episodes, err := h.media.EpisodeCount(ctx)
	if err != nil {
		h.logger.Error("failed to count episodes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if media == nil {
		media = []domain.MediaMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"media":    media,
		"episodes": episodes,
	})
}

// MediaDetail handles GET /api/media/detail?title=...&type=... and returns
// the single matching library record.
func (h *DownloadHandler) MediaDetail(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	mediaType := r.URL.Query().Get("type")
	if mediaType == "" {
		mediaType = "series"
	}

	media, err := h.media.GetMediaByTitle(r.Context(), title, mediaType)
	if err != nil {
		if errors.Is(err, errpkg.ErrMediaNotFound) {
			writeError(w, http.StatusNotFound, "media not found")
			return
		}
		h.logger.Error("failed to load media", "title", title, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, media)
}

// ScanLibrary handles POST /api/library/scan. The scan runs in the
// background; results land in the log and the library tables.
func (h *DownloadHandler) ScanLibrary(w http.ResponseWriter, r *http.Request) {
	go func() {
		stats, err := h.scanner.Scan(context.Background(), h.libraryDir)
		if err != nil {
			h.logger.Error("library scan failed", "error", err)
			return
		}
		h.logger.Info("library scan done", "media", stats.Media, "episodes", stats.Episodes)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "scan started"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
