package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/wistia-offline-go/internal/domain"
	"go.uber.org/zap"
)

// DownloadService is the persistence manager surface used by the HTTP API
type DownloadService interface {
	Download(ctx context.Context, ref domain.MediaRef) error
	CancelDownload(ctx context.Context, ref domain.MediaRef) (bool, error)
	RemoveDownload(ctx context.Context, ref domain.MediaRef) error
	RemoveAllDownloads(ctx context.Context) error
	DownloadState(ref domain.MediaRef) domain.DownloadState
	Entries() []domain.LedgerEntry
	Stats() domain.LedgerStats
	PlayableItem(ctx context.Context, ref domain.MediaRef) (domain.PlayableItem, error)
	IsRunning() bool
}

// OfflineURLFunc maps a local asset path to the URL it is served under, if any
type OfflineURLFunc func(localPath string) (string, bool)

// MediaHandler handles per-media download requests
type MediaHandler struct {
	service    DownloadService
	offlineURL OfflineURLFunc
	logger     *zap.Logger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(service DownloadService, offlineURL OfflineURLFunc, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		service:    service,
		offlineURL: offlineURL,
		logger:     logger,
	}
}

// StateResponse represents the download state of a media
type StateResponse struct {
	HashedID string               `json:"hashed_id"`
	State    domain.DownloadState `json:"state"`
}

// CancelResponse represents the result of a cancel request
type CancelResponse struct {
	StateResponse
	Cancelled bool `json:"cancelled"`
}

// PlayableResponse tells a player what to open
type PlayableResponse struct {
	domain.PlayableItem
	StreamURL string `json:"stream_url,omitempty"`
}

// ListResponse represents all tracked downloads
type ListResponse struct {
	Entries []domain.LedgerEntry `json:"entries"`
	Stats   domain.LedgerStats   `json:"stats"`
}

// Download handles POST /api/v1/media/:hashedID/download
func (h *MediaHandler) Download(c *gin.Context) {
	ref, ok := mediaParam(c)
	if !ok {
		return
	}

	if err := h.service.Download(c.Request.Context(), ref); err != nil {
		h.fail(c, "Failed to start download", ref, err)
		return
	}

	c.JSON(http.StatusAccepted, StateResponse{HashedID: ref.HashedID, State: h.service.DownloadState(ref)})
}

// Cancel handles POST /api/v1/media/:hashedID/cancel
func (h *MediaHandler) Cancel(c *gin.Context) {
	ref, ok := mediaParam(c)
	if !ok {
		return
	}

	cancelled, err := h.service.CancelDownload(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, "Failed to cancel download", ref, err)
		return
	}

	c.JSON(http.StatusOK, CancelResponse{
		StateResponse: StateResponse{HashedID: ref.HashedID, State: h.service.DownloadState(ref)},
		Cancelled:     cancelled,
	})
}

// Remove handles DELETE /api/v1/media/:hashedID/download
func (h *MediaHandler) Remove(c *gin.Context) {
	ref, ok := mediaParam(c)
	if !ok {
		return
	}

	if err := h.service.RemoveDownload(c.Request.Context(), ref); err != nil {
		h.fail(c, "Failed to remove download", ref, err)
		return
	}

	c.JSON(http.StatusOK, StateResponse{HashedID: ref.HashedID, State: h.service.DownloadState(ref)})
}

// State handles GET /api/v1/media/:hashedID/state
func (h *MediaHandler) State(c *gin.Context) {
	ref, ok := mediaParam(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, StateResponse{HashedID: ref.HashedID, State: h.service.DownloadState(ref)})
}

// Playable handles GET /api/v1/media/:hashedID/playable
func (h *MediaHandler) Playable(c *gin.Context) {
	ref, ok := mediaParam(c)
	if !ok {
		return
	}

	item, err := h.service.PlayableItem(c.Request.Context(), ref)
	if err != nil {
		h.fail(c, "Failed to resolve playable item", ref, err)
		return
	}

	response := PlayableResponse{PlayableItem: item, StreamURL: item.URL}
	if item.Local {
		response.StreamURL = ""
		if h.offlineURL != nil {
			if u, ok := h.offlineURL(item.URL); ok {
				response.StreamURL = u
			}
		}
	}
	c.JSON(http.StatusOK, response)
}

// List handles GET /api/v1/downloads
func (h *MediaHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, ListResponse{
		Entries: h.service.Entries(),
		Stats:   h.service.Stats(),
	})
}

// RemoveAll handles DELETE /api/v1/downloads
func (h *MediaHandler) RemoveAll(c *gin.Context) {
	if err := h.service.RemoveAllDownloads(c.Request.Context()); err != nil {
		h.logger.Error("Failed to remove all downloads", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "all downloads removed"})
}

func (h *MediaHandler) fail(c *gin.Context, msg string, ref domain.MediaRef, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("hashed_id", ref.HashedID), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// mediaParam validates the :hashedID path parameter and writes a 422 when it is malformed
func mediaParam(c *gin.Context) (domain.MediaRef, bool) {
	ref, err := domain.NewMediaRef(c.Param("hashedID"))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return domain.MediaRef{}, false
	}
	return ref, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnresolvableIdentifier):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrManagerNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrDataAPI):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
