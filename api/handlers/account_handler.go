package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/wistia-offline-go/internal/domain"
	"go.uber.org/zap"
)

// AccountSource fetches Wistia account metadata
type AccountSource interface {
	Account(ctx context.Context) (*domain.Account, error)
}

// AccountHandler handles account requests
type AccountHandler struct {
	source AccountSource
	logger *zap.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(source AccountSource, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{source: source, logger: logger}
}

// Get handles GET /api/v1/account
func (h *AccountHandler) Get(c *gin.Context) {
	account, err := h.source.Account(c.Request.Context())
	if err != nil {
		var parseErr *domain.ParseError
		if errors.As(err, &parseErr) {
			h.logger.Warn("Malformed account payload", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "fields": parseErr.Fields})
			return
		}
		h.logger.Error("Failed to fetch account", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, account)
}
