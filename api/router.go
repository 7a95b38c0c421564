package api

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/wistia-offline-go/api/handlers"
	"github.com/yourusername/wistia-offline-go/api/middleware"
	"github.com/yourusername/wistia-offline-go/pkg/logger"
)

// OfflinePrefix is the URL prefix local HLS assets are served under
const OfflinePrefix = "/offline"

// Manager is everything the router needs from the persistence manager
type Manager interface {
	handlers.DownloadService
	handlers.ObserverService
}

// RouterConfig wires the HTTP API to the application
type RouterConfig struct {
	Manager     Manager
	Account     handlers.AccountSource
	Assets      http.FileSystem
	RelPath     func(localPath string) (string, bool)
	LogsDir     string
	Version     string
	Logger      *zap.Logger
	MultiLogger *logger.MultiLogger
}

// SetupRouter sets up the HTTP router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(cfg.Logger, cfg.MultiLogger))
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(middleware.CORS())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(cfg.Manager, cfg.Version)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Downloaded playlists and segments
	if cfg.Assets != nil {
		router.StaticFS(OfflinePrefix, cfg.Assets)
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		mediaHandler := handlers.NewMediaHandler(cfg.Manager, offlineURL(cfg.RelPath), cfg.Logger)
		media := v1.Group("/media/:hashedID")
		{
			media.POST("/download", mediaHandler.Download)
			media.DELETE("/download", mediaHandler.Remove)
			media.POST("/cancel", mediaHandler.Cancel)
			media.GET("/state", mediaHandler.State)
			media.GET("/playable", mediaHandler.Playable)
		}

		downloads := v1.Group("/downloads")
		{
			downloads.GET("", mediaHandler.List)
			downloads.DELETE("", mediaHandler.RemoveAll)
		}

		if cfg.Account != nil {
			accountHandler := handlers.NewAccountHandler(cfg.Account, cfg.Logger)
			v1.GET("/account", accountHandler.Get)
		}

		eventsHandler := handlers.NewEventsHandler(cfg.Manager, cfg.Logger)
		v1.GET("/events", eventsHandler.Stream)

		// Log endpoints
		if cfg.LogsDir != "" {
			logHandler := handlers.NewLogHandler(cfg.LogsDir)
			logs := v1.Group("/logs")
			{
				logs.GET("/categories", logHandler.GetCategories)
				logs.GET("/:category", logHandler.GetLogs)
				logs.GET("/:category/search", logHandler.SearchLogs)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

func offlineURL(relPath func(string) (string, bool)) handlers.OfflineURLFunc {
	if relPath == nil {
		return nil
	}
	return func(localPath string) (string, bool) {
		rel, ok := relPath(localPath)
		if !ok {
			return "", false
		}
		return path.Join(OfflinePrefix, rel), true
	}
}
