package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yourusername/wistia-offline-go/internal/app"
	"github.com/yourusername/wistia-offline-go/internal/domain"
	"go.uber.org/zap"
)

const (
	eventBufferSize = 64
	pingInterval    = 30 * time.Second
	writeTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local daemon, any origin
	},
}

// ObserverService registers state observers
type ObserverService interface {
	AddObserver(ref domain.MediaRef, fn app.ObserverFunc) app.Subscription
	AddGlobalObserver(fn app.ObserverFunc) app.Subscription
	RemoveObserver(sub app.Subscription) bool
	DownloadState(ref domain.MediaRef) domain.DownloadState
}

// StateEvent is one state change sent over the events stream
type StateEvent struct {
	HashedID string               `json:"hashed_id"`
	State    domain.DownloadState `json:"state"`
	Progress *float64             `json:"progress,omitempty"`
	Time     time.Time            `json:"time"`
}

// EventsHandler streams download state changes over WebSocket
type EventsHandler struct {
	service ObserverService
	logger  *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(service ObserverService, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{service: service, logger: logger}
}

// Stream handles GET /api/v1/events. With ?media=<id> only that media is observed
// and its current state is sent first.
func (h *EventsHandler) Stream(c *gin.Context) {
	var ref domain.MediaRef
	if id := c.Query("media"); id != "" {
		var err error
		ref, err = domain.NewMediaRef(id)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan StateEvent, eventBufferSize)
	observer := func(hashedID string, state domain.DownloadState, progress *float64) {
		// runs on the manager goroutine; never block it
		select {
		case events <- StateEvent{HashedID: hashedID, State: state, Progress: progress, Time: time.Now()}:
		default:
			h.logger.Warn("Dropping state event for slow client", zap.String("hashed_id", hashedID))
		}
	}

	var sub app.Subscription
	if ref.IsZero() {
		sub = h.service.AddGlobalObserver(observer)
	} else {
		state := h.service.DownloadState(ref)
		events <- StateEvent{HashedID: ref.HashedID, State: state, Progress: state.ProgressValue(), Time: time.Now()}
		sub = h.service.AddObserver(ref, observer)
	}
	defer h.service.RemoveObserver(sub)

	h.logger.Info("Events client connected",
		zap.String("media", ref.HashedID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	// Read messages from client to notice when it goes away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Failed to send state event", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			h.logger.Info("Events client disconnected", zap.String("media", ref.HashedID))
			return
		}
	}
}
