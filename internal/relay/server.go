package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const heartbeatInterval = 25 * time.Second

// ServerConfig configures the relay daemon's HTTP surface.
type ServerConfig struct {
	Dispatcher *RoomDispatcher
	Logger     *zap.Logger
	// PublishRate/PublishBurst bound how fast the daemon accepts publishes.
	// A throttled publish is dropped, indistinguishable from a lost message.
	// Zero values disable throttling.
	PublishRate  rate.Limit
	PublishBurst int
}

// NewHandler builds the relay daemon's HTTP handler: an SSE subscription
// stream and a fire-and-forget publish endpoint per room.
func NewHandler(cfg ServerConfig) (http.Handler, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("relay: dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.PublishRate > 0 {
		burst := cfg.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.PublishRate, burst)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &relayHandler{
		dispatcher: cfg.Dispatcher,
		limiter:    limiter,
		logger:     logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	router.GET("/rooms/:room/stream", handler.handleStream)
	router.POST("/rooms/:room/events", handler.handlePublish)

	return router, nil
}

type relayHandler struct {
	dispatcher *RoomDispatcher
	limiter    *rate.Limiter
	logger     *zap.Logger
}

type publishRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (h *relayHandler) handlePublish(c *gin.Context) {
	room := c.Param("room")

	var request publishRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	message, err := DecodeMessage(request.Event, request.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		// Dropped like any other lost message; the contract promises nothing.
		h.logger.Debug("publish throttled", zap.String("room", room))
		c.Status(http.StatusAccepted)
		return
	}

	h.dispatcher.Publish(room, message)
	c.Status(http.StatusAccepted)
}

func (h *relayHandler) handleStream(c *gin.Context) {
	room := c.Param("room")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context(), room)
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			payload, err := message.EncodePayload()
			if err != nil {
				h.logger.Warn("dropping unencodable message", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", message.Kind, payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			flusher.Flush()
		}
	}
}
