package http

import (
	"context"
	"net/http"
	"time"

	"teamdesk/internal/core/domain"
	"teamdesk/internal/core/ports"
	"teamdesk/pkg/cache"
	"teamdesk/pkg/errors"
	"teamdesk/pkg/utils"
	"teamdesk/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RoomHandler serves the relay's small REST surface: room occupancy and
// session ID allocation.
type RoomHandler struct {
	counter ports.RoomCounter
	stats   *cache.Cache[int]
	logger  *zap.SugaredLogger
}

var _ ports.HTTPHandler = (*RoomHandler)(nil)

// NewRoomHandler reads occupancy from counter, caching each answer for statsTTL.
func NewRoomHandler(counter ports.RoomCounter, statsTTL time.Duration, logger *zap.SugaredLogger) *RoomHandler {
	return &RoomHandler{
		counter: counter,
		stats:   cache.New[int](statsTTL),
		logger:  logger,
	}
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms/:id", h.GetRoom)
		api.POST("/sessions", h.CreateSession)
	}
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id := utils.NormalizeSessionID(c.Param("id"))
	if err := validation.ValidateRoomID(id); err != nil {
		_ = c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	room := domain.RoomID(id)
	members, err := h.stats.GetOrLoad(c.Request.Context(), id, func(ctx context.Context) (int, error) {
		return h.counter.Count(ctx, room)
	})
	if err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeServiceUnavailable,
			"room directory unavailable", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id": room,
		"members": members,
	})
}

func (h *RoomHandler) CreateSession(c *gin.Context) {
	id, err := utils.GenerateSessionID()
	if err != nil {
		_ = c.Error(errors.WrapError(err, errors.ErrCodeInternal,
			"failed to allocate session id", http.StatusInternalServerError))
		return
	}

	h.logger.Debugw("session id allocated", "session_id", id)
	c.JSON(http.StatusCreated, gin.H{
		"session_id": id,
		"formatted":  utils.FormatSessionID(id),
	})
}

func (h *RoomHandler) Close() {
	h.stats.Stop()
}
