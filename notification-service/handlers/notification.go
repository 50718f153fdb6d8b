package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/engine"
	"github.com/hmonster013/ecommerce-microservice-sub008/notification-service/models"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

type NotificationHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewNotificationHandler(eng *engine.Engine, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{engine: eng, logger: logger}
}

// Register mounts the notification API.
func (h *NotificationHandler) Register(r gin.IRouter) {
	r.POST("/notifications", h.Submit)
	r.GET("/notifications/:id", h.Get)
	r.POST("/notifications/:id/engagement", h.Engagement)
}

func (h *NotificationHandler) Submit(c *gin.Context) {
	ctx, span := otel.Tracer("notification-service").Start(c.Request.Context(), "SubmitNotification")
	defer span.End()

	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWith(c, http.StatusBadRequest, response.CodeValidationError, err.Error(), nil)
		return
	}
	span.SetAttributes(
		attribute.String("notification.channel", string(req.Channel)),
		attribute.Int64("user_id", req.UserID),
	)

	n, err := h.engine.Submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.Created(c, n)
}

func (h *NotificationHandler) Get(c *gin.Context) {
	ctx, span := otel.Tracer("notification-service").Start(c.Request.Context(), "GetNotification")
	defer span.End()

	id, ok := h.notificationID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("notification.id", id))

	n, deliveries, err := h.engine.Get(ctx, id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"notification": n, "deliveries": deliveries})
}

func (h *NotificationHandler) Engagement(c *gin.Context) {
	ctx, span := otel.Tracer("notification-service").Start(c.Request.Context(), "RecordEngagement")
	defer span.End()

	id, ok := h.notificationID(c)
	if !ok {
		return
	}

	var req models.EngagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWith(c, http.StatusBadRequest, response.CodeValidationError, err.Error(), nil)
		return
	}
	span.SetAttributes(
		attribute.Int64("notification.id", id),
		attribute.String("engagement.type", req.Type),
	)

	event, err := h.engine.RecordEngagement(ctx, id, req)
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OK(c, event)
}

func (h *NotificationHandler) notificationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.FailWith(c, http.StatusBadRequest, response.CodeInvalidParameterType,
			"notification id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
