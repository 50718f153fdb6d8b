package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
	"github.com/hmonster013/ecommerce-microservice-sub008/identity"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/engine"
	"github.com/hmonster013/ecommerce-microservice-sub008/order-service/models"
	"github.com/hmonster013/ecommerce-microservice-sub008/response"
)

type OrderHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewOrderHandler(eng *engine.Engine, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{engine: eng, logger: logger}
}

// Register mounts the order API.
func (h *OrderHandler) Register(r gin.IRouter) {
	r.POST("/orders", h.CreateOrder)
	r.GET("/orders/:id", h.GetOrder)
	r.GET("/orders/number/:orderNumber", h.GetOrderByNumber)
	r.GET("/orders/:id/audit", h.GetAudit)
	r.POST("/orders/:id/place", h.PlaceOrder)
	r.POST("/orders/:id/process", h.StartProcessing)
	r.POST("/orders/:id/complete", h.CompleteProcessing)
	r.POST("/orders/:id/status", h.Transition)
	r.POST("/orders/:id/cancel", h.CancelOrder)
	r.POST("/orders/:id/refund", h.RefundOrder)
	r.DELETE("/orders/:id", h.DeleteOrder)
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	principal, err := identity.Require(ctx)
	if err != nil {
		response.Fail(c, err)
		return
	}

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWith(c, http.StatusBadRequest, response.CodeValidationError, err.Error(), nil)
		return
	}

	span.SetAttributes(
		attribute.Int64("user_id", principal.UserID),
		attribute.Int("item_count", len(req.Items)),
	)

	order, err := h.engine.CreateOrder(ctx, req, principal,
		c.ClientIP(), c.GetHeader("Idempotency-Key"))
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}

	span.SetAttributes(attribute.String("order.number", order.OrderNumber))
	response.Created(c, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	id, ok := h.orderID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("order.id", id))

	order, err := h.engine.GetOrder(ctx, id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) GetOrderByNumber(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "GetOrderByNumber")
	defer span.End()

	order, err := h.engine.GetOrderByNumber(ctx, c.Param("orderNumber"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) GetAudit(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "GetAudit")
	defer span.End()

	id, ok := h.orderID(c)
	if !ok {
		return
	}

	// 404 for unknown orders instead of an empty trail.
	if _, err := h.engine.GetOrder(ctx, id); err != nil {
		response.Fail(c, err)
		return
	}
	trail, err := h.engine.ListAudit(ctx, id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, trail)
}

func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "PlaceOrder")
	defer span.End()

	principal, err := identity.Require(ctx)
	if err != nil {
		response.Fail(c, err)
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.engine.PlaceOrder(ctx, id, principal)
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) StartProcessing(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "StartProcessing")
	defer span.End()

	id, ok := h.orderID(c)
	if !ok {
		return
	}
	order, err := h.engine.StartProcessing(ctx, id)
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) CompleteProcessing(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CompleteProcessing")
	defer span.End()

	id, ok := h.orderID(c)
	if !ok {
		return
	}
	capture := c.Query("capture") == "true"

	order, err := h.engine.CompleteProcessing(ctx, id, capture)
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) Transition(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "TransitionOrder")
	defer span.End()

	principal, err := identity.Require(ctx)
	if err != nil {
		response.Fail(c, err)
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var req models.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.FailWith(c, http.StatusBadRequest, response.CodeValidationError, err.Error(), nil)
		return
	}
	if !req.Status.Known() {
		response.Fail(c, errs.Validation("unknown order status",
			map[string]string{"status": string(req.Status)}))
		return
	}
	span.SetAttributes(attribute.String("order.target_status", string(req.Status)))

	order, err := h.engine.Transition(ctx, id, req.Status, req.Reason, principal)
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CancelOrder")
	defer span.End()

	principal, err := identity.Require(ctx)
	if err != nil {
		response.Fail(c, err)
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	var req models.CancelRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.engine.CancelOrder(ctx, id, req.Reason, principal, c.ClientIP())
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) RefundOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "RefundOrder")
	defer span.End()

	principal, err := identity.Require(ctx)
	if err != nil {
		response.Fail(c, err)
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.engine.RefundOrder(ctx, id, principal)
	if err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OK(c, order)
}

func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "DeleteOrder")
	defer span.End()

	principal, err := identity.RequireRole(ctx, "ADMIN")
	if err != nil {
		response.Fail(c, err)
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	if err := h.engine.DeleteOrder(ctx, id, principal); err != nil {
		span.RecordError(err)
		response.Fail(c, err)
		return
	}
	response.OKMessage(c, "order deleted")
}

func (h *OrderHandler) orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.FailWith(c, http.StatusBadRequest, response.CodeInvalidParameterType,
			"order id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
