package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mini-oms/internal/domain"
	"mini-oms/internal/http/middleware"
	"mini-oms/internal/service"
)

type PaymentHandler struct {
	payments service.PaymentService
}

func NewPaymentHandler(payments service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type CreatePaymentRequest struct {
	OrderID  uuid.UUID `json:"order_id"`
	Method   string    `json:"method"`
	ProofRef string    `json:"proof_ref"`
	Notes    string    `json:"notes"`
}

type RejectPaymentRequest struct {
	Reason string `json:"reason"`
}

// DecisionResponse is returned by verify and reject.
type DecisionResponse struct {
	Payment *domain.Payment `json:"payment"`
	Order   *domain.Order   `json:"order"`
}

func (h *PaymentHandler) Create(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OrderID == uuid.Nil {
		badRequest(c, "order_id and method are required")
		return
	}
	p, err := h.payments.Create(c.Request.Context(), middleware.Actor(c), domain.PaymentRequest{
		OrderID:        req.OrderID,
		Method:         req.Method,
		ProofRef:       req.ProofRef,
		Notes:          req.Notes,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PaymentHandler) ForOrder(c *gin.Context) {
	id, ok := pathID(c, "orderId")
	if !ok {
		return
	}
	p, err := h.payments.ForOrder(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PaymentHandler) Verify(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, o, err := h.payments.Verify(c.Request.Context(), middleware.Actor(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DecisionResponse{Payment: p, Order: o})
}

func (h *PaymentHandler) Reject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req RejectPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	p, o, err := h.payments.Reject(c.Request.Context(), middleware.Actor(c), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, DecisionResponse{Payment: p, Order: o})
}
