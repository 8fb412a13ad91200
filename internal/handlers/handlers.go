package handlers

import (
	"errors"
	"net/http"

	"escrow-engine/internal/auth"
	"escrow-engine/internal/config"
	"escrow-engine/internal/database"
	"escrow-engine/internal/domain"
	"escrow-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler bundles the coordinators behind the HTTP surface.
type Handler struct {
	settlement *service.SettlementCoordinator
	refunds    *service.RefundCoordinator
	payouts    *service.PayoutCoordinator
	ledger     *service.OrderLedger
	health     database.Service
	cfg        config.SettlementConfig
}

func New(
	settlement *service.SettlementCoordinator,
	refunds *service.RefundCoordinator,
	payouts *service.PayoutCoordinator,
	ledger *service.OrderLedger,
	health database.Service,
	cfg config.SettlementConfig,
) *Handler {
	return &Handler{
		settlement: settlement,
		refunds:    refunds,
		payouts:    payouts,
		ledger:     ledger,
		health:     health,
		cfg:        cfg,
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webhooks/cardnetwork", h.CardNetworkWebhook)
	r.POST("/webhooks/mobilemoney", h.MobileMoneyWebhook)

	api := r.Group("/api", auth.Middleware(h.cfg.JWTSecret))
	api.POST("/checkout", h.Checkout)
	api.GET("/payments/verify", h.VerifyPayment)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/accept", h.AcceptOrder)
	api.POST("/orders/:id/start", h.StartOrder)
	api.POST("/orders/:id/deliver", h.DeliverOrder)
	api.POST("/orders/:id/approve", h.ApproveOrder)
	api.POST("/orders/:id/release", h.ReleaseOrder)
	api.POST("/orders/:id/cancel", h.CancelOrder)
	api.POST("/payouts", h.RequestPayout)
	api.POST("/payouts/:id/cancel", h.CancelPayout)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Health())
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrMissingPaymentReference):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrProviderUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrProviderRejected):
		// Never leak provider internals to the payer.
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment not successful"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type checkoutItemRequest struct {
	ServiceID uuid.UUID `json:"service_id" binding:"required"`
	TierID    uuid.UUID `json:"tier_id" binding:"required"`
	Quantity  int       `json:"quantity"`
}

type checkoutRequest struct {
	Provider string                `json:"provider" binding:"required"`
	Items    []checkoutItemRequest `json:"items" binding:"required,min=1,dive"`
}

func (h *Handler) Checkout(c *gin.Context) {
	identity, _ := auth.FromContext(c)
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items := make([]service.CheckoutItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = service.CheckoutItem{ServiceID: it.ServiceID, TierID: it.TierID, Quantity: it.Quantity}
	}
	result, err := h.settlement.Checkout(c.Request.Context(), identity.UserID, req.Provider, items)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"payment_intent_id": result.IntentID,
		"order_ids":         result.OrderIDs,
		"redirect_url":      result.RedirectURL,
	})
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required"})
		return
	}
	outcome, err := h.settlement.Verify(c.Request.Context(), reference)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_intent_id": outcome.IntentID,
		"already_settled":   outcome.AlreadySettled,
		"settled_orders":    len(outcome.SettledOrders),
	})
}

func orderResponse(o *domain.Order) gin.H {
	return gin.H{
		"id":           o.ID,
		"status":       o.Status,
		"buyer_id":     o.BuyerID,
		"provider_id":  o.ProviderID,
		"amount_gross": o.AmountGross,
		"platform_fee": o.PlatformFee,
		"tax_amount":   o.TaxAmount,
		"amount_net":   o.AmountNet,
		"currency":     o.Currency,
	}
}

func (h *Handler) GetOrder(c *gin.Context) {
	identity, _ := auth.FromContext(c)
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, err := h.ledger.Get(c.Request.Context(), identity.UserID, identity.Role, orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderResponse(order))
}

func (h *Handler) orderAction(c *gin.Context, act func(uuid.UUID, uuid.UUID) (*domain.Order, error)) {
	identity, _ := auth.FromContext(c)
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, err := act(identity.UserID, orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderResponse(order))
}

func (h *Handler) AcceptOrder(c *gin.Context) {
	h.orderAction(c, func(actor, order uuid.UUID) (*domain.Order, error) {
		return h.ledger.Accept(c.Request.Context(), actor, order)
	})
}

func (h *Handler) StartOrder(c *gin.Context) {
	h.orderAction(c, func(actor, order uuid.UUID) (*domain.Order, error) {
		return h.ledger.Start(c.Request.Context(), actor, order)
	})
}

func (h *Handler) DeliverOrder(c *gin.Context) {
	h.orderAction(c, func(actor, order uuid.UUID) (*domain.Order, error) {
		return h.ledger.Deliver(c.Request.Context(), actor, order)
	})
}

func (h *Handler) ApproveOrder(c *gin.Context) {
	h.orderAction(c, func(actor, order uuid.UUID) (*domain.Order, error) {
		return h.ledger.Approve(c.Request.Context(), actor, order)
	})
}

func (h *Handler) ReleaseOrder(c *gin.Context) {
	identity, _ := auth.FromContext(c)
	h.orderAction(c, func(actor, order uuid.UUID) (*domain.Order, error) {
		return h.ledger.Release(c.Request.Context(), actor, identity.Role, order)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelOrder(c *gin.Context) {
	identity, _ := auth.FromContext(c)
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	order, err := h.refunds.CancelOrder(c.Request.Context(), identity.UserID, identity.Role, orderID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderResponse(order))
}

type payoutRequestBody struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (h *Handler) RequestPayout(c *gin.Context) {
	identity, _ := auth.FromContext(c)
	var req payoutRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payout, err := h.payouts.Request(c.Request.Context(), identity.UserID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":       payout.ID,
		"amount":   payout.Amount,
		"currency": payout.Currency,
		"status":   payout.Status,
	})
}

func (h *Handler) CancelPayout(c *gin.Context) {
	identity, _ := auth.FromContext(c)
	payoutID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payout id"})
		return
	}
	payout, err := h.payouts.Cancel(c.Request.Context(), identity.UserID, payoutID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": payout.ID, "status": payout.Status})
}
