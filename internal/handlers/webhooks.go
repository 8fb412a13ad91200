package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"escrow-engine/internal/metrics"
	"escrow-engine/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Webhook bodies are consumed raw before any JSON decode: the signature
// covers the exact bytes the provider sent and re-serialization would
// break verification.

type cardNetworkEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Session     string `json:"session"`
		AmountTotal string `json:"amount_total"`
		Currency    string `json:"currency"`
		Refund      string `json:"refund"`
	} `json:"data"`
}

func (h *Handler) CardNetworkWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	sig := c.GetHeader("Cardnetwork-Signature")
	if err := webhook.VerifySignedTimestamp(h.cfg.CardNetwork.WebhookSecret, sig, raw, time.Now()); err != nil {
		metrics.WebhooksRejectedTotal.WithLabelValues("cardnetwork").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	var event cardNetworkEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		amount, err := decimal.NewFromString(event.Data.AmountTotal)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed amount"})
			return
		}
		outcome, err := h.settlement.ApplyWebhook(c.Request.Context(), event.Data.Session, event.ID, amount, event.Data.Currency)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payment_intent_id": outcome.IntentID, "already_settled": outcome.AlreadySettled})
	case "refund.succeeded":
		order, err := h.refunds.ResolveRefund(c.Request.Context(), event.Data.Refund)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "status": order.Status})
	default:
		// Unhandled event types are acknowledged so the provider stops
		// redelivering them.
		c.JSON(http.StatusOK, gin.H{"ignored": event.Type})
	}
}

type mobileMoneyEvent struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Data  struct {
		Reference    string `json:"reference"`
		Amount       int64  `json:"amount"`
		Currency     string `json:"currency"`
		TransferCode string `json:"transfer_code"`
		Reason       string `json:"reason"`
	} `json:"data"`
}

func (h *Handler) MobileMoneyWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	sig := c.GetHeader("X-Momo-Signature")
	if err := webhook.VerifyBodyHMAC(h.cfg.MobileMoney.WebhookSecret, sig, raw); err != nil {
		if webhook.VerifyStaticHash(h.cfg.MobileMoney.WebhookStaticHash, sig) != nil {
			metrics.WebhooksRejectedTotal.WithLabelValues("mobilemoney").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
			return
		}
	}

	var event mobileMoneyEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}
	eventID := event.ID
	if eventID == "" {
		eventID = event.Event + ":" + event.Data.Reference
	}

	switch event.Event {
	case "charge.success":
		amount := decimal.NewFromInt(event.Data.Amount).Div(decimal.NewFromInt(100))
		outcome, err := h.settlement.ApplyWebhook(c.Request.Context(), event.Data.Reference, eventID, amount, event.Data.Currency)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payment_intent_id": outcome.IntentID, "already_settled": outcome.AlreadySettled})
	case "refund.processed":
		order, err := h.refunds.ResolveRefund(c.Request.Context(), event.Data.Reference)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "status": order.Status})
	case "transfer.success", "transfer.failed", "transfer.reversed":
		succeeded := event.Event == "transfer.success"
		payout, err := h.payouts.Resolve(c.Request.Context(), event.Data.TransferCode, succeeded, event.Data.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"payout_id": payout.ID, "status": payout.Status})
	default:
		c.JSON(http.StatusOK, gin.H{"ignored": event.Event})
	}
}
