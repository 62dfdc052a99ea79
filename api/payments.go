package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Domenick1991/stagebook/internal/domain"
	"github.com/Domenick1991/stagebook/internal/gateway"
	"github.com/Domenick1991/stagebook/internal/service/booking"
	"github.com/Domenick1991/stagebook/internal/service/payment"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (payment.Outcome, error)
}

type PaymentHandler struct {
	bookings   booking.BookingUseCase
	reconciler WebhookReconciler
	log        logrus.FieldLogger
}

type createIntentRequest struct {
	BookingID string `json:"bookingId"`
}

type refundRequest struct {
	BookingID string `json:"bookingId"`
	Reason    string `json:"reason"`
}

func NewPaymentHandler(bookings booking.BookingUseCase, reconciler WebhookReconciler, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{bookings: bookings, reconciler: reconciler, log: log}
}

// Register mounts the authenticated payment routes.
func (h *PaymentHandler) Register(router *gin.RouterGroup) {
	router.POST("/create-intent", h.createIntent)
	router.POST("/refund", h.refund)
}

// RegisterWebhook mounts the gateway callback, which authenticates by signature.
func (h *PaymentHandler) RegisterWebhook(router *gin.RouterGroup) {
	router.POST("/webhook", h.webhook)
}

func (h *PaymentHandler) createIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BookingID == "" {
		badRequest(c, "bookingId is required")
		return
	}

	intent, err := h.bookings.CreatePaymentIntent(c.Request.Context(), actorFrom(c), req.BookingID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

func (h *PaymentHandler) refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.BookingID == "" {
		badRequest(c, "bookingId is required")
		return
	}

	b, err := h.bookings.RefundBooking(c.Request.Context(), actorFrom(c), req.BookingID, req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b.Snapshot())
}

// webhook acknowledges every authenticated delivery with 200, including ones that
// could not be applied: their claim is released and the stale intent sweep
// recovers them. Only unauthenticated or oversized bodies get 400.
func (h *PaymentHandler) webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	if len(payload) > maxWebhookBody {
		h.log.WithField("limit_bytes", maxWebhookBody).Warn("webhook body too large, rejected")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "payload too large", "kind": domain.KindReconciliation})
		return
	}

	outcome, err := h.reconciler.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
	case errors.Is(err, gateway.ErrInvalidSignature):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid signature", "kind": domain.KindReconciliation})
	case errors.Is(err, domain.ErrReconciliation):
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		h.log.WithError(err).Error("webhook accepted but not applied, left to the intent sweep")
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
