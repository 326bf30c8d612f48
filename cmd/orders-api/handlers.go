package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bedsmarket/orders-api/internal/cart"
	"github.com/bedsmarket/orders-api/internal/order"
	"github.com/bedsmarket/orders-api/internal/payment"
	"github.com/bedsmarket/orders-api/internal/pricing"
)

// userID pulls the caller identity set by the auth layer in front of this
// service. Returns "" (and a 401) when absent.
func userID(c *gin.Context) string {
	uid := c.GetHeader("X-User-ID")
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
	}
	return uid
}

func checkoutErrStatus(err error) int {
	var gwErr *payment.GatewayError
	switch {
	case errors.Is(err, order.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrUnsupportedDestination),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, pricing.ErrInvalidLine):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func addToCartHandler(carts cart.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		var req struct {
			ProductID string `json:"product_id"`
			VariantID string `json:"variant_id"`
			Quantity  int    `json:"quantity"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.ProductID == "" || req.Quantity < 1 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": "product_id and quantity >= 1 required"})
			return
		}
		if err := carts.Upsert(c.Request.Context(), uid, req.ProductID, req.VariantID, req.Quantity); err != nil {
			log.Error().Err(err).Msg("cart upsert failed")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "cart update failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func clearCartHandler(carts cart.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		if err := carts.Clear(c.Request.Context(), uid); err != nil {
			log.Error().Err(err).Msg("cart clear failed")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "cart clear failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func createOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		var req order.CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": "invalid json"})
			return
		}
		req.IdempotencyKey = c.GetHeader("X-Idempotency-Key")

		res, err := svc.Checkout(c.Request.Context(), uid, &req)
		if err != nil {
			status := checkoutErrStatus(err)
			if status >= http.StatusInternalServerError {
				log.Error().Err(err).Msg("order creation failed")
				c.JSON(status, gin.H{"success": false, "error": "failed to create order"})
				return
			}
			c.JSON(status, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
	}
}

func listOrdersHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		orders, err := svc.ListByUser(c.Request.Context(), uid, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list failed"})
			return
		}
		if orders == nil {
			orders = []order.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": orders})
	}
}

func getOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		o, lines, err := svc.Get(c.Request.Context(), uid, c.Param("id"))
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "get failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"order": o, "items": lines}})
	}
}

func confirmPaymentHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		o, err := svc.ConfirmPayment(c.Request.Context(), uid, c.Param("id"))
		if err != nil {
			var gwErr *payment.GatewayError
			switch {
			case errors.Is(err, order.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "order not found"})
			case errors.Is(err, order.ErrPaymentNotSucceeded),
				errors.Is(err, order.ErrValidation):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			case errors.As(err, &gwErr):
				log.Error().Err(err).Msg("confirm payment: gateway failure")
				c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "failed to verify payment"})
			default:
				log.Error().Err(err).Msg("confirm payment failed")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to confirm payment"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "payment confirmed", "data": o})
	}
}

// resendEmailsHandler re-dispatches the order emails. Also the recovery
// path when a webhook was missed: a still-pending payment is re-checked
// against the gateway before anything is sent.
func resendEmailsHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := userID(c)
		if uid == "" {
			return
		}
		o, err := svc.ResendEmails(c.Request.Context(), uid, c.Param("id"))
		if err != nil {
			var gwErr *payment.GatewayError
			switch {
			case errors.Is(err, order.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "order not found"})
			case errors.Is(err, order.ErrPaymentNotSucceeded):
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			case errors.As(err, &gwErr):
				log.Error().Err(err).Msg("resend emails: gateway failure")
				c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "failed to verify payment"})
			default:
				log.Error().Err(err).Msg("resend emails failed")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to send emails"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "emails sent", "data": o})
	}
}

// webhookHandler verifies and applies gateway events. Handled, ignored and
// unknown-intent outcomes all ack with 200 so the gateway stops retrying;
// only bad payloads/signatures get a 400 and adapter/storage failures a 5xx.
func webhookHandler(svc *order.Service, webhookSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
			return
		}
		if webhookSecret == "" {
			log.Warn().Msg("processing webhook without signature verification")
		}
		ev, err := payment.VerifyAndParseEvent(body, c.GetHeader("Stripe-Signature"), webhookSecret)
		if err != nil {
			log.Error().Err(err).Msg("webhook rejected")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
			return
		}
		if err := svc.HandleGatewayEvent(c.Request.Context(), ev); err != nil {
			log.Error().Err(err).Str("type", ev.Type).Msg("webhook processing failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}

func adminListOrdersHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		orders, err := svc.AdminList(c.Request.Context(), c.Query("status"), limit, offset)
		if err != nil {
			if errors.Is(err, order.ErrValidation) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "list failed"})
			return
		}
		if orders == nil {
			orders = []order.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": orders})
	}
}

func adminGetOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, lines, history, err := svc.AdminGet(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "order not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "get failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
			"order": o, "items": lines, "history": history,
		}})
	}
}

func updateOrderStatusHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := userID(c)
		if actor == "" {
			return
		}
		var req order.UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": "invalid json"})
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, actor)
		if err != nil {
			switch {
			case errors.Is(err, order.ErrValidation):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
			case errors.Is(err, order.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "order not found"})
			default:
				log.Error().Err(err).Msg("status update failed")
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "update failed"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": o})
	}
}
