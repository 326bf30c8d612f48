package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bedsmarket/orders-api/internal/cart"
	"github.com/bedsmarket/orders-api/internal/config"
	"github.com/bedsmarket/orders-api/internal/events"
	"github.com/bedsmarket/orders-api/internal/httpx"
	"github.com/bedsmarket/orders-api/internal/notify"
	"github.com/bedsmarket/orders-api/internal/order"
	"github.com/bedsmarket/orders-api/internal/payment"
)

func main() {
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "orders-api").Logger()

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connect")
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	publisher := events.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
	defer publisher.Close()

	svc := &order.Service{
		Orders:           order.NewPGRepo(pool),
		Carts:            cart.NewPGRepo(pool),
		Gateway:          payment.NewStripeClient(cfg.PaymentAPIBase, cfg.PaymentSecretKey),
		Notifier:         &notify.LogNotifier{AdminEmail: cfg.AdminEmail},
		Idem:             rdb,
		Currency:         cfg.Currency,
		PostcodePrefixes: cfg.PostcodePrefixes,
	}
	if publisher != nil {
		svc.Events = publisher
	}

	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api")
	{
		api.POST("/cart", addToCartHandler(svc.Carts))
		api.DELETE("/cart", clearCartHandler(svc.Carts))

		api.POST("/orders", createOrderHandler(svc))
		api.GET("/orders", listOrdersHandler(svc))
		api.GET("/orders/:id", getOrderHandler(svc))
		api.POST("/orders/:id/confirm-payment", confirmPaymentHandler(svc))
		api.POST("/orders/:id/send-emails", resendEmailsHandler(svc))
		api.POST("/webhooks/payments", webhookHandler(svc, cfg.PaymentWebhookSecret))

		admin := api.Group("/admin")
		admin.GET("/orders", adminListOrdersHandler(svc))
		admin.GET("/orders/:id", adminGetOrderHandler(svc))
		admin.PUT("/orders/:id/status", updateOrderStatusHandler(svc))
	}

	log.Info().Str("addr", cfg.Addr).Msg("orders-api listening")
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
