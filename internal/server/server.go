// internal/server/server.go
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mac-bot/internal/models"
	"mac-bot/internal/payment"
	"mac-bot/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Payments interface {
	HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*payment.WebhookResult, error)
}

type Store interface {
	GetPayment(ctx context.Context, orderID string) (*models.Payment, error)
	Ping(ctx context.Context) error
}

type Server struct {
	server *http.Server
	logger *logger.Logger
}

func NewServer(port string, payments Payments, store Store, log *logger.Logger) *Server {
	h := &handlers{payments: payments, store: store, logger: log}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(RequestLogger(log), Recovery(log))

	router.POST("/webhook/prodamus", h.webhook(payment.ProviderProdamus, "Sign"))
	router.POST("/webhook/stripe", h.webhook(payment.ProviderStripe, "Stripe-Signature"))
	router.GET("/payment/success", h.paymentStatus)
	router.GET("/health", h.health)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		server: httpServer,
		logger: log,
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks until the server stops. A graceful Stop is not an error.
func (s *Server) Start() error {
	s.logger.Infow("Starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}
