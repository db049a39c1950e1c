package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/cartorder/pkg/health"
	"github.com/utafrali/cartorder/pkg/middleware"
)

// Services groups the behaviour exposed over HTTP.
type Services struct {
	Cart     CartService
	Checkout CheckoutService
	Orders   OrderService
	Payments PaymentService
}

// RouterConfig holds router settings.
type RouterConfig struct {
	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all cart, checkout, order and payment
// routes registered.
func NewRouter(
	svcs Services,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cartorder"))
	r.Use(middleware.Tracing("cartorder"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	cartHandler := NewCartHandler(svcs.Cart, logger)
	checkoutHandler := NewCheckoutHandler(svcs.Checkout, logger)
	orderHandler := NewOrderHandler(svcs.Orders, logger)
	paymentHandler := NewPaymentHandler(svcs.Payments, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Identity())

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)

			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{itemId}", cartHandler.UpdateQuantity)
			r.Delete("/items/{itemId}", cartHandler.RemoveItem)

			r.With(middleware.RequireUser()).Post("/merge", cartHandler.MergeCart)
		})

		// Everything below belongs to a signed-in user.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser())

			r.Post("/checkout", checkoutHandler.Checkout)

			r.Get("/orders", orderHandler.ListOrders)
			r.Get("/orders/{id}", orderHandler.GetOrder)
			r.Post("/orders/{id}/payments", paymentHandler.RecordPayment)
			r.Get("/orders/{id}/payments", paymentHandler.ListPayments)

			r.Get("/payments/{id}", paymentHandler.GetPayment)
			r.Post("/payments/{id}/paid", paymentHandler.MarkPaid)
			r.Post("/payments/{id}/failed", paymentHandler.MarkFailed)
		})
	})

	return r
}
