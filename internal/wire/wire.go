package wire

import (
	"fmt"
	"net/http"

	"trip-installments/internal/adaptor"
	"trip-installments/internal/usecase"
	"trip-installments/pkg/middleware"
	"trip-installments/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the HTTP surface
type App struct {
	Router *chi.Mux
}

// Wiring builds handlers and routes. rdb may be nil; rate limiting then stays per instance.
func Wiring(service *usecase.Service, poller adaptor.PollRunner, rdb *redis.Client, config *utils.Config, logger *zap.Logger) (*App, error) {
	handler := adaptor.NewHandler(service, poller, logger)

	rateLimit, err := middleware.RateLimit(config.Admin.RateLimit, rdb, logger)
	if err != nil {
		return nil, fmt.Errorf("configure rate limit: %w", err)
	}

	router := setupRouter(handler, rateLimit, config, logger)

	return &App{
		Router: router,
	}, nil
}

// setupRouter configures the chi router
func setupRouter(
	handler *adaptor.Handler,
	rateLimit func(http.Handler) http.Handler,
	config *utils.Config,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(rateLimit)
		r.Use(middleware.AdminKey(config.Admin.KeyHash, logger))

		wireBooking(r, handler.Booking, handler.Installment)
		wireInstallment(r, handler.Installment)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.ResponseSuccess(w, "OK", nil)
	})

	return r
}
