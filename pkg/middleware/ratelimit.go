package middleware

import (
	"fmt"
	"net/http"

	"trip-installments/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

const rateLimitPrefix = "installments:ratelimit"

// RateLimit limits requests per client IP. rate uses the limiter format, e.g. "100-M".
// Counters live in Redis when a client is given so every instance shares them.
func RateLimit(rate string, client *redis.Client, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate limit %q: %w", rate, err)
	}

	var store limiter.Store
	if client != nil {
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix:   rateLimitPrefix,
			MaxRetry: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	mw := stdlib.NewMiddleware(limiter.New(store, parsed),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("Rate limit reached", zap.String("ip", r.RemoteAddr), zap.String("path", r.URL.Path))
			utils.ResponseTooManyRequests(w, "Too many requests")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Rate limiter failed", zap.Error(err))
			utils.ResponseInternalError(w, "Internal server error")
		}),
	)

	return mw.Handler, nil
}
