package middleware

import (
	"net/http"

	"trip-installments/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKey checks the X-Admin-Key header against a bcrypt hash.
// With no hash configured every admin request is refused.
func AdminKey(keyHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				logger.Warn("Admin request refused, ADMIN_KEY_HASH is not set", zap.String("path", r.URL.Path))
				utils.ResponseForbidden(w, "Admin API is disabled")
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				utils.ResponseUnauthorized(w, "Missing admin key")
				return
			}

			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				logger.Warn("Invalid admin key",
					zap.String("path", r.URL.Path),
					zap.String("ip", r.RemoteAddr),
				)
				utils.ResponseUnauthorized(w, "Invalid admin key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
