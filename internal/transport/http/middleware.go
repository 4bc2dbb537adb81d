package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meetrelay/internal/auth"
)

// ContextKeyUserID is the gin context key holding the verified user id.
const ContextKeyUserID = "user_id"

type userIDKey struct{}

// UserIDFromContext returns the user id stored by RequireToken.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}

// authenticate validates the connect-time JWT issued by the identity service.
// It returns the message to send back when the request is rejected.
func authenticate(jwtConfig *auth.JWTConfig, logger *zerolog.Logger, r *http.Request) (*auth.Claims, string) {
	token, err := auth.TokenFromRequest(r)
	if err != nil {
		msg := "invalid authorization"
		if errors.Is(err, auth.ErrMissingToken) {
			msg = "missing token"
		}
		logger.Debug().Err(err).Msg("rejecting unauthenticated request")
		return nil, msg
	}

	claims, err := auth.ValidateToken(jwtConfig, token)
	if err != nil {
		logger.Debug().Err(err).Msg("invalid token")
		return nil, "invalid token"
	}
	return claims, ""
}

// AuthMiddleware guards gin routes. It accepts the token from the query
// string or a Bearer header.
func AuthMiddleware(jwtConfig *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, msg := authenticate(jwtConfig, logger, c.Request)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: msg})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

// RequireToken is AuthMiddleware for plain handlers such as the meeting
// socket, which must own the raw ResponseWriter to hijack it.
func RequireToken(jwtConfig *auth.JWTConfig, logger *zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, msg := authenticate(jwtConfig, logger, r)
		if claims == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
