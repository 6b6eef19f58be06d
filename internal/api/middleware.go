package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zulandar/visitline/internal/route"
	"go.uber.org/zap"
)

const (
	ctxRequestID = "request_id"
	ctxActor     = "actor"
)

// RequestID tags each request with X-Request-ID, minting one if absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ctxRequestID, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// Logger writes one access log line per request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if v, ok := c.Get(ctxActor); ok {
			fields = append(fields, zap.String("user_id", v.(route.Actor).ID))
		}

		switch {
		case status >= 500:
			logger.Error("server error", fields...)
		case status >= 400:
			logger.Warn("client error", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// Recovery turns panics into 500 responses and logs them.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(ctxRequestID)),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorBody{
			Code:    50000,
			Message: "internal error",
			Kind:    "internal",
		})
	})
}

// Claims are the bearer token claims. The subject is the employee id.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for the employee, valid for ttl.
func NewToken(secret, employeeID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   employeeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth requires a valid bearer token and stores the caller as the actor.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string
		if h := c.GetHeader("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			abortUnauthorized(c, 40100, "authorization is required")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			abortUnauthorized(c, 40102, "invalid or expired token")
			return
		}
		if claims.Subject == "" {
			abortUnauthorized(c, 40103, "token has no subject")
			return
		}
		c.Set(ctxActor, route.Actor{ID: claims.Subject, Role: claims.Role})
		c.Next()
	}
}

// RequirePrivileged admits only admins and supervisors.
func RequirePrivileged() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).Privileged() {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorBody{
				Code:    40300,
				Message: "admin or supervisor role required",
				Kind:    "forbidden",
			})
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorBody{Code: code, Message: msg, Kind: "unauthorized"})
}

func actorFrom(c *gin.Context) route.Actor {
	if v, ok := c.Get(ctxActor); ok {
		return v.(route.Actor)
	}
	return route.Actor{}
}
