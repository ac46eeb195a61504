package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aurantiaco-sucus/rdb-exp3/api"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the plain admin key on /admin requests.
const AdminKeyHeader = "X-Admin-Key"

const bodyLimit = "16K"

func (s *Server) registerMiddlewares() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	s.echo.Use(s.requestLog())
	s.echo.Use(middleware.BodyLimit(bodyLimit))
}

// requestLog writes one line per request once the response is committed.
func (s *Server) requestLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			lat := time.Since(start).Milliseconds()

			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			level := slog.LevelInfo
			if c.Response().Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			s.logger.Log(c.Request().Context(), level, "http",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"latency_ms", lat,
				"req_id", rid,
				"ip", c.RealIP(),
			)
			return nil
		}
	}
}

// adminGuard rejects requests whose X-Admin-Key does not match hash. An
// empty hash leaves the routes open.
func adminGuard(hash []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(hash) == 0 {
				return next(c)
			}
			key := c.Request().Header.Get(AdminKeyHeader)
			if key == "" || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
				return c.JSON(http.StatusUnauthorized, api.Fail("unauthorized"))
			}
			return next(c)
		}
	}
}
