// Package server exposes the circulation desk over HTTP. POST routes take a
// JSON body, GET routes take query parameters, every route answers JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aurantiaco-sucus/rdb-exp3/api"
	"github.com/aurantiaco-sucus/rdb-exp3/library"
	"github.com/labstack/echo/v4"
)

// Version is reported by the banner.
const Version = "1.0.0"

const banner = `Library Management Service, Version %s

POST /user/register        username, email, info
GET  /user/lookup          phrase (":" prefix looks up by email)
POST /user/alter           uid, username, email, info
POST /user/unregister      uid
GET  /user/info            uid
GET  /user/borrowed        uid
GET  /user/reserved        uid
POST /user/borrow          uid, iid
POST /user/reserve         uid, iid
POST /user/return          iid
GET  /book/search          phrase
GET  /book/info            bid
GET  /book/instance        bid
GET  /book/instance_info   iid
POST /admin/add            title, author, info
POST /admin/remove         bid
POST /admin/alter          bid, title, author, info
POST /admin/add_instance   bid, status
POST /admin/remove_instance iid
`

const shutdownTimeout = 5 * time.Second

// Server routes HTTP requests to a LibraryManager.
type Server struct {
	echo         *echo.Echo
	mgr          *library.LibraryManager
	logger       *slog.Logger
	adminKeyHash []byte
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAdminKeyHash guards /admin routes with a bcrypt hash of the admin key.
func WithAdminKeyHash(hash string) Option {
	return func(s *Server) { s.adminKeyHash = []byte(hash) }
}

// New builds a Server with its routes registered.
func New(mgr *library.LibraryManager, opts ...Option) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Validator = newRequestValidator()

	s := &Server{echo: e, mgr: mgr, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	e.HTTPErrorHandler = s.handleError

	s.registerMiddlewares()
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.banner)
	s.echo.GET("/health", s.health)

	user := s.echo.Group("/user")
	user.POST("/register", s.userRegister)
	user.GET("/lookup", s.userLookup)
	user.POST("/alter", s.userAlter)
	user.POST("/unregister", s.userUnregister)
	user.GET("/info", s.userInfo)
	user.GET("/borrowed", s.userBorrowed)
	user.GET("/reserved", s.userReserved)
	user.POST("/borrow", s.userBorrow)
	user.POST("/reserve", s.userReserve)
	user.POST("/return", s.userReturn)

	book := s.echo.Group("/book")
	book.GET("/search", s.bookSearch)
	book.GET("/info", s.bookInfo)
	book.GET("/instance", s.bookInstance)
	book.GET("/instance_info", s.bookInstanceInfo)

	admin := s.echo.Group("/admin", adminGuard(s.adminKeyHash))
	admin.POST("/add", s.adminAdd)
	admin.POST("/remove", s.adminRemove)
	admin.POST("/alter", s.adminAlter)
	admin.POST("/add_instance", s.adminAddInstance)
	admin.POST("/remove_instance", s.adminRemoveInstance)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) banner(c echo.Context) error {
	return c.String(http.StatusOK, fmt.Sprintf(banner, Version))
}

func (s *Server) health(c echo.Context) error {
	version, err := s.mgr.SchemaVersion(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Result: api.Fail(err.Error())})
	}
	return c.JSON(http.StatusOK, api.HealthResponse{Result: api.OK(), SchemaVersion: version})
}

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	switch library.KindOf(err) {
	case library.KindValidation:
		return http.StatusBadRequest
	case library.KindNotFound:
		return http.StatusNotFound
	case library.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders errors that escaped a handler, such as unknown routes
// or oversized bodies, in the wire format.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	} else {
		s.logger.Error("unhandled error", "error", err.Error())
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, api.Fail(msg))
	}
	if werr != nil {
		s.logger.Error("write error response", "error", werr.Error())
	}
}
