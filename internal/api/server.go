package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/coursecompass/internal/catalog"
	"github.com/coursecompass/internal/recommend"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
}

// Deps carries the constructed services the server routes to.
type Deps struct {
	Recommender *recommend.Service
	Reporter    *recommend.Reporter
	Catalog     catalog.Store
	JWTSecret   string
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
	}

	server.setupRoutes(deps)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(deps Deps) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	rh := &recommendHandlers{service: deps.Recommender, reporter: deps.Reporter}
	ch := &courseHandlers{catalog: deps.Catalog}

	v1 := s.echo.Group("/api/v1")

	// Recommendation endpoints; anonymous callers are tolerated
	v1.POST("/recommend", rh.recommend, OptionalIdentity(deps.JWTSecret))
	v1.GET("/stats", rh.stats, RequireIdentity(deps.JWTSecret))

	// Course catalog CRUD
	v1.GET("/courses", ch.list)
	v1.GET("/courses/:id", ch.get)
	v1.POST("/courses", ch.create, RequireIdentity(deps.JWTSecret))
	v1.PUT("/courses/:id", ch.update, RequireIdentity(deps.JWTSecret))
	v1.DELETE("/courses/:id", ch.delete, RequireIdentity(deps.JWTSecret))
}

// Start begins the API server and blocks until an interrupt triggers a
// graceful shutdown.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
