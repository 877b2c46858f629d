package config

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/realfake-api/internal/handlers"
	"github.com/Brownie44l1/realfake-api/internal/middleware"
)

type ServerOption func(*Server) error

type Server struct {
	engine     *fiber.App
	cfg        *Config
	log        *logrus.Logger
	middleware middleware.Middleware
	predictor  handlers.Predictor
	handlers   []handler
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.predictor == nil {
		return nil, fmt.Errorf("predictor is required")
	}
	if server.engine == nil {
		server.engine = NewFiber(server.cfg)
	}
	if server.middleware == nil {
		server.middleware = middleware.New(server.log, middleware.Options{
			RequestsPerSecond: server.cfg.RateLimitRPS,
			Burst:             server.cfg.RateLimitBurst,
		})
	}

	return server, nil
}

func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		s.cfg = cfg
		return nil
	}
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithMiddleware(m middleware.Middleware) ServerOption {
	return func(s *Server) error {
		s.middleware = m
		return nil
	}
}

func WithPredictor(predictor handlers.Predictor) ServerOption {
	return func(s *Server) error {
		s.predictor = predictor
		return nil
	}
}

// RegisterHandler installs the middleware chain and every route. It must run
// before Run.
func (s *Server) RegisterHandler() {
	s.engine.Use(
		s.middleware.NewRequestIDMiddleware(),
		s.middleware.NewLoggingMiddleware(),
		recover.New(),
		newCORS(s.cfg),
		s.middleware.NewRateLimiter(),
	)

	s.handlers = append(s.handlers, handlers.NewHandler(s.log, s.predictor))

	for _, h := range s.handlers {
		h.Start(s.engine)
	}
}

func (s *Server) Run() error {
	s.log.Infof("Server starting on %s", s.cfg.Addr())
	return s.engine.Listen(s.cfg.Addr())
}

func (s *Server) Shutdown() error {
	return s.engine.ShutdownWithTimeout(s.cfg.ShutdownTimeout)
}

func (s *Server) App() *fiber.App {
	return s.engine
}
