package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Middleware interface {
	NewRequestIDMiddleware() fiber.Handler
	NewLoggingMiddleware() fiber.Handler
	NewRateLimiter() fiber.Handler
}

type Options struct {
	RequestsPerSecond float64
	Burst             int
}

type middleware struct {
	rateLimiter *rateLimiter
	log         *logrus.Logger
}

func New(logger *logrus.Logger, opts Options) Middleware {
	var limiter *rateLimiter
	if opts.RequestsPerSecond > 0 {
		limiter = newRateLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}

	return &middleware{
		rateLimiter: limiter,
		log:         logger,
	}
}

func (m *middleware) NewRequestIDMiddleware() fiber.Handler {
	return NewRequestIDMiddleware()
}

func (m *middleware) NewLoggingMiddleware() fiber.Handler {
	return newLoggingMiddleware(m.log)
}

// GetRequestID returns the id assigned by the request id middleware.
func GetRequestID(ctx *fiber.Ctx) string {
	requestID, ok := ctx.Locals(RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}
