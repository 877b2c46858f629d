package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/realfake-api/pkg/log"
)

// newLoggingMiddleware writes one access line per request. Upload bodies are
// never logged.
func newLoggingMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		entry := logger.WithFields(log.Fields{
			"request_id":    GetRequestID(c),
			"method":        c.Method(),
			"path":          c.Path(),
			"status":        status,
			"latency_ms":    time.Since(start).Milliseconds(),
			"ip":            c.IP(),
			"user_agent":    c.Get(fiber.HeaderUserAgent),
			"request_size":  len(c.Request().Body()),
			"response_size": len(c.Response().Body()),
		})

		switch {
		case status >= fiber.StatusInternalServerError:
			entry.Error("Server error")
		case status >= fiber.StatusBadRequest:
			entry.Warn("Client error")
		default:
			entry.Info("Success")
		}

		return nil
	}
}
