package config

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	jsoniter "github.com/json-iterator/go"

	"github.com/Brownie44l1/realfake-api/internal/middleware"
)

func NewFiber(cfg *Config) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:               cfg.AppName,
			BodyLimit:             cfg.BodyLimit(),
			DisableKeepalive:      false,
			StrictRouting:         true,
			CaseSensitive:         true,
			EnablePrintRoutes:     cfg.Env == "development",
			DisableStartupMessage: cfg.Env == "test",
			JSONEncoder:           jsoniter.Marshal,
			JSONDecoder:           jsoniter.Unmarshal,
			ErrorHandler:          errorHandler,
		})

	return app
}

func newCORS(cfg *Config) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORSAllowOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept," + middleware.RequestIDKey,
		ExposeHeaders:    middleware.RequestIDKey,
		AllowCredentials: false,
	})
}

var statusSlugs = map[int]string{
	fiber.StatusBadRequest:            "BAD_REQUEST",
	fiber.StatusNotFound:              "NOT_FOUND",
	fiber.StatusMethodNotAllowed:      "METHOD_NOT_ALLOWED",
	fiber.StatusRequestEntityTooLarge: "PAYLOAD_TOO_LARGE",
	fiber.StatusTooManyRequests:       "RATE_LIMITED",
}

// errorHandler renders errors that escape the handlers, including the ones
// fiber raises itself, as JSON.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "an unexpected error occurred"

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	slug, ok := statusSlugs[code]
	if !ok {
		slug = "INTERNAL_ERROR"
		if code < fiber.StatusInternalServerError {
			slug = "REQUEST_FAILED"
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"code":       slug,
		"request_id": middleware.GetRequestID(c),
	})
}
