package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/realfake-api/internal/middleware"
	"github.com/Brownie44l1/realfake-api/internal/model"
	"github.com/Brownie44l1/realfake-api/pkg/log"
	"github.com/Brownie44l1/realfake-api/pkg/response"
)

// FileField is the multipart field carrying the image.
const FileField = "file"

var ErrMissingFile = response.NewError(http.StatusBadRequest, "MISSING_FILE", "no image file provided, use 'file' as the form field name")

type Predictor interface {
	Classify(ctx context.Context, data []byte) (*model.Prediction, error)
}

type Handler struct {
	log       *logrus.Logger
	predictor Predictor
}

func NewHandler(logger *logrus.Logger, predictor Predictor) *Handler {
	return &Handler{
		log:       logger,
		predictor: predictor,
	}
}

func (h *Handler) Start(srv fiber.Router) {
	srv.Get("/health", h.Health)
	srv.Post("/predict", h.Predict)
}

func (h *Handler) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"status": "healthy"})
}

func (h *Handler) Predict(ctx *fiber.Ctx) error {
	requestID := middleware.GetRequestID(ctx)
	c := log.ContextWithRequestID(ctx.UserContext(), requestID)

	data, err := h.readUpload(ctx)
	if err != nil {
		return h.handleError(ctx, requestID, err, "read_upload")
	}

	prediction, err := h.predictor.Classify(c, data)
	if err != nil {
		return h.handleError(ctx, requestID, err, "classify")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
		"score":      prediction.Score,
		"label":      prediction.Label,
		"class":      prediction.Class,
	}).Info("Prediction successful")

	return ctx.Status(fiber.StatusOK).JSON(model.PredictionResponse{Result: prediction.Label})
}

func (h *Handler) readUpload(ctx *fiber.Ctx) ([]byte, error) {
	file, err := ctx.FormFile(FileField)
	if err != nil {
		return nil, ErrMissingFile
	}

	h.log.WithFields(log.Fields{
		"request_id": middleware.GetRequestID(ctx),
		"file_name":  file.Filename,
		"file_size":  file.Size,
	}).Debug("Received file")

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return io.ReadAll(src)
}

func (h *Handler) handleError(ctx *fiber.Ctx, requestID string, err error, operation string) error {
	fields := log.Fields{
		"request_id": requestID,
		"error":      err.Error(),
		"path":       ctx.Path(),
		"operation":  operation,
	}

	var respErr *response.Error
	if errors.As(err, &respErr) {
		body := fiber.Map{
			"error":      respErr.Err.Error(),
			"code":       respErr.Slug,
			"request_id": requestID,
		}
		if respErr.Code >= http.StatusInternalServerError {
			h.log.WithFields(fields).Error("Operation failed with error response")
		} else {
			h.log.WithFields(fields).Warn("Operation failed with error response")
			if details := err.Error(); details != respErr.Error() {
				body["details"] = details
			}
		}
		return ctx.Status(respErr.Code).JSON(body)
	}

	traceID := log.ErrorWithTraceID(fields, "Unexpected error")
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "an unexpected error occurred",
		"code":       "INTERNAL_ERROR",
		"request_id": traceID,
	})
}
