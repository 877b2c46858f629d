package config

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/realfake-api/internal/middleware"
	"github.com/Brownie44l1/realfake-api/internal/model"
)

type stubPredictor struct {
	score float32
	panic bool
}

func (s stubPredictor) Classify(_ context.Context, _ []byte) (*model.Prediction, error) {
	if s.panic {
		panic("model exploded")
	}
	return &model.Prediction{Score: s.score, Label: model.Label(s.score)}, nil
}

func testConfig() *Config {
	return &Config{
		AppName:          "realfake-api-test",
		Env:              "test",
		Host:             "127.0.0.1",
		Port:             5000,
		LogLevel:         "debug",
		ModelPath:        "models/model.onnx",
		CORSAllowOrigins: []string{"*"},
		BodyLimitMB:      1,
		ShutdownTimeout:  time.Second,
	}
}

func newTestServer(t *testing.T, cfg *Config, p stubPredictor) *Server {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := NewServer(
		WithConfig(cfg),
		WithLogger(logger),
		WithPredictor(p),
	)
	require.NoError(t, err)
	srv.RegisterHandler()
	return srv
}

func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "upload.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(fiber.MethodPost, "/predict", body)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())
	return req
}

func readJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, jsoniter.Unmarshal(raw, &out), string(raw))
	return out
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	logger := logrus.New()

	_, err := NewServer(WithLogger(logger), WithPredictor(stubPredictor{}))
	assert.Error(t, err)

	_, err = NewServer(WithConfig(testConfig()), WithPredictor(stubPredictor{}))
	assert.Error(t, err)

	_, err = NewServer(WithConfig(testConfig()), WithLogger(logger))
	assert.Error(t, err)

	_, err = NewServer(WithConfig(nil))
	assert.Error(t, err)
}

func TestServer_Predict(t *testing.T) {
	srv := newTestServer(t, testConfig(), stubPredictor{score: 0.8})

	req := uploadRequest(t, []byte("image bytes"))
	req.Header.Set(fiber.HeaderOrigin, "http://localhost:5173")

	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDKey))

	body := readJSON(t, resp)
	assert.Equal(t, float64(1), body["result"])
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := newTestServer(t, testConfig(), stubPredictor{})

	req := httptest.NewRequest(fiber.MethodOptions, "/predict", nil)
	req.Header.Set(fiber.HeaderOrigin, "https://any.example")
	req.Header.Set(fiber.HeaderAccessControlRequestMethod, fiber.MethodPost)

	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
	assert.Contains(t, resp.Header.Get(fiber.HeaderAccessControlAllowMethods), fiber.MethodPost)
	assert.Empty(t, resp.Header.Get(fiber.HeaderAccessControlAllowCredentials))
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, testConfig(), stubPredictor{})

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", readJSON(t, resp)["status"])
}

func TestServer_UnknownRouteIsJSON(t *testing.T) {
	srv := newTestServer(t, testConfig(), stubPredictor{})

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/predict/image", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", readJSON(t, resp)["code"])
}

func TestServer_RecoversFromPanic(t *testing.T) {
	srv := newTestServer(t, testConfig(), stubPredictor{panic: true})

	resp, err := srv.App().Test(uploadRequest(t, []byte("image bytes")))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", readJSON(t, resp)["code"])
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	srv := newTestServer(t, cfg, stubPredictor{})

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", readJSON(t, resp)["code"])
}

func TestServer_WithMiddleware(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	// The config leaves limiting off; the injected middleware turns it on.
	srv, err := NewServer(
		WithConfig(testConfig()),
		WithLogger(logger),
		WithMiddleware(middleware.New(logger, middleware.Options{RequestsPerSecond: 0.001, Burst: 1})),
		WithPredictor(stubPredictor{}),
	)
	require.NoError(t, err)
	srv.RegisterHandler()

	resp, err := srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = srv.App().Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestErrorHandler_PayloadTooLarge(t *testing.T) {
	app := NewFiber(testConfig())
	app.Get("/big", func(c *fiber.Ctx) error {
		return fiber.ErrRequestEntityTooLarge
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/big", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", readJSON(t, resp)["code"])
}
