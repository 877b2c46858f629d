package model

import (
	"errors"
	"net/http"

	"github.com/Brownie44l1/realfake-api/pkg/response"
)

var (
	// ErrDecode reports bytes that are not a decodable RGB image.
	ErrDecode = response.NewError(http.StatusBadRequest, "INVALID_IMAGE", "invalid image")
	// ErrInference reports a failure inside the model artifact.
	ErrInference = response.NewError(http.StatusInternalServerError, "INFERENCE_FAILED", "inference failed")

	errInvalidMetadata = errors.New("invalid model metadata")
)
