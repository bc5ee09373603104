package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorFormatting(t *testing.T) {
	assert.Equal(t, "BAD_REQUEST: invalid JSON body", InvalidJSON().Error())
	assert.Equal(t, "VALIDATION_FAILED: request validation failed (email: must be a valid email)",
		Validation("email: must be a valid email").Error())

	var nilErr *APIError
	assert.Equal(t, "", nilErr.Error())
}

func TestAPIErrorUnwrapsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("decode: %w", BadRequest("bad", "field"))

	var apiErr *APIError
	assert.True(t, errors.As(wrapped, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, "field", apiErr.Details)
	assert.Equal(t, http.StatusServiceUnavailable, ServiceUnavailable("redis").HTTPStatus)
}
