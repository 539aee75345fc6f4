package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/memdb/internal/errors"
)

func TestEngineError_ErrorAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := errors.StoreUnavailable("postgres unreachable", cause)

	assert.Equal(t, "postgres unreachable: connection refused", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, errors.ErrCodeStoreUnavailable, errors.GetCode(errors.StoreUnavailable("down", nil)))
	assert.Equal(t, errors.ErrCodeEngineStopped, errors.GetCode(errors.EngineStopped("get")))
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(fmt.Errorf("plain")))

	// Codes survive wrapping.
	wrapped := fmt.Errorf("flush failed: %w", errors.Timeout("deadline", nil))
	assert.Equal(t, errors.ErrCodeTimeout, errors.GetCode(wrapped))
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, errors.IsRetriable(errors.StoreUnavailable("down", nil)))
	assert.True(t, errors.IsRetriable(errors.Timeout("slow", nil)))
	assert.False(t, errors.IsRetriable(errors.SchemaError("users", "bad ddl", nil)))
	assert.False(t, errors.IsRetriable(errors.InvalidArgument("nope", nil)))
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *errors.EngineError
		want int
	}{
		{errors.InvalidArgument("bad", nil), http.StatusBadRequest},
		{errors.KeyNotFound("users", "a"), http.StatusNotFound},
		{errors.StoreUnavailable("down", nil), http.StatusServiceUnavailable},
		{errors.EngineStopped("get"), http.StatusServiceUnavailable},
		{errors.Timeout("slow", nil), http.StatusGatewayTimeout},
		{errors.SchemaError("users", "bad", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.ToHTTPStatus())
	}
}
