package core

import (
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusNotFound, StatusCode(os.ErrNotExist))
	assert.Equal(t, http.StatusNotFound, StatusCode(fmt.Errorf("open: %w", os.ErrNotExist)))
	assert.Equal(t, http.StatusForbidden, StatusCode(os.ErrPermission))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("boom")))

	err := fmt.Errorf("wrapped: %w", &StatusError{Code: http.StatusBadGateway, Hint: "start backend", Err: fmt.Errorf("connection refused")})
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))
	assert.Equal(t, "start backend", ErrorHint(err))
	assert.Equal(t, "", ErrorHint(os.ErrNotExist))
}
