package pkg

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.d7z.net/devserver/pkg/core"
)

func TestErrorHandler(t *testing.T) {
	handler, err := NewErrorHandler("")
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/broken", nil)
	handler(recorder, request, errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "disk on fire")
	assert.Contains(t, recorder.Body.String(), "request -")

	recorder = httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodHead, "/missing", nil), os.ErrNotExist)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Empty(t, recorder.Body.String())

	recorder = httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodGet, "/api/x", nil), &core.StatusError{
		Code: http.StatusGatewayTimeout,
		Hint: "is the backend up?",
		Err:  errors.New("timeout awaiting response headers"),
	})
	assert.Equal(t, http.StatusGatewayTimeout, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "504 Gateway Timeout")
	assert.Contains(t, recorder.Body.String(), "is the backend up?")
}

func TestCustomErrorPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.html")
	require.NoError(t, os.WriteFile(path, []byte(`{{ .Code }}:{{ .Path }}`), 0o644))
	handler, err := NewErrorHandler(path)
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodGet, "/x", nil), os.ErrPermission)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, "403:/x", recorder.Body.String())

	_, err = NewErrorHandler(filepath.Join(t.TempDir(), "missing.html"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{{ .Code `), 0o644))
	_, err = NewErrorHandler(path)
	assert.Error(t, err)
}

func TestErrorHandlerEscapes(t *testing.T) {
	handler, err := NewErrorHandler("")
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/%3Cimg%20src=x%20onerror=alert(1)%3E.js", nil)
	request.Header.Set(RequestIDHeader, `"><script>alert(2)</script>`)
	handler(recorder, request, errors.New("<b>bad</b>"))
	body := recorder.Body.String()
	assert.NotContains(t, body, "<img")
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "<b>bad</b>")
	assert.Contains(t, body, "&lt;img src=x onerror=alert(1)&gt;.js")
	assert.Contains(t, body, "&lt;b&gt;bad&lt;/b&gt;")
}
