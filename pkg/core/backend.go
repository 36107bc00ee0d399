package core

import (
	"context"
	"io"
	"net/http"
)

type Backend interface {
	io.Closer
	// Open return file or error (os.ErrNotExist when missing)
	Open(ctx context.Context, path string, headers http.Header) (*http.Response, error)
}
