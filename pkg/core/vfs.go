package core

import (
	"context"
	"errors"
	"net/http"
	"os"
)

type PageVFS struct {
	backend Backend
}

func NewPageVFS(backend Backend) *PageVFS {
	return &PageVFS{
		backend: backend,
	}
}

func (p *PageVFS) NativeOpen(ctx context.Context, path string, headers http.Header) (*http.Response, error) {
	return p.backend.Open(ctx, path, headers)
}

func (p *PageVFS) Exists(ctx context.Context, path string) (bool, error) {
	open, err := p.NativeOpen(ctx, path, nil)
	if open != nil {
		defer open.Body.Close()
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil || open == nil {
		return false, err
	}
	return open.StatusCode == http.StatusOK, nil
}
