package providers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// Mount serves the files below Dir under the URL prefix Prefix.
type Mount struct {
	Prefix string
	Dir    string
}

type LocalProvider struct {
	mounts []Mount
}

// NewLocalProvider looks mounts up in the given order, the first mount holding
// a regular file for the path wins.
func NewLocalProvider(mounts ...Mount) *LocalProvider {
	result := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		if m.Dir == "" {
			continue
		}
		prefix := "/" + strings.Trim(m.Prefix, "/")
		if prefix != "/" {
			prefix += "/"
		}
		result = append(result, Mount{Prefix: prefix, Dir: m.Dir})
	}
	return &LocalProvider{
		mounts: result,
	}
}

func (l *LocalProvider) Mounts() []Mount {
	return l.mounts
}

func (l *LocalProvider) Close() error {
	return nil
}

func (l *LocalProvider) Resolve(p string) (string, os.FileInfo, error) {
	p = path.Clean("/" + p)
	for _, m := range l.mounts {
		if !strings.HasPrefix(p, m.Prefix) && p+"/" != m.Prefix {
			continue
		}
		rel := path.Clean("/" + strings.TrimPrefix(p, m.Prefix))
		full := filepath.Join(m.Dir, filepath.FromSlash(rel))
		stat, err := os.Stat(full)
		if err != nil || stat.IsDir() {
			continue
		}
		return full, stat, nil
	}
	return "", nil, os.ErrNotExist
}

func (l *LocalProvider) Open(_ context.Context, p string, _ http.Header) (*http.Response, error) {
	full, stat, err := l.Resolve(p)
	if err != nil {
		return nil, err
	}
	open, err := os.Open(full)
	if err != nil {
		return nil, errors.Join(err, os.ErrNotExist)
	}
	header := make(http.Header)
	header.Set("Content-Length", strconv.FormatInt(stat.Size(), 10))
	header.Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))
	if contentType := mime.TypeByExtension(filepath.Ext(full)); contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          open,
		ContentLength: stat.Size(),
	}, nil
}
