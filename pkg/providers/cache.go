package providers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/core"
	"gopkg.d7z.net/devserver/pkg/metrics"
	"gopkg.d7z.net/devserver/pkg/utils"
)

type cacheItem struct {
	notFound bool
	header   http.Header
	data     []byte
}

type ProviderCache struct {
	parent core.Backend

	cacheBlob      *expirable.LRU[string, *cacheItem]
	cacheBlobLimit int64
	disabled       bool
}

func NewProviderCache(
	backend core.Backend,
	entries int,
	cacheBlobLimit int64,
	ttl time.Duration,
) *ProviderCache {
	disabled := entries <= 0
	if disabled {
		entries = 1
	}
	return &ProviderCache{
		parent:         backend,
		cacheBlob:      expirable.NewLRU[string, *cacheItem](entries, nil, ttl),
		cacheBlobLimit: cacheBlobLimit,
		disabled:       disabled,
	}
}

func (c *ProviderCache) Close() error {
	c.cacheBlob.Purge()
	return c.parent.Close()
}

// Purge drops every cached body, called whenever a watched file changes.
func (c *ProviderCache) Purge() {
	c.cacheBlob.Purge()
}

func (c *ProviderCache) Len() int {
	return c.cacheBlob.Len()
}

func (c *ProviderCache) Open(ctx context.Context, path string, headers http.Header) (*http.Response, error) {
	if c.disabled || (headers != nil && headers.Get("Range") != "") {
		// ignore custom header
		metrics.CacheLookupsTotal.WithLabelValues("bypass").Inc()
		return c.parent.Open(ctx, path, headers)
	}
	if item, ok := c.cacheBlob.Get(path); ok {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		if item.notFound {
			return nil, os.ErrNotExist
		}
		respHeader := item.header.Clone()
		respHeader.Set("X-Cache", "HIT")
		return &http.Response{
			Status:        "200 OK",
			StatusCode:    http.StatusOK,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Body:          utils.NopCloser{ReadSeeker: bytes.NewReader(item.data)},
			ContentLength: int64(len(item.data)),
			Header:        respHeader,
		}, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	open, err := c.parent.Open(ctx, path, http.Header{})
	if err != nil || open == nil {
		if open != nil {
			_ = open.Body.Close()
		}
		// 缓存 404 结果，文件变更时统一清理
		if errors.Is(err, os.ErrNotExist) {
			c.cacheBlob.Add(path, &cacheItem{notFound: true})
		}
		return nil, err
	}
	open.Header.Set("X-Cache", "MISS")
	length, err := strconv.ParseInt(open.Header.Get("Content-Length"), 10, 64)
	// 无法计算大小或超过最大大小，跳过
	if err != nil || length > c.cacheBlobLimit {
		return open, nil
	}
	defer open.Body.Close()
	allBytes, err := io.ReadAll(open.Body)
	if err != nil {
		return nil, err
	}
	header := open.Header.Clone()
	header.Del("X-Cache")
	c.cacheBlob.Add(path, &cacheItem{header: header, data: allBytes})
	zap.L().Debug("cached", zap.String("path", path), zap.Int("size", len(allBytes)))
	open.Body = utils.NopCloser{
		ReadSeeker: bytes.NewReader(allBytes),
	}
	return open, nil
}
