package pkg

import (
	"context"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.d7z.net/devserver/pkg/config"
	"gopkg.d7z.net/devserver/pkg/core"
	"gopkg.d7z.net/devserver/pkg/filters"
	"gopkg.d7z.net/devserver/pkg/livereload"
	"gopkg.d7z.net/devserver/pkg/prebundle"
	"gopkg.d7z.net/devserver/pkg/providers"
	"gopkg.d7z.net/devserver/pkg/proxy"
	"gopkg.d7z.net/devserver/pkg/utils"
)

const (
	RequestIDHeader = "X-Request-ID"

	HealthPath  = "/__devserver/health"
	MetricsPath = "/__devserver/metrics"
)

type ServerOptions struct {
	Mounts       []providers.Mount
	LiveReload   bool
	Prebundle    bool
	Debounce     time.Duration
	ErrorHandler core.ErrorHandler
}

type ServerOption func(options *ServerOptions)

// WithMounts replaces the mounts derived from the configuration.
func WithMounts(mounts ...providers.Mount) ServerOption {
	return func(options *ServerOptions) {
		options.Mounts = mounts
	}
}

func WithLiveReload(enabled bool) ServerOption {
	return func(options *ServerOptions) {
		options.LiveReload = enabled
	}
}

func WithPrebundle(enabled bool) ServerOption {
	return func(options *ServerOptions) {
		options.Prebundle = enabled
	}
}

func WithDebounce(debounce time.Duration) ServerOption {
	return func(options *ServerOptions) {
		options.Debounce = debounce
	}
}

func WithErrorHandler(handler core.ErrorHandler) ServerOption {
	return func(options *ServerOptions) {
		options.ErrorHandler = handler
	}
}

type Server struct {
	config  *config.Config
	options *ServerOptions

	backend *providers.ProviderCache
	vfs     *core.PageVFS
	router  *proxy.Router
	entries []prebundle.Entry
	call    core.NextCall

	hub     *livereload.Hub
	watcher *livereload.Watcher
	metrics http.Handler
}

func NewDevServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &ServerOptions{
		LiveReload: cfg.Server.LiveReload,
		Prebundle:  true,
		Debounce:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(options)
	}
	var err error
	if options.ErrorHandler == nil {
		if options.ErrorHandler, err = NewErrorHandler(cfg.Server.ErrorPage); err != nil {
			return nil, err
		}
	}
	var entries []prebundle.Entry
	if options.Prebundle {
		if entries, err = prebundle.Resolve(cfg.Root, cfg.Optimize.Include); err != nil {
			return nil, err
		}
	}
	mounts := options.Mounts
	if mounts == nil {
		mounts = DefaultMounts(cfg, entries)
	}
	local := providers.NewLocalProvider(mounts...)
	backend := providers.NewProviderCache(local, cfg.Cache.Entries, cfg.Cache.Limit(), cfg.Cache.TTL)
	router, err := proxy.NewRouter(cfg.Proxy, proxy.WithErrorHandler(options.ErrorHandler))
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:  cfg,
		options: options,
		backend: backend,
		vfs:     core.NewPageVFS(backend),
		router:  router,
		entries: entries,
		metrics: promhttp.Handler(),
	}

	inject := ""
	if options.LiveReload {
		dirs := make([]string, 0, len(mounts))
		for _, m := range local.Mounts() {
			if !strings.HasPrefix(m.Prefix, prebundle.URLPrefix) {
				dirs = append(dirs, m.Dir)
			}
		}
		outDir := cfg.Path(cfg.Build.OutDir)
		s.watcher, err = livereload.NewWatcher(options.Debounce, func(p string) bool {
			return livereload.DefaultSkip(p) || filepath.Clean(p) == outDir
		}, dirs...)
		if err != nil {
			return nil, err
		}
		s.hub = livereload.NewHub()
		s.watcher.OnChange(func(paths []string) {
			s.backend.Purge()
			sent := s.hub.Broadcast(livereload.MessageReload)
			zap.L().Info("page reload", zap.Int("files", len(paths)), zap.Int("clients", sent))
		})
		inject = livereload.Script
	}

	depEntries := make(map[string]string, len(entries))
	for _, entry := range entries {
		depEntries[entry.Name] = entry.URL()
	}
	stack, err := filters.DefaultFilters(map[string]core.Params{
		"block": {"patterns": cfg.Server.Deny},
		"deps":  {"entries": depEntries},
		"failback": {
			"Enabled": cfg.Server.Fallback.Enabled,
			"path":    cfg.Server.Fallback.Index,
			"inject":  inject,
		},
		"direct": {"inject": inject},
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	stack = append([]core.Filter{{Type: "proxy", Call: filters.FilterProxy(router)}}, stack...)
	s.call = core.Chain(stack...)
	return s, nil
}

// DefaultMounts serves pre-bundled dependencies, aliases, the public
// directory and finally the project root, in that order.
func DefaultMounts(cfg *config.Config, entries []prebundle.Entry) []providers.Mount {
	mounts := make([]providers.Mount, 0, len(entries)+len(cfg.Resolve.Alias)+2)
	for _, entry := range entries {
		mounts = append(mounts, providers.Mount{Prefix: entry.Prefix(), Dir: entry.Dir})
	}
	aliases := make([]string, 0, len(cfg.Resolve.Alias))
	for alias := range cfg.Resolve.Alias {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})
	for _, alias := range aliases {
		mounts = append(mounts, providers.Mount{Prefix: alias, Dir: cfg.Path(cfg.Resolve.Alias[alias])})
	}
	if cfg.Server.Public != "" {
		mounts = append(mounts, providers.Mount{Prefix: "/", Dir: cfg.Path(cfg.Server.Public)})
	}
	return append(mounts, providers.Mount{Prefix: "/", Dir: cfg.Root})
}

func (s *Server) Router() *proxy.Router {
	return s.router
}

func (s *Server) Entries() []prebundle.Entry {
	return s.entries
}

func (s *Server) Hub() *livereload.Hub {
	return s.hub
}

func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	switch request.URL.Path {
	case HealthPath:
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("OK"))
	case MetricsPath:
		s.metrics.ServeHTTP(writer, request)
	case livereload.Path:
		if s.hub == nil {
			http.NotFound(writer, request)
			return
		}
		s.hub.ServeHTTP(writer, request)
	default:
		s.serve(writer, request)
	}
}

func (s *Server) serve(writer http.ResponseWriter, request *http.Request) {
	start := time.Now()
	requestID := request.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		request.Header.Set(RequestIDHeader, requestID)
	}
	writer.Header().Set(RequestIDHeader, requestID)
	w := utils.NewWrittenResponseWriter(writer)
	ctx := core.FilterContext{
		Context:   request.Context(),
		PageVFS:   s.vfs,
		Path:      path.Clean("/" + request.URL.Path),
		RequestID: requestID,
	}
	if strings.HasSuffix(request.URL.Path, "/") && ctx.Path != "/" {
		ctx.Path += "/"
	}
	err := s.call(ctx, w, request)
	if err != nil {
		if w.IsWritten() {
			zap.L().Warn("request failed after response started", zap.String("id", requestID), zap.Error(err))
		} else {
			s.options.ErrorHandler(w, request, err)
		}
	}
	zap.L().Debug("request",
		zap.String("id", requestID),
		zap.String("method", request.Method),
		zap.String("path", request.URL.Path),
		zap.Int("status", w.Status()),
		zap.String("remote", utils.GetRemoteIP(request)),
		zap.Duration("duration", time.Since(start)),
	)
}

// Run warms the content cache with the pre-bundled entry points, then
// watches for file changes until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if index := s.config.Server.Fallback; index.Enabled {
		if ok, _ := s.vfs.Exists(ctx, index.Index); !ok {
			zap.L().Warn("fallback entry not found", zap.String("path", index.Index), zap.String("root", s.config.Root))
		}
	}
	s.warm(ctx)
	if s.watcher == nil {
		<-ctx.Done()
		return nil
	}
	return s.watcher.Run(ctx)
}

func (s *Server) warm(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, entry := range s.entries {
		g.Go(func() error {
			resp, err := s.backend.Open(ctx, entry.URL(), nil)
			if err != nil {
				zap.L().Warn("failed to warm dependency", zap.String("name", entry.Name), zap.Error(err))
				return nil
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Server) Close() error {
	if s.hub != nil {
		_ = s.hub.Close()
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	return s.backend.Close()
}
