package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/config"
	"gopkg.d7z.net/devserver/pkg/core"
	"gopkg.d7z.net/devserver/pkg/metrics"
	"gopkg.d7z.net/devserver/pkg/utils"
)

type matcher interface {
	Match(path string) bool
}

type prefixMatcher string

func (p prefixMatcher) Match(path string) bool {
	return strings.HasPrefix(path, string(p))
}

type regexpMatcher struct {
	*regexp.Regexp
}

func (r regexpMatcher) Match(path string) bool {
	return r.MatchString(path)
}

func compile(pattern string) (matcher, error) {
	switch {
	case strings.HasPrefix(pattern, "^"):
		exp, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return regexpMatcher{exp}, nil
	case config.IsGlob(pattern):
		return glob.Compile(pattern, '/')
	default:
		return prefixMatcher(pattern), nil
	}
}

type Rule struct {
	config.ProxyRule

	matcher matcher
	target  *url.URL
	proxy   *httputil.ReverseProxy
	onError core.ErrorHandler
}

type Option func(r *Router)

// WithErrorHandler renders the response of a failed proxy request, after the
// failure has been logged.
func WithErrorHandler(handler core.ErrorHandler) Option {
	return func(r *Router) {
		r.onError = handler
	}
}

// WithTransport replaces the per rule transport, mainly for tests.
func WithTransport(transport http.RoundTripper) Option {
	return func(r *Router) {
		r.transport = transport
	}
}

type Router struct {
	rules     []*Rule
	onError   core.ErrorHandler
	transport http.RoundTripper
}

func NewRouter(rules []config.ProxyRule, opts ...Option) (*Router, error) {
	router := &Router{
		rules: make([]*Rule, 0, len(rules)),
		onError: func(w http.ResponseWriter, _ *http.Request, err error) {
			code := core.StatusCode(err)
			http.Error(w, http.StatusText(code), code)
		},
	}
	for _, opt := range opts {
		opt(router)
	}
	for i, item := range rules {
		rule, err := router.newRule(item)
		if err != nil {
			return nil, errors.Wrapf(err, "proxy rule #%d (%s)", i, item.Pattern)
		}
		router.rules = append(router.rules, rule)
	}
	return router, nil
}

// Match returns the first rule, in declaration order, matching the path.
func (r *Router) Match(path string) (*Rule, bool) {
	for _, rule := range r.rules {
		if rule.matcher.Match(path) {
			return rule, true
		}
	}
	return nil, false
}

func (r *Router) Rules() []*Rule {
	return r.rules
}

func (r *Router) newRule(item config.ProxyRule) (*Rule, error) {
	m, err := compile(item.Pattern)
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(item.Target)
	if err != nil {
		return nil, err
	}
	if item.Timeout <= 0 {
		item.Timeout = config.DefaultProxyTimeout
	}
	if item.Label == "" {
		item.Label = item.Pattern
	}
	rule := &Rule{
		ProxyRule: item,
		matcher:   m,
		target:    target,
		onError:   r.onError,
	}
	transport := r.transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.DialContext = (&net.Dialer{
			Timeout:   item.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		base.ResponseHeaderTimeout = item.Timeout
		// #nosec G402 -- self-signed development backends
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: !item.Secure}
		transport = base
	}
	rule.proxy = &httputil.ReverseProxy{
		Rewrite:      rule.rewrite,
		Transport:    transport,
		ErrorHandler: rule.handleError,
		ErrorLog:     zap.NewStdLog(zap.L()),
	}
	return rule, nil
}

func (r *Rule) rewrite(req *httputil.ProxyRequest) {
	req.SetURL(r.target)
	req.SetXForwarded()
	if !r.ChangeOrigin {
		req.Out.Host = req.In.Host
	}
}

func (r *Rule) Target() *url.URL {
	return r.target
}

func (r *Rule) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	writer := utils.NewWrittenResponseWriter(w)
	zap.L().Debug("proxy hit", zap.String("rule", r.Label), zap.String("path", req.URL.Path),
		zap.String("target", r.target.String()))
	r.proxy.ServeHTTP(writer, req)
	code := writer.Status()
	if code == 0 && req.Header.Get("Upgrade") != "" {
		code = http.StatusSwitchingProtocols
	}
	metrics.ProxyRequestsTotal.WithLabelValues(r.Label, strconv.Itoa(code)).Inc()
	metrics.ProxyDuration.WithLabelValues(r.Label).Observe(time.Since(start).Seconds())
}

// handleError logs connection failures with a hint on how to start the
// backend, then answers 502 (504 on timeout). Requests cancelled by the
// client are not reported.
func (r *Rule) handleError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		metrics.ProxyErrorsTotal.WithLabelValues(r.Label, "canceled").Inc()
		zap.L().Debug("proxy request canceled", zap.String("rule", r.Label), zap.String("path", req.URL.Path))
		return
	}
	code := http.StatusBadGateway
	kind := "connect"
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = http.StatusGatewayTimeout
		kind = "timeout"
	}
	metrics.ProxyErrorsTotal.WithLabelValues(r.Label, kind).Inc()

	hint := fmt.Sprintf("make sure the backend server is running at %s", r.target)
	if r.Hint != "" {
		hint = fmt.Sprintf("%s (start it with: %s)", hint, r.Hint)
	}
	zap.L().Error(fmt.Sprintf("proxy error (%s): %v", r.Label, err),
		zap.String("rule", r.Label),
		zap.String("path", req.URL.Path),
		zap.String("target", r.target.String()),
		zap.String("hint", hint),
	)
	r.onError(w, req, &core.StatusError{Code: code, Hint: hint, Err: err})
}
