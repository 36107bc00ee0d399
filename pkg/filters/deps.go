package filters

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/core"
	"gopkg.d7z.net/devserver/pkg/prebundle"
)

// FilterInstDeps redirects the bare URL of a pre-bundled dependency to its
// entry point.
var FilterInstDeps core.FilterInstance = func(config core.Params) (core.FilterCall, error) {
	var param struct {
		Entries map[string]string `json:"entries"`
		Code    int               `json:"code"`
	}
	if err := config.Unmarshal(&param); err != nil {
		return nil, err
	}
	if param.Code == 0 {
		param.Code = http.StatusFound
	}
	if param.Code < 300 || param.Code > 399 {
		return nil, fmt.Errorf("invalid code: %d", param.Code)
	}
	return func(ctx core.FilterContext, writer http.ResponseWriter, request *http.Request, next core.NextCall) error {
		if !strings.HasPrefix(ctx.Path, prebundle.URLPrefix) {
			return next(ctx, writer, request)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(ctx.Path, prebundle.URLPrefix), "/")
		entry, ok := param.Entries[name]
		if !ok {
			return next(ctx, writer, request)
		}
		target, err := url.Parse(entry)
		if err != nil {
			return err
		}
		target.RawQuery = request.URL.RawQuery
		zap.L().Debug("redirect", zap.String("src", ctx.Path), zap.String("dst", target.String()))
		http.Redirect(writer, request, target.String(), param.Code)
		return nil
	}, nil
}
