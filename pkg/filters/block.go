package filters

import (
	"net/http"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/core"
)

var FilterInstBlock core.FilterInstance = func(config core.Params) (core.FilterCall, error) {
	var param struct {
		Code          int      `json:"code"`
		Message       string   `json:"message"`
		Patterns      []string `json:"patterns"`
		AllowDotfiles bool     `json:"allow_dotfiles"`
	}
	if err := config.Unmarshal(&param); nil != err {
		return nil, err
	}
	if param.Code == 0 {
		param.Code = http.StatusForbidden
	}
	if param.Message == "" {
		param.Message = http.StatusText(param.Code)
	}
	patterns := make([]glob.Glob, 0, len(param.Patterns))
	for _, item := range param.Patterns {
		g, err := glob.Compile(item, '/')
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", item)
		}
		patterns = append(patterns, g)
	}
	blocked := func(rawPath, path string) bool {
		for _, segment := range strings.Split(rawPath, "/") {
			if segment == ".." {
				return true
			}
			if !param.AllowDotfiles && strings.HasPrefix(segment, ".") && segment != ".well-known" {
				return true
			}
		}
		for _, g := range patterns {
			if g.Match(path) {
				return true
			}
		}
		return false
	}
	return func(ctx core.FilterContext, writer http.ResponseWriter, request *http.Request, next core.NextCall) error {
		if !blocked(request.URL.Path, ctx.Path) {
			return next(ctx, writer, request)
		}
		zap.L().Debug("blocked", zap.String("path", ctx.Path))
		writer.WriteHeader(param.Code)
		if param.Message != "" {
			_, _ = writer.Write([]byte(param.Message))
		}
		return nil
	}, nil
}
