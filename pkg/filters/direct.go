package filters

import (
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/core"
)

var FilterInstDirect core.FilterInstance = func(config core.Params) (core.FilterCall, error) {
	var param struct {
		Index  string `json:"index"`
		Inject string `json:"inject"`
	}
	if err := config.Unmarshal(&param); err != nil {
		return nil, err
	}
	if param.Index == "" {
		param.Index = "index.html"
	}
	return func(ctx core.FilterContext, writer http.ResponseWriter, request *http.Request, next core.NextCall) error {
		if request.Method != http.MethodGet && request.Method != http.MethodHead {
			return next(ctx, writer, request)
		}
		defaultPath := strings.TrimSuffix(ctx.Path, "/")
		candidates := []string{ctx.Path, defaultPath + "/" + param.Index}
		if strings.HasSuffix(ctx.Path, "/") {
			candidates = candidates[1:]
		}
		var headers http.Header
		if r := request.Header.Get("Range"); r != "" {
			headers = http.Header{"Range": {r}}
		}
		for _, p := range candidates {
			zap.L().Debug("direct fetch", zap.String("path", p))
			resp, err := ctx.NativeOpen(ctx, p, headers)
			if err != nil {
				if resp != nil {
					resp.Body.Close()
				}
				if !errors.Is(err, os.ErrNotExist) {
					return err
				}
				continue
			}
			return serveResponse(writer, request, p, resp, param.Inject)
		}
		return next(ctx, writer, request)
	}, nil
}
