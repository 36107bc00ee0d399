package filters

import (
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/core"
	"gopkg.d7z.net/devserver/pkg/metrics"
)

// FilterInstFailback answers client side routes with the single page entry
// point once the rest of the chain reports not found.
var FilterInstFailback core.FilterInstance = func(config core.Params) (core.FilterCall, error) {
	var param struct {
		Path   string `json:"path"`
		Inject string `json:"inject"`
	}
	if err := config.Unmarshal(&param); err != nil {
		return nil, err
	}
	if param.Path == "" {
		return nil, errors.Errorf("filter failback: path is empty")
	}
	return func(ctx core.FilterContext, writer http.ResponseWriter, request *http.Request, next core.NextCall) error {
		err := next(ctx, writer, request)
		if (err != nil && !errors.Is(err, os.ErrNotExist)) || err == nil {
			return err
		}
		if !acceptsFallback(request, ctx.Path) {
			return err
		}
		resp, openErr := ctx.NativeOpen(ctx, param.Path, nil)
		if openErr != nil {
			if resp != nil {
				resp.Body.Close()
			}
			if errors.Is(openErr, os.ErrNotExist) {
				return err
			}
			return openErr
		}
		metrics.FallbackTotal.Inc()
		zap.L().Debug("failback", zap.String("path", ctx.Path), zap.String("index", param.Path))
		return serveResponse(writer, request, param.Path, resp, param.Inject)
	}, nil
}

// acceptsFallback follows the history api fallback rules: GET or HEAD, an
// Accept header admitting html and a last path segment without a dot.
func acceptsFallback(request *http.Request, p string) bool {
	if request.Method != http.MethodGet && request.Method != http.MethodHead {
		return false
	}
	accept := request.Header.Get("Accept")
	if !strings.Contains(accept, "text/html") && !strings.Contains(accept, "*/*") {
		return false
	}
	return !strings.Contains(path.Base(p), ".")
}
