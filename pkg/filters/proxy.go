package filters

import (
	"net/http"

	"gopkg.d7z.net/devserver/pkg/core"
	"gopkg.d7z.net/devserver/pkg/proxy"
)

// FilterProxy forwards requests matching a rule of router, everything else
// continues down the chain.
func FilterProxy(router *proxy.Router) core.FilterCall {
	return func(ctx core.FilterContext, writer http.ResponseWriter, request *http.Request, next core.NextCall) error {
		rule, ok := router.Match(request.URL.Path)
		if !ok {
			return next(ctx, writer, request)
		}
		rule.ServeHTTP(writer, request)
		return nil
	}
}
