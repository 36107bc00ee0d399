package pkg

import (
	_ "embed"
	"net/http"
	"os"
	"html/template"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/core"
	"gopkg.d7z.net/devserver/pkg/utils"
)

//go:embed errors.html.tmpl
var defaultErrPage string

// NewErrorHandler renders failures with the template at path, or the built in
// page when path is empty.
func NewErrorHandler(path string) (core.ErrorHandler, error) {
	page := utils.MustTemplate(defaultErrPage)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read file %s", path)
		}
		page, err = utils.NewTemplate("err", string(data))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse template %s", path)
		}
	}
	return errorHandler(page), nil
}

func errorHandler(page *template.Template) core.ErrorHandler {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		code := core.StatusCode(err)
		var message string
		if code != http.StatusNotFound && err != nil {
			message = err.Error()
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		if r.Method == http.MethodHead {
			return
		}
		if execErr := page.Execute(w, utils.NewTemplateInject(r, map[string]any{
			"UUID":   r.Header.Get(RequestIDHeader),
			"Error":  message,
			"Hint":   core.ErrorHint(err),
			"Path":   r.URL.Path,
			"Code":   code,
			"Status": http.StatusText(code),
		})); execErr != nil {
			zap.L().Error("failed to render error page", zap.Error(execErr))
		}
	}
}
