package filters

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.d7z.net/devserver/pkg/core"
)

var instances = map[string]core.FilterInstance{
	"block":    FilterInstBlock,
	"deps":     FilterInstDeps,
	"404":      FilterInstDefaultNotFound,
	"failback": FilterInstFailback,
	"direct":   FilterInstDirect,
}

// DefaultOrder lists the static filters outermost first.
var DefaultOrder = []string{"block", "deps", "404", "failback", "direct"}

func DefaultFilters(config map[string]core.Params) ([]core.Filter, error) {
	if config == nil {
		return nil, errors.New("config is nil")
	}
	result := make([]core.Filter, 0, len(DefaultOrder))
	for _, key := range DefaultOrder {
		item, ok := config[key]
		if !ok {
			item = make(core.Params)
		}
		if it, ok := item["Enabled"]; ok && it == false {
			zap.L().Debug("skip filter", zap.String("key", key))
			continue
		}
		call, err := instances[key](item)
		if err != nil {
			return nil, errors.Wrapf(err, "filter %s", key)
		}
		result = append(result, core.Filter{Type: key, Params: item, Call: call})
	}
	return result, nil
}

// serveResponse writes a backend file, honouring conditional and range
// requests when the body can seek. inject is placed before </body> of html.
func serveResponse(writer http.ResponseWriter, request *http.Request, name string, resp *http.Response, inject string) error {
	defer resp.Body.Close()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType != "" {
		writer.Header().Set("Content-Type", contentType)
	}
	if c := resp.Header.Get("X-Cache"); c != "" {
		writer.Header().Set("X-Cache", c)
	}
	lastMod, err := time.Parse(http.TimeFormat, resp.Header.Get("Last-Modified"))
	if err != nil {
		lastMod = time.Time{}
	}
	if inject != "" && strings.HasPrefix(contentType, "text/html") {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		writer.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(writer, request, filepath.Base(name), lastMod, bytes.NewReader(InjectHTML(data, inject)))
		return nil
	}
	if seeker, ok := resp.Body.(io.ReadSeeker); ok {
		http.ServeContent(writer, request, filepath.Base(name), lastMod, seeker)
		return nil
	}
	if l := resp.Header.Get("Content-Length"); l != "" {
		writer.Header().Set("Content-Length", l)
	}
	writer.WriteHeader(http.StatusOK)
	if request.Method == http.MethodHead {
		return nil
	}
	_, err = io.Copy(writer, resp.Body)
	return err
}

// InjectHTML inserts snippet before the last </body>, or appends it.
func InjectHTML(data []byte, snippet string) []byte {
	index := bytes.LastIndex(bytes.ToLower(data), []byte("</body>"))
	if index < 0 {
		return append(data, snippet...)
	}
	result := make([]byte, 0, len(data)+len(snippet))
	result = append(result, data[:index]...)
	result = append(result, snippet...)
	return append(result, data[index:]...)
}
