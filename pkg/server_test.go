package pkg

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gopkg.d7z.net/devserver/pkg/config"
	"gopkg.d7z.net/devserver/pkg/livereload"
)

type testServer struct {
	t      *testing.T
	root   string
	config *config.Config
	server *Server
}

func newTestServer(t *testing.T, setup func(cfg *config.Config)) *testServer {
	t.Helper()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Server.LiveReload = false
	if setup != nil {
		setup(cfg)
	}
	return &testServer{t: t, root: cfg.Root, config: cfg}
}

// start builds the server once the test files are in place.
func (s *testServer) start(opts ...ServerOption) *testServer {
	s.t.Helper()
	server, err := NewDevServer(s.config, opts...)
	require.NoError(s.t, err)
	s.server = server
	s.t.Cleanup(func() {
		_ = server.Close()
	})
	return s
}

func (s *testServer) AddFile(path, data string, args ...any) {
	s.t.Helper()
	join := filepath.Join(s.root, filepath.FromSlash(path))
	require.NoError(s.t, os.MkdirAll(filepath.Dir(join), 0o755))
	if len(args) > 0 {
		data = fmt.Sprintf(data, args...)
	}
	require.NoError(s.t, os.WriteFile(join, []byte(data), 0o644))
}

func (s *testServer) Do(request *http.Request) (string, *http.Response) {
	recorder := httptest.NewRecorder()
	s.server.ServeHTTP(recorder, request)
	response := recorder.Result()
	defer response.Body.Close()
	all, _ := io.ReadAll(response.Body)
	return string(all), response
}

func (s *testServer) OpenPage(url string) (string, *http.Response) {
	request := httptest.NewRequest(http.MethodGet, url, nil)
	request.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	return s.Do(request)
}

func (s *testServer) OpenFile(url string) (string, *http.Response) {
	request := httptest.NewRequest(http.MethodGet, url, nil)
	request.Header.Set("Accept", "application/javascript")
	return s.Do(request)
}

func TestServerProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Request-ID", r.Header.Get(RequestIDHeader))
		_, _ = fmt.Fprintf(w, "%s %s host=%s", r.Method, r.URL.RequestURI(), r.Host)
	}))
	defer backend.Close()
	host := strings.TrimPrefix(backend.URL, "http://")

	server := newTestServer(t, func(cfg *config.Config) {
		for i := range cfg.Proxy {
			cfg.Proxy[i].Target = backend.URL
		}
	})
	server.AddFile("index.html", "<html><body>app</body></html>")
	server.start(WithPrebundle(false))

	data, resp := server.OpenFile("http://localhost:3000/api/users/?page=2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GET /api/users/?page=2 host="+host, data)
	assert.NotEmpty(t, resp.Header.Get("X-Seen-Request-ID"))
	assert.Equal(t, resp.Header.Get(RequestIDHeader), resp.Header.Get("X-Seen-Request-ID"))

	data, resp = server.Do(httptest.NewRequest(http.MethodPost, "http://localhost:3000/media/a.png", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "POST /media/a.png host="+host, data)

	// 不以 /api/ 开头的路径不转发
	data, resp = server.OpenPage("http://localhost:3000/apiary")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><body>app</body></html>", data)
}

func TestServerProxyBackendDown(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	target := backend.URL
	backend.Close()

	server := newTestServer(t, func(cfg *config.Config) {
		for i := range cfg.Proxy {
			cfg.Proxy[i].Target = target
		}
	})
	server.start(WithPrebundle(false))

	data, resp := server.OpenFile("http://localhost:3000/api/ping")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, data, "python manage.py runserver")
	assert.Contains(t, data, resp.Header.Get(RequestIDHeader))
}

func TestServerFallback(t *testing.T) {
	server := newTestServer(t, nil)
	server.AddFile("index.html", "<html><body>app</body></html>")
	server.AddFile("src/main.js", "console.log(1)")
	server.start(WithPrebundle(false))

	data, resp := server.OpenPage("http://localhost:3000/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><body>app</body></html>", data)

	data, resp = server.OpenPage("http://localhost:3000/projects/42/settings")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><body>app</body></html>", data)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	// 存在的文件优先
	data, resp = server.OpenFile("http://localhost:3000/src/main.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log(1)", data)

	// 资源请求不回退
	_, resp = server.OpenPage("http://localhost:3000/src/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, resp = server.OpenFile("http://localhost:3000/projects/42")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, resp = server.Do(httptest.NewRequest(http.MethodDelete, "http://localhost:3000/projects/42", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerFallbackDisabled(t *testing.T) {
	server := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.Fallback.Enabled = false
	})
	server.AddFile("index.html", "app")
	server.AddFile("404.html", "custom not found")
	server.start(WithPrebundle(false))

	data, resp := server.OpenPage("http://localhost:3000/projects")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "custom not found", data)
}

func TestServerStatic(t *testing.T) {
	server := newTestServer(t, nil)
	server.AddFile("index.html", "app")
	server.AddFile("public/robots.txt", "User-agent: *")
	server.AddFile("src/components/button.js", "export default 1")
	server.AddFile(".env", "SECRET=1")
	server.AddFile("certs/dev.pem", "key")
	server.start(WithPrebundle(false))

	data, resp := server.OpenFile("http://localhost:3000/robots.txt")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "User-agent: *", data)

	data, resp = server.OpenFile("http://localhost:3000/@/components/button.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "export default 1", data)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	_, resp = server.OpenFile("http://localhost:3000/@/components/button.js")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	_, resp = server.OpenFile("http://localhost:3000/.env")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, resp = server.OpenFile("http://localhost:3000/certs/dev.pem")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, resp = server.OpenFile("http://localhost:3000/src/../.env")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerDeps(t *testing.T) {
	server := newTestServer(t, nil)
	server.AddFile("index.html", "app")
	server.AddFile("node_modules/monaco-editor/package.json",
		`{"name":"monaco-editor","version":"0.52.2","module":"esm/vs/editor/editor.main.js"}`)
	server.AddFile("node_modules/monaco-editor/esm/vs/editor/editor.main.js", "export const editor = {}")
	server.start()

	require.Len(t, server.server.Entries(), 1)
	_, resp := server.OpenFile("http://localhost:3000/@deps/monaco-editor")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/@deps/monaco-editor/esm/vs/editor/editor.main.js", resp.Header.Get("Location"))

	data, resp := server.OpenFile("http://localhost:3000/@deps/monaco-editor/esm/vs/editor/editor.main.js")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "export const editor = {}", data)
}

func TestServerLiveReloadInject(t *testing.T) {
	server := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.LiveReload = true
	})
	server.AddFile("index.html", "<html><body>app</body></html>")
	server.AddFile("src/main.js", "console.log(1)")
	server.start(WithPrebundle(false))
	require.NotNil(t, server.server.Hub())

	data, resp := server.OpenPage("http://localhost:3000/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html><body>app"+livereload.Script+"</body></html>", data)

	data, _ = server.OpenPage("http://localhost:3000/deep/link")
	assert.Contains(t, data, livereload.Script)

	data, _ = server.OpenFile("http://localhost:3000/src/main.js")
	assert.Equal(t, "console.log(1)", data)
}

func TestServerInternalEndpoints(t *testing.T) {
	server := newTestServer(t, nil)
	server.start(WithPrebundle(false))

	data, resp := server.OpenFile("http://localhost:3000" + HealthPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", data)

	data, resp = server.OpenFile("http://localhost:3000" + MetricsPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, data, "go_goroutines")

	_, resp = server.OpenFile("http://localhost:3000" + livereload.Path)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerErrorPage(t *testing.T) {
	server := newTestServer(t, nil)
	server.start(WithPrebundle(false))

	request := httptest.NewRequest(http.MethodGet, "http://localhost:3000/missing.js", nil)
	request.Header.Set(RequestIDHeader, "req-1")
	data, resp := server.Do(request)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Contains(t, data, "404 Not Found")
	assert.Contains(t, data, "/missing.js")
	assert.Contains(t, data, "req-1")
}

func TestDefaultMounts(t *testing.T) {
	cfg := config.Default()
	cfg.Root = "/project"
	cfg.Resolve.Alias = map[string]string{"@": "src", "@assets": "src/assets"}
	mounts := DefaultMounts(cfg, nil)
	require.Len(t, mounts, 4)
	assert.Equal(t, "@assets", mounts[0].Prefix)
	assert.Equal(t, filepath.Join("/project", "src", "assets"), mounts[0].Dir)
	assert.Equal(t, "@", mounts[1].Prefix)
	assert.Equal(t, filepath.Join("/project", "public"), mounts[2].Dir)
	assert.Equal(t, "/project", mounts[3].Dir)
}
