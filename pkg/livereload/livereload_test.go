package livereload

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.Broadcast(MessageReload))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, MessageReload, string(data))

	require.NoError(t, hub.Close())
	assert.Equal(t, 0, hub.Len())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestHubClientDisconnect(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestScriptTargetsHub(t *testing.T) {
	assert.Contains(t, Script, Path)
	assert.True(t, strings.HasPrefix(Script, "<script>"))
}

func TestWatcherReportsChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	watcher, err := NewWatcher(20*time.Millisecond, nil, root, filepath.Join(root, "missing"))
	require.NoError(t, err)

	changes := make(chan []string, 8)
	watcher.OnChange(func(paths []string) {
		changes <- paths
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watcher.Run(ctx)
	}()

	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("hi"), 0o644))
	select {
	case paths := <-changes:
		assert.Contains(t, paths, filepath.Join(root, "index.html"))
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	sub := filepath.Join(root, "src")
	require.NoError(t, os.Mkdir(sub, 0o755))
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("directory creation not reported")
	}
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(sub, "main.js"), []byte("1"), 0o644)
		select {
		case paths := <-changes:
			for _, p := range paths {
				if p == filepath.Join(sub, "main.js") {
					return true
				}
			}
		case <-time.After(100 * time.Millisecond):
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, watcher.Close())
}

func TestDefaultSkip(t *testing.T) {
	assert.True(t, DefaultSkip("/project/node_modules"))
	assert.True(t, DefaultSkip("/project/.git"))
	assert.False(t, DefaultSkip("/project/src"))
	assert.False(t, DefaultSkip("."))
}
