package devserver

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poma-prs/poma-static-project/pkg/config"
)

func newTestServer(t *testing.T) (*config.Config, *Server) {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default(root)

	files := map[string]string{
		"index.html":       "<html><body><h1>Home</h1></body></html>",
		"about/index.html": "<p>About</p>",
		"css/app.css":      "body{}",
	}
	for name, content := range files {
		path := cfg.DistPath(filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	logger := zerolog.Nop()
	return cfg, New(cfg, &logger)
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServeFiles(t *testing.T) {
	_, server := newTestServer(t)
	handler := server.Handler()

	rec := get(t, handler, "/css/app.css")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body{}", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = get(t, handler, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Home</h1>")
	assert.Contains(t, rec.Body.String(), ReloadPath+`");`)
	assert.True(t, strings.HasSuffix(rec.Body.String(), "</body></html>"))

	rec = get(t, handler, "/about/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<p>About</p><script>")

	rec = get(t, handler, "/missing.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeWithoutLiveReload(t *testing.T) {
	cfg, server := newTestServer(t)
	cfg.Serve.LiveReload = false
	handler := server.Handler()

	rec := get(t, handler, "/index.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), ReloadPath)

	rec = get(t, handler, ReloadPath)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadStream(t *testing.T) {
	_, server := newTestServer(t)
	httpServer := httptest.NewServer(server.Handler())
	defer httpServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+ReloadPath, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return server.Clients() == 1
	}, 5*time.Second, 10*time.Millisecond)

	server.Reload()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)

		if strings.HasPrefix(line, "data: ") {
			assert.Equal(t, "data: reload\n", line)
			break
		}
	}

	cancel()
	require.Eventually(t, func() bool {
		return server.Clients() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeEndsStreamsOnCancel(t *testing.T) {
	_, server := newTestServer(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + ReloadPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return server.Clients() == 1
	}, 5*time.Second, 10*time.Millisecond)

	started := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve kept waiting for the open event stream")
	}
	assert.Less(t, time.Since(started), 3*time.Second)
	assert.Equal(t, 0, server.Clients())
}

func TestInjectReloadScript(t *testing.T) {
	assert.Equal(t, "<p>x</p>"+reloadScript+"</BODY>", string(injectReloadScript([]byte("<p>x</p></BODY>"))))
	assert.Equal(t, "<p>x</p>"+reloadScript, string(injectReloadScript([]byte("<p>x</p>"))))
}

func TestWatchPatterns(t *testing.T) {
	cfg := config.Default(t.TempDir())

	includes, excludes := WatchPatterns(cfg)
	assert.Equal(t, []string{"src/**", "poma.toml", "tasks.star"}, includes)
	assert.Contains(t, excludes, "src/.tmp/**")
	assert.Contains(t, excludes, "dist/**")
}

func TestWatchRebuildsAndReloads(t *testing.T) {
	cfg, server := newTestServer(t)
	require.NoError(t, os.MkdirAll(cfg.SrcPath(), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rebuilds := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, cfg, server, func(ctx context.Context) error {
			rebuilds <- struct{}{}
			return nil
		})
	}()

	// give the watcher a moment to register its directories
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(cfg.SrcPath("main.js"), []byte("x"), 0o644))

	select {
	case <-rebuilds:
	case <-time.After(10 * time.Second):
		t.Fatal("no rebuild after a source change")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
