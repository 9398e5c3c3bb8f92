package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/domscope/internal/backend/replay"
	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/mirror"
)

const testPage = `<!DOCTYPE html>
<html>
	<head><title>mirror</title></head>
	<body>
		<h1 id="title">Mirror</h1>
		<ul id="list"></ul>
		<script>
			setTimeout(function () {
				var li = document.createElement('li');
				li.textContent = 'late';
				document.getElementById('list').appendChild(li);
				document.getElementById('title').setAttribute('data-state', 'ready');
			}, 200);
		</script>
	</body>
</html>`

// findChrome returns a Chromium binary or skips the test.
func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome/Chromium binary found in PATH")
	return ""
}

func findNode(root *mirror.NodeSnapshot, match func(*mirror.NodeSnapshot) bool) *mirror.NodeSnapshot {
	var found *mirror.NodeSnapshot
	root.Walk(func(n, _ *mirror.NodeSnapshot, _, _ int) {
		if found == nil && match(n) {
			found = n
		}
	})
	return found
}

func byName(name string) func(*mirror.NodeSnapshot) bool {
	return func(n *mirror.NodeSnapshot) bool { return n.Name == name }
}

func hasAttribute(n *mirror.NodeSnapshot, name, value string) bool {
	for _, a := range n.Attributes {
		if a.Name == name && a.Value == value {
			return true
		}
	}
	return false
}

// mirrorsLatePage reports whether snap contains the list item and the
// attribute the page adds after load.
func mirrorsLatePage(snap *mirror.Snapshot) bool {
	if snap == nil || snap.Root == nil {
		return false
	}
	h1 := findNode(snap.Root, byName("H1"))
	return h1 != nil && hasAttribute(h1, "data-state", "ready") && findNode(snap.Root, byName("LI")) != nil
}

func TestMirrorComponents_LiveBrowser(t *testing.T) {
	execPath := findChrome(t)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(server.Close)

	cfg := config.NewDefaultConfig()
	cfg.BrowserCfg.ExecPath = execPath
	cfg.BrowserCfg.Headless = true
	cfg.BrowserCfg.NavigationTimeout = 30 * time.Second
	cfg.MirrorCfg.DocumentDepth = -1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	transcript := filepath.Join(t.TempDir(), "session.jsonl.br")
	components, err := NewMirrorComponents(ctx, cfg, logger, transcript)
	require.NoError(t, err, "Failed to start the browser")
	shutdown := sync.OnceValue(components.Shutdown)
	t.Cleanup(func() { _ = shutdown() })

	t.Run("should follow DOM mutations after load", func(t *testing.T) {
		require.NoError(t, components.Navigate(ctx, server.URL))

		var snap *mirror.Snapshot
		require.Eventually(t, func() bool {
			s, err := components.Snapshot(ctx, server.URL)
			if err != nil {
				return false
			}
			snap = s
			return mirrorsLatePage(s)
		}, 15*time.Second, 100*time.Millisecond)

		assert.Equal(t, server.URL, snap.URL)
		title := findNode(snap.Root, byName("TITLE"))
		require.NotNil(t, title)
		require.Len(t, title.Children, 1)
		assert.Equal(t, "mirror", title.Children[0].Value)
	})

	t.Run("should rebuild the same document from the recorded transcript", func(t *testing.T) {
		require.NoError(t, shutdown())

		src, err := replay.NewSource(transcript, cfg.Replay())
		require.NoError(t, err)
		defer src.Close()

		replayed := NewReplayComponents(cfg, logger)
		defer func() { _ = replayed.Shutdown() }()

		require.NoError(t, replayed.Replay.Play(ctx, src))
		require.NoError(t, replayed.Wait())

		snap, err := replayed.Snapshot(ctx, "")
		require.NoError(t, err)
		assert.True(t, mirrorsLatePage(snap), "replayed mirror should contain the late mutations")
		assert.Positive(t, replayed.Replay.Stats().Played)
	})
}
