//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/wistia-offline-go/api"
	"github.com/yourusername/wistia-offline-go/api/handlers"
	"github.com/yourusername/wistia-offline-go/internal/app"
	"github.com/yourusername/wistia-offline-go/internal/domain"
	"github.com/yourusername/wistia-offline-go/internal/infrastructure"
)

// origin serves a single-rendition HLS stream for abc123. Segment requests wait for gate.
type origin struct {
	srv      *httptest.Server
	gate     chan struct{}
	segments atomic.Int32
}

func newOrigin(t *testing.T, open bool) *origin {
	t.Helper()
	o := &origin{gate: make(chan struct{})}
	if open {
		close(o.gate)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/embed/medias/abc123.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n"+
			"#EXTINF:10.000,\nseg0.ts\n#EXTINF:10.000,\nseg1.ts\n#EXTINF:4.000,\nseg2.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/embed/medias/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".ts") {
			http.NotFound(w, r)
			return
		}
		o.segments.Add(1)
		select {
		case <-o.gate:
		case <-r.Context().Done():
			return
		}
		fmt.Fprint(w, "data:"+filepath.Base(r.URL.Path))
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

// node is one server process: ledger, engine, manager and HTTP API
type node struct {
	manager *app.PersistenceManager
	store   domain.LedgerStore
	api     *httptest.Server
}

func startNode(t *testing.T, dir string, o *origin) *node {
	t.Helper()
	ctx := context.Background()

	store, err := infrastructure.NewSQLiteLedgerStore(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)

	assets, err := infrastructure.NewAssetStore(afero.NewOsFs(), filepath.Join(dir, "assets"))
	require.NoError(t, err)

	engine := infrastructure.NewHLSEngine(infrastructure.HLSEngineConfig{
		ConcurrentTransfers: 1,
		SegmentConcurrency:  2,
		SegmentRetries:      1,
		RetryDelay:          10 * time.Millisecond,
		RequestTimeout:      10 * time.Second,
	}, assets, nil, zap.NewNop())

	wistia, err := infrastructure.NewWistiaClient(domain.WistiaConfig{
		APIBaseURL:        o.srv.URL,
		EmbedBaseURL:      o.srv.URL,
		ResolverCacheSize: 16,
	}, nil, zap.NewNop())
	require.NoError(t, err)

	manager := app.NewPersistenceManager(app.NewLedger(store), engine, wistia, assets, nil, zap.NewNop(), nil)
	require.NoError(t, manager.Start(ctx))

	router := api.SetupRouter(api.RouterConfig{
		Manager: manager,
		Account: wistia,
		Assets:  assets.HTTPFileSystem(),
		RelPath: assets.RelativePath,
		Version: "integration",
		Logger:  zap.NewNop(),
	})

	return &node{manager: manager, store: store, api: httptest.NewServer(router)}
}

func (n *node) stop() {
	n.api.Close()
	n.manager.Stop()
	n.store.Close()
}

func (n *node) state(t *testing.T, id string) domain.DownloadState {
	t.Helper()
	resp, err := http.Get(n.api.URL + "/api/v1/media/" + id + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body handlers.StateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.State
}

func (n *node) waitFor(t *testing.T, id string, kind domain.StateKind) domain.DownloadState {
	t.Helper()
	var last domain.DownloadState
	require.Eventually(t, func() bool {
		last = n.state(t, id)
		return last.Kind == kind
	}, 10*time.Second, 20*time.Millisecond, "media %s never reached %s", id, kind)
	return last
}

func TestOfflineWorkflow_DownloadPlayRemove(t *testing.T) {
	o := newOrigin(t, true)
	n := startNode(t, t.TempDir(), o)
	defer n.stop()

	resp, err := http.Post(n.api.URL+"/api/v1/media/abc123/download", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	done := n.waitFor(t, "abc123", domain.StateDownloaded)
	_, err = os.Stat(done.LocalPath)
	require.NoError(t, err)

	resp, err = http.Get(n.api.URL + "/api/v1/media/abc123/playable")
	require.NoError(t, err)
	var playable handlers.PlayableResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&playable))
	resp.Body.Close()
	assert.True(t, playable.Local)
	require.True(t, strings.HasPrefix(playable.StreamURL, api.OfflinePrefix+"/"))

	resp, err = http.Get(n.api.URL + playable.StreamURL)
	require.NoError(t, err)
	playlist, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(playlist), "#EXT-X-ENDLIST")
	assert.Contains(t, string(playlist), infrastructure.SegmentName(2))

	req, _ := http.NewRequest(http.MethodDelete, n.api.URL+"/api/v1/media/abc123/download", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, domain.NotDownloaded(), n.state(t, "abc123"))
	_, err = os.Stat(done.LocalPath)
	assert.True(t, os.IsNotExist(err))
}

func TestOfflineWorkflow_UnknownMediaRejected(t *testing.T) {
	o := newOrigin(t, true)
	n := startNode(t, t.TempDir(), o)
	defer n.stop()

	resp, err := http.Post(n.api.URL+"/api/v1/media/missing1/download", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, domain.NotDownloaded(), n.state(t, "missing1"))
}

func TestOfflineWorkflow_TransferResumesAfterRestart(t *testing.T) {
	dir := t.TempDir()
	o := newOrigin(t, false)

	first := startNode(t, dir, o)
	resp, err := http.Post(first.api.URL+"/api/v1/media/abc123/download", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return o.segments.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StateDownloading, first.state(t, "abc123").Kind)
	first.stop()

	close(o.gate)

	second := startNode(t, dir, o)
	defer second.stop()

	// the journaled transfer is still live, so the entry is not failed on reconcile
	done := second.waitFor(t, "abc123", domain.StateDownloaded)
	_, err = os.Stat(done.LocalPath)
	assert.NoError(t, err)
}
