package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/wistia-offline-go/api/handlers"
	"github.com/yourusername/wistia-offline-go/internal/app"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// fakeManager implements Manager with an in-memory state table
type fakeManager struct {
	mu          sync.Mutex
	states      map[string]domain.DownloadState
	registry    *app.ObserverRegistry
	downloadErr error
	running     bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		states:   make(map[string]domain.DownloadState),
		registry: app.NewObserverRegistry(nil),
		running:  true,
	}
}

func (m *fakeManager) set(ref domain.MediaRef, state domain.DownloadState) {
	m.mu.Lock()
	if state.Kind == domain.StateNotDownloaded {
		delete(m.states, ref.HashedID)
	} else {
		m.states[ref.HashedID] = state
	}
	m.mu.Unlock()
	m.registry.Notify(ref, state)
}

func (m *fakeManager) Download(ctx context.Context, ref domain.MediaRef) error {
	if m.downloadErr != nil {
		return m.downloadErr
	}
	if m.DownloadState(ref).CanStartDownload() {
		m.set(ref, domain.Downloading(0))
	}
	return nil
}

func (m *fakeManager) CancelDownload(ctx context.Context, ref domain.MediaRef) (bool, error) {
	if !m.DownloadState(ref).IsDownloading() {
		return false, nil
	}
	m.set(ref, domain.Cancelled())
	return true, nil
}

func (m *fakeManager) RemoveDownload(ctx context.Context, ref domain.MediaRef) error {
	if m.DownloadState(ref).Kind == domain.StateDownloaded {
		m.set(ref, domain.NotDownloaded())
	}
	return nil
}

func (m *fakeManager) RemoveAllDownloads(ctx context.Context) error {
	for _, e := range m.Entries() {
		m.set(e.Ref(), domain.NotDownloaded())
	}
	return nil
}

func (m *fakeManager) DownloadState(ref domain.MediaRef) domain.DownloadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[ref.HashedID]; ok {
		return s
	}
	return domain.NotDownloaded()
}

func (m *fakeManager) Entries() []domain.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LedgerEntry, 0, len(m.states))
	for id, s := range m.states {
		out = append(out, *domain.NewLedgerEntry(domain.MediaRef{HashedID: id}, s, ""))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HashedID < out[j].HashedID })
	return out
}

func (m *fakeManager) Stats() domain.LedgerStats {
	return domain.ComputeLedgerStats(m.Entries())
}

func (m *fakeManager) PlayableItem(ctx context.Context, ref domain.MediaRef) (domain.PlayableItem, error) {
	state := m.DownloadState(ref)
	if state.Kind == domain.StateDownloaded {
		return domain.PlayableItem{HashedID: ref.HashedID, URL: state.LocalPath, Local: true}, nil
	}
	return domain.PlayableItem{HashedID: ref.HashedID, URL: "https://fast.wistia.net/embed/medias/" + ref.HashedID + ".m3u8"}, nil
}

func (m *fakeManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *fakeManager) AddObserver(ref domain.MediaRef, fn app.ObserverFunc) app.Subscription {
	return m.registry.Add(ref, fn)
}

func (m *fakeManager) AddGlobalObserver(fn app.ObserverFunc) app.Subscription {
	return m.registry.AddGlobal(fn)
}

func (m *fakeManager) RemoveObserver(sub app.Subscription) bool {
	return m.registry.Remove(sub)
}

type fakeAccount struct {
	account *domain.Account
	err     error
}

func (f *fakeAccount) Account(ctx context.Context) (*domain.Account, error) {
	return f.account, f.err
}

func setupRouter(t *testing.T) (http.Handler, *fakeManager, afero.Fs) {
	t.Helper()
	manager := newFakeManager()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/assets", 0755))

	router := SetupRouter(RouterConfig{
		Manager: manager,
		Account: &fakeAccount{account: &domain.Account{ID: 1, Name: "Acme", URL: "https://acme.wistia.com", MediaCount: 3}},
		Assets:  afero.NewHttpFs(fs).Dir("/assets"),
		RelPath: func(localPath string) (string, bool) {
			rel, err := filepath.Rel("/assets", localPath)
			return filepath.ToSlash(rel), err == nil && !strings.HasPrefix(rel, "..")
		},
		LogsDir: t.TempDir(),
		Version: "test",
		Logger:  zap.NewNop(),
	})
	return router, manager, fs
}

func do(router http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestAPI_DownloadAndState(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := do(router, http.MethodPost, "/api/v1/media/abc123/download")
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted handlers.StateResponse
	decode(t, w, &accepted)
	assert.Equal(t, "abc123", accepted.HashedID)
	assert.Equal(t, domain.Downloading(0), accepted.State)

	w = do(router, http.MethodGet, "/api/v1/media/abc123/state")
	require.Equal(t, http.StatusOK, w.Code)
	var state handlers.StateResponse
	decode(t, w, &state)
	assert.Equal(t, domain.StateDownloading, state.State.Kind)

	w = do(router, http.MethodPost, "/api/v1/media/abc123/cancel")
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled handlers.CancelResponse
	decode(t, w, &cancelled)
	assert.True(t, cancelled.Cancelled)
	assert.Equal(t, domain.Cancelled(), cancelled.State)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	router, manager, _ := setupRouter(t)

	w := do(router, http.MethodPost, "/api/v1/media/not-valid!/download")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	manager.downloadErr = fmt.Errorf("download abc123 rejected: %w", domain.ErrUnresolvableIdentifier)
	w = do(router, http.MethodPost, "/api/v1/media/abc123/download")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	manager.downloadErr = domain.ErrManagerNotRunning
	w = do(router, http.MethodPost, "/api/v1/media/abc123/download")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	manager.downloadErr = fmt.Errorf("failed to resolve abc123: GET /v1/medias/abc123.json: %w: unexpected status 500", domain.ErrDataAPI)
	w = do(router, http.MethodPost, "/api/v1/media/abc123/download")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	manager.downloadErr = fmt.Errorf("failed to start transfer: %w", domain.ErrStorageWrite)
	w = do(router, http.MethodPost, "/api/v1/media/abc123/download")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(router, http.MethodGet, "/api/v1/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_PlayableAndOfflineFiles(t *testing.T) {
	router, manager, fs := setupRouter(t)
	ref := domain.MediaRef{HashedID: "abc123"}

	w := do(router, http.MethodGet, "/api/v1/media/abc123/playable")
	require.Equal(t, http.StatusOK, w.Code)
	var remote handlers.PlayableResponse
	decode(t, w, &remote)
	assert.False(t, remote.Local)
	assert.Equal(t, "https://fast.wistia.net/embed/medias/abc123.m3u8", remote.StreamURL)

	require.NoError(t, afero.WriteFile(fs, "/assets/h-1/index.m3u8", []byte("#EXTM3U\n"), 0644))
	manager.set(ref, domain.Downloaded("/assets/h-1/index.m3u8"))

	w = do(router, http.MethodGet, "/api/v1/media/abc123/playable")
	require.Equal(t, http.StatusOK, w.Code)
	var local handlers.PlayableResponse
	decode(t, w, &local)
	assert.True(t, local.Local)
	assert.Equal(t, "/assets/h-1/index.m3u8", local.URL)
	assert.Equal(t, "/offline/h-1/index.m3u8", local.StreamURL)

	w = do(router, http.MethodGet, local.StreamURL)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "#EXTM3U\n", w.Body.String())
}

func TestAPI_ListAndRemoveAll(t *testing.T) {
	router, manager, _ := setupRouter(t)
	manager.set(domain.MediaRef{HashedID: "aaa"}, domain.Downloading(0.5))
	manager.set(domain.MediaRef{HashedID: "bbb"}, domain.Downloaded("/assets/h-2/index.m3u8"))

	w := do(router, http.MethodGet, "/api/v1/downloads")
	require.Equal(t, http.StatusOK, w.Code)
	var list handlers.ListResponse
	decode(t, w, &list)
	require.Len(t, list.Entries, 2)
	assert.Equal(t, "aaa", list.Entries[0].HashedID)
	assert.Equal(t, domain.LedgerStats{Total: 2, Downloading: 1, Downloaded: 1}, list.Stats)

	w = do(router, http.MethodDelete, "/api/v1/downloads")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, manager.Entries())
}

func TestAPI_HealthAndReady(t *testing.T) {
	router, manager, _ := setupRouter(t)

	w := do(router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health handlers.HealthResponse
	decode(t, w, &health)
	assert.Equal(t, "test", health.Version)
	assert.True(t, health.Manager.Running)

	manager.mu.Lock()
	manager.running = false
	manager.mu.Unlock()
	w = do(router, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAPI_Account(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := do(router, http.MethodGet, "/api/v1/account")
	require.Equal(t, http.StatusOK, w.Code)
	var account domain.Account
	decode(t, w, &account)
	assert.Equal(t, 3, account.MediaCount)

	broken := SetupRouter(RouterConfig{
		Manager: newFakeManager(),
		Account: &fakeAccount{err: &domain.ParseError{Type: "account", Fields: []domain.FieldError{{Field: "mediaCount", Problem: "is missing"}}}},
		Logger:  zap.NewNop(),
	})
	w = do(broken, http.MethodGet, "/api/v1/account")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "mediaCount")
}

func TestAPI_Logs(t *testing.T) {
	router, _, _ := setupRouter(t)

	w := do(router, http.MethodGet, "/api/v1/logs/bogus")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/logs/transfer")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)

	w = do(router, http.MethodGet, "/api/v1/logs/categories")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "transfer")
}

func TestAPI_EventsStream(t *testing.T) {
	router, manager, _ := setupRouter(t)
	srv := httptest.NewServer(router)
	defer srv.Close()
	ref := domain.MediaRef{HashedID: "abc123"}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?media=abc123"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	readEvent := func() handlers.StateEvent {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev handlers.StateEvent
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	snapshot := readEvent()
	assert.Equal(t, "abc123", snapshot.HashedID)
	assert.Equal(t, domain.NotDownloaded(), snapshot.State)

	require.Eventually(t, func() bool { return manager.registry.Count(ref) == 1 }, 5*time.Second, 10*time.Millisecond)

	postResp, err := http.Post(srv.URL+"/api/v1/media/abc123/download", "application/json", nil)
	require.NoError(t, err)
	io.Copy(io.Discard, postResp.Body)
	postResp.Body.Close()

	ev := readEvent()
	assert.Equal(t, domain.StateDownloading, ev.State.Kind)
	require.NotNil(t, ev.Progress)
	assert.Equal(t, 0.0, *ev.Progress)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return manager.registry.Count(ref) == 0 }, 5*time.Second, 10*time.Millisecond)
}
