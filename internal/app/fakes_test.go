package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// memStore implements domain.LedgerStore in memory
type memStore struct {
	mu      sync.Mutex
	rows    map[string]domain.LedgerEntry
	saveErr error
	saves   int
}

func newMemStore(entries ...domain.LedgerEntry) *memStore {
	s := &memStore{rows: make(map[string]domain.LedgerEntry)}
	for _, e := range entries {
		s.rows[e.HashedID] = e
	}
	return s
}

func (s *memStore) LoadAll(ctx context.Context) ([]*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.LedgerEntry, 0, len(s.rows))
	for _, e := range s.rows {
		cp := e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) Save(ctx context.Context, entry *domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rows[entry.HashedID] = *entry
	return nil
}

func (s *memStore) Delete(ctx context.Context, hashedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, hashedID)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) row(hashedID string) (domain.LedgerEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[hashedID]
	return e, ok
}

// fakeEngine implements domain.DownloadEngine; tests drive callbacks through emit
type fakeEngine struct {
	mu         sync.Mutex
	sink       domain.EngineEventSink
	started    []domain.ActiveTask
	cancelled  []domain.TaskHandle
	active     []domain.ActiveTask
	startErr   error
	shutdown   bool
	nextHandle int
}

func (e *fakeEngine) Start(ctx context.Context, sink domain.EngineEventSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
	return nil
}

func (e *fakeEngine) StartTransfer(ctx context.Context, ref domain.MediaRef, manifestURL string) (domain.TaskHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return "", e.startErr
	}
	e.nextHandle++
	handle := domain.TaskHandle(fmt.Sprintf("h-%d", e.nextHandle))
	e.started = append(e.started, domain.ActiveTask{Handle: handle, HashedID: ref.HashedID, ManifestURL: manifestURL})
	return handle, nil
}

func (e *fakeEngine) Cancel(handle domain.TaskHandle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, handle)
}

func (e *fakeEngine) ActiveTasks() []domain.ActiveTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ActiveTask(nil), e.active...)
}

func (e *fakeEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
}

func (e *fakeEngine) emit(ev domain.EngineEvent) {
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	sink.HandleEngineEvent(ev)
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.started)
}

func (e *fakeEngine) cancelledHandles() []domain.TaskHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TaskHandle(nil), e.cancelled...)
}

// fakeResolver resolves ids listed in manifests
type fakeResolver struct {
	mu        sync.Mutex
	manifests map[string]string
	calls     int
}

func newFakeResolver(ids ...string) *fakeResolver {
	r := &fakeResolver{manifests: make(map[string]string)}
	for _, id := range ids {
		r.manifests[id] = "https://fast.wistia.net/embed/medias/" + id + ".m3u8"
	}
	return r
}

func (r *fakeResolver) Resolve(ctx context.Context, identifier string) (domain.ManifestRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	url, ok := r.manifests[identifier]
	if !ok {
		return domain.ManifestRef{}, fmt.Errorf("media %q not found: %w", identifier, domain.ErrUnresolvableIdentifier)
	}
	return domain.ManifestRef{Ref: domain.MediaRef{HashedID: identifier}, ManifestURL: url}, nil
}

// fakeStorage tracks which local paths exist
type fakeStorage struct {
	mu        sync.Mutex
	files     map[string]bool
	deleted   []string
	deleteErr error
}

func newFakeStorage(paths ...string) *fakeStorage {
	s := &fakeStorage{files: make(map[string]bool)}
	for _, p := range paths {
		s.files[p] = true
	}
	return s
}

func (s *fakeStorage) Delete(localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, localPath)
	delete(s.files, localPath)
	return nil
}

func (s *fakeStorage) Exists(localPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[localPath]
}

func (s *fakeStorage) add(localPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[localPath] = true
}

func (s *fakeStorage) deletedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

// recorder collects observer notifications
type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	hashedID string
	state    domain.DownloadState
	progress *float64
}

func (r *recorder) observe(hashedID string, state domain.DownloadState, progress *float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{hashedID: hashedID, state: state, progress: progress})
}

func (r *recorder) states() []domain.DownloadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DownloadState, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.state)
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

var errDiskFull = errors.New("disk full")
