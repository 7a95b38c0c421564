package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/wistia-offline-go/internal/domain"
	"github.com/yourusername/wistia-offline-go/pkg/logger"
)

const inboxSize = 256

// message is a unit of work for the manager loop: either a command closure or an engine event
type message struct {
	run   func()
	event *domain.EngineEvent
	done  chan struct{}
}

// PersistenceManager owns the download state machine. Commands and engine events
// are processed one at a time, in arrival order, on a single goroutine.
type PersistenceManager struct {
	ledger      *Ledger
	engine      domain.DownloadEngine
	resolver    domain.ManifestResolver
	storage     domain.AssetStorage
	observers   *ObserverRegistry
	logger      *zap.Logger
	multiLogger *logger.MultiLogger

	inbox    chan message
	stopChan chan struct{}
	loopDone chan struct{}
	loopWg   sync.WaitGroup

	// handles cancelled by a command whose engine acknowledgement is still outstanding; loop-owned
	pendingCancels map[domain.TaskHandle]domain.MediaRef
	// handles failed by reconcile that may still report a queued outcome; loop-owned
	interrupted map[domain.TaskHandle]domain.MediaRef

	mu      sync.RWMutex
	started bool
	running bool
}

// NewPersistenceManager creates a new persistence manager
func NewPersistenceManager(
	ledger *Ledger,
	engine domain.DownloadEngine,
	resolver domain.ManifestResolver,
	storage domain.AssetStorage,
	observers *ObserverRegistry,
	log *zap.Logger,
	multiLogger *logger.MultiLogger,
) *PersistenceManager {
	if log == nil {
		log = zap.NewNop()
	}
	if observers == nil {
		observers = NewObserverRegistry(log)
	}
	return &PersistenceManager{
		ledger:         ledger,
		engine:         engine,
		resolver:       resolver,
		storage:        storage,
		observers:      observers,
		logger:         log,
		multiLogger:    multiLogger,
		inbox:          make(chan message, inboxSize),
		stopChan:       make(chan struct{}),
		loopDone:       make(chan struct{}),
		pendingCancels: make(map[domain.TaskHandle]domain.MediaRef),
		interrupted:    make(map[domain.TaskHandle]domain.MediaRef),
	}
}

// Start loads the ledger, starts the engine, reconciles persisted state with the
// engine's live tasks and then begins processing commands and events. Observers see
// reconcile transitions before any command is accepted; IsRunning reports false until then.
func (m *PersistenceManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("persistence manager already started")
	}
	m.started = true
	m.mu.Unlock()

	if err := m.boot(ctx); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	// reconcile notifies observers, so it runs without holding m.mu
	m.reconcile()

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	m.loopWg.Add(1)
	go m.run(ctx)

	m.logger.Info("Persistence manager started", zap.Int("entries", m.ledger.Len()))
	return nil
}

func (m *PersistenceManager) boot(ctx context.Context) error {
	if err := m.ledger.Load(ctx); err != nil {
		return err
	}
	if err := m.engine.Start(ctx, m); err != nil {
		return fmt.Errorf("failed to start download engine: %w", err)
	}
	return nil
}

// Stop shuts the engine down and stops the loop. In-flight transfers resume on next start.
func (m *PersistenceManager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("persistence manager not running")
	}
	m.running = false
	m.mu.Unlock()

	m.engine.Shutdown()
	close(m.stopChan)
	m.loopWg.Wait()

	m.logger.Info("Persistence manager stopped")
	return nil
}

// IsRunning returns whether the manager accepts commands
func (m *PersistenceManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *PersistenceManager) run(ctx context.Context) {
	defer m.loopWg.Done()
	defer close(m.loopDone)

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			m.logger.Info("Persistence manager loop stopped", zap.String("reason", "context_cancelled"))
			return
		case <-m.stopChan:
			return
		case msg := <-m.inbox:
			m.dispatch(msg)
		}
	}
}

func (m *PersistenceManager) dispatch(msg message) {
	if msg.done != nil {
		defer close(msg.done)
	}
	if msg.event != nil {
		m.applyEvent(*msg.event)
		return
	}
	if msg.run != nil {
		msg.run()
	}
}

// submit runs fn on the manager loop and waits until it has been executed.
// ctx only bounds queueing: once fn is queued it runs, and submit reports its outcome.
func (m *PersistenceManager) submit(ctx context.Context, fn func()) error {
	if !m.IsRunning() {
		return domain.ErrManagerNotRunning
	}

	msg := message{run: fn, done: make(chan struct{})}
	select {
	case m.inbox <- msg:
	case <-m.loopDone:
		return domain.ErrManagerNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-msg.done:
		return nil
	case <-m.loopDone:
		select {
		case <-msg.done:
			return nil
		default:
			return domain.ErrManagerNotRunning
		}
	}
}

// HandleEngineEvent queues an engine callback behind everything submitted before it
func (m *PersistenceManager) HandleEngineEvent(event domain.EngineEvent) {
	select {
	case m.inbox <- message{event: &event}:
	case <-m.loopDone:
		m.logger.Debug("Dropping engine event after shutdown",
			zap.String("handle", string(event.Handle)),
			zap.String("kind", string(event.Kind)))
	case <-m.stopChan:
	}
}

// Flush waits until every command and event queued before it has been processed
func (m *PersistenceManager) Flush(ctx context.Context) error {
	return m.submit(ctx, func() {})
}

// Download starts an offline download. A nil error means the request was accepted;
// the outcome is delivered to observers. Identifiers that cannot be resolved to an
// HLS manifest are rejected before the engine is involved.
func (m *PersistenceManager) Download(ctx context.Context, ref domain.MediaRef) error {
	if !m.IsRunning() {
		return domain.ErrManagerNotRunning
	}
	if !m.ledger.Get(ref).CanStartDownload() {
		return nil
	}

	manifest, err := m.resolver.Resolve(ctx, ref.HashedID)
	if err != nil {
		m.logger.Info("Download rejected",
			zap.String("hashed_id", ref.HashedID),
			zap.Error(err))
		if errors.Is(err, domain.ErrUnresolvableIdentifier) {
			return fmt.Errorf("download %s rejected: %w", ref, err)
		}
		return fmt.Errorf("failed to resolve %s: %w", ref, err)
	}

	var startErr error
	err = m.submit(ctx, func() {
		if !m.ledger.Get(ref).CanStartDownload() {
			return
		}

		handle, err := m.engine.StartTransfer(context.WithoutCancel(ctx), ref, manifest.ManifestURL)
		if err != nil {
			startErr = fmt.Errorf("failed to start transfer for %s: %w", ref, err)
			m.transition(ref, domain.Failed(domain.ClassifyError(err), err.Error()), "", manifest.ManifestURL)
			return
		}

		m.logEvent("download_accepted", ref, zap.String("handle", string(handle)))
		m.transition(ref, domain.Downloading(0), handle, manifest.ManifestURL)
	})
	if err != nil {
		return err
	}
	return startErr
}

// CancelDownload asks the engine to stop an in-flight download. It returns true
// only if a download was in flight. The state becomes cancelled immediately.
func (m *PersistenceManager) CancelDownload(ctx context.Context, ref domain.MediaRef) (bool, error) {
	var cancelled bool
	err := m.submit(ctx, func() {
		entry, ok := m.ledger.Entry(ref)
		if !ok || entry.State != domain.StateDownloading {
			return
		}

		m.cancelTransfer(ref, entry.TaskHandle)
		m.logEvent("download_cancelled", ref, zap.String("handle", string(entry.TaskHandle)))
		m.transition(ref, domain.Cancelled(), "", "")
		cancelled = true
	})
	return cancelled, err
}

// RemoveDownload deletes the local copy of a downloaded media and resets it to not downloaded
func (m *PersistenceManager) RemoveDownload(ctx context.Context, ref domain.MediaRef) error {
	var opErr error
	err := m.submit(ctx, func() {
		entry, ok := m.ledger.Entry(ref)
		if !ok || entry.State != domain.StateDownloaded {
			return
		}

		if err := m.storage.Delete(entry.LocalPath); err != nil {
			opErr = fmt.Errorf("failed to remove download %s: %w", ref, err)
			m.logAppError("Failed to delete asset", ref, zap.String("path", entry.LocalPath), zap.Error(err))
			return
		}

		m.logEvent("download_removed", ref, zap.String("path", entry.LocalPath))
		m.transition(ref, domain.NotDownloaded(), "", "")
	})
	if err != nil {
		return err
	}
	return opErr
}

// RemoveAllDownloads cancels in-flight transfers, deletes local copies and resets every entry
func (m *PersistenceManager) RemoveAllDownloads(ctx context.Context) error {
	var errs []error
	err := m.submit(ctx, func() {
		for _, entry := range m.ledger.Entries() {
			ref := entry.Ref()
			switch entry.State {
			case domain.StateDownloading:
				m.cancelTransfer(ref, entry.TaskHandle)
			case domain.StateDownloaded:
				if err := m.storage.Delete(entry.LocalPath); err != nil {
					errs = append(errs, fmt.Errorf("failed to remove download %s: %w", ref, err))
					m.logAppError("Failed to delete asset", ref, zap.String("path", entry.LocalPath), zap.Error(err))
				}
			}
			m.logEvent("download_removed", ref, zap.String("previous_state", string(entry.State)))
			m.transition(ref, domain.NotDownloaded(), "", "")
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// DownloadState returns the last known state of a media
func (m *PersistenceManager) DownloadState(ref domain.MediaRef) domain.DownloadState {
	return m.ledger.Get(ref)
}

// Entries returns all known ledger entries
func (m *PersistenceManager) Entries() []domain.LedgerEntry {
	return m.ledger.Entries()
}

// Stats summarises ledger entries by state
func (m *PersistenceManager) Stats() domain.LedgerStats {
	return domain.ComputeLedgerStats(m.ledger.Entries())
}

// PlayableItem returns the local playlist for downloaded media and the remote
// manifest otherwise. It never waits for a download to finish.
func (m *PersistenceManager) PlayableItem(ctx context.Context, ref domain.MediaRef) (domain.PlayableItem, error) {
	entry, ok := m.ledger.Entry(ref)
	if ok && entry.State == domain.StateDownloaded && m.storage.Exists(entry.LocalPath) {
		return domain.PlayableItem{HashedID: ref.HashedID, URL: entry.LocalPath, Local: true}, nil
	}
	if ok && entry.ManifestURL != "" {
		return domain.PlayableItem{HashedID: ref.HashedID, URL: entry.ManifestURL}, nil
	}

	manifest, err := m.resolver.Resolve(ctx, ref.HashedID)
	if err != nil {
		return domain.PlayableItem{}, fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return domain.PlayableItem{HashedID: ref.HashedID, URL: manifest.ManifestURL}, nil
}

// AddObserver registers fn for state changes of ref
func (m *PersistenceManager) AddObserver(ref domain.MediaRef, fn ObserverFunc) Subscription {
	return m.observers.Add(ref, fn)
}

// AddGlobalObserver registers fn for state changes of every media
func (m *PersistenceManager) AddGlobalObserver(fn ObserverFunc) Subscription {
	return m.observers.AddGlobal(fn)
}

// RemoveObserver unregisters an observer
func (m *PersistenceManager) RemoveObserver(sub Subscription) bool {
	return m.observers.Remove(sub)
}

// applyEvent merges an engine callback into the ledger. Events for handles that
// no longer belong to a downloading entry are dropped.
func (m *PersistenceManager) applyEvent(ev domain.EngineEvent) {
	ref, owned := m.ledger.RefForHandle(ev.Handle)
	if !owned {
		m.applyDetachedEvent(ev)
		return
	}

	switch ev.Kind {
	case domain.EventProgress:
		current := m.ledger.Get(ref)
		if ev.Progress <= current.Progress {
			return
		}
		m.transition(ref, domain.Downloading(ev.Progress), ev.Handle, "")

	case domain.EventCompleted:
		m.logEvent("download_completed", ref, zap.String("handle", string(ev.Handle)), zap.String("path", ev.LocalPath))
		m.transition(ref, domain.Downloaded(ev.LocalPath), "", "")

	case domain.EventFailed:
		if errors.Is(ev.Err, domain.ErrTransferCancelled) {
			m.logEvent("download_cancelled", ref, zap.String("handle", string(ev.Handle)))
			m.transition(ref, domain.Cancelled(), "", "")
			return
		}
		detail := ""
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		m.logEvent("download_failed", ref, zap.String("handle", string(ev.Handle)), zap.String("detail", detail))
		m.transition(ref, domain.Failed(domain.ClassifyError(ev.Err), detail), "", "")
	}
}

// applyDetachedEvent handles callbacks for handles that were cancelled by a command.
// A completion that arrives while the media is still cancelled wins; otherwise the
// orphaned asset is deleted.
func (m *PersistenceManager) applyDetachedEvent(ev domain.EngineEvent) {
	if ref, ok := m.interrupted[ev.Handle]; ok {
		m.applyInterruptedEvent(ref, ev)
		return
	}

	ref, pending := m.pendingCancels[ev.Handle]
	if !pending {
		m.logger.Debug("Dropping event for unknown handle",
			zap.String("handle", string(ev.Handle)),
			zap.String("kind", string(ev.Kind)))
		return
	}

	switch ev.Kind {
	case domain.EventProgress:
		return

	case domain.EventCompleted:
		delete(m.pendingCancels, ev.Handle)
		if m.ledger.Get(ref).Kind == domain.StateCancelled {
			m.logEvent("download_completed_after_cancel", ref, zap.String("handle", string(ev.Handle)))
			m.transition(ref, domain.Downloaded(ev.LocalPath), "", "")
			return
		}
		if err := m.storage.Delete(ev.LocalPath); err != nil {
			m.logAppError("Failed to delete orphaned asset", ref, zap.String("path", ev.LocalPath), zap.Error(err))
		}

	case domain.EventFailed:
		delete(m.pendingCancels, ev.Handle)
	}
}

// applyInterruptedEvent handles a resumed transfer that finished between engine start
// and reconcile. Its completion replaces the interrupted failure unless a command has
// changed the entry since.
func (m *PersistenceManager) applyInterruptedEvent(ref domain.MediaRef, ev domain.EngineEvent) {
	if ev.Kind == domain.EventProgress {
		return
	}
	delete(m.interrupted, ev.Handle)

	current := m.ledger.Get(ref)
	stillInterrupted := current.Kind == domain.StateFailed && current.Reason == domain.ErrorInterruptedByRestart

	if ev.Kind == domain.EventCompleted {
		if stillInterrupted {
			m.logEvent("download_completed", ref, zap.String("handle", string(ev.Handle)), zap.String("path", ev.LocalPath))
			m.transition(ref, domain.Downloaded(ev.LocalPath), "", "")
			return
		}
		if err := m.storage.Delete(ev.LocalPath); err != nil {
			m.logAppError("Failed to delete orphaned asset", ref, zap.String("path", ev.LocalPath), zap.Error(err))
		}
	}
}

func (m *PersistenceManager) cancelTransfer(ref domain.MediaRef, handle domain.TaskHandle) {
	if handle == "" {
		return
	}
	m.pendingCancels[handle] = ref
	m.engine.Cancel(handle)
}

// reconcile aligns the loaded ledger with the engine's live tasks. It runs before the loop starts.
func (m *PersistenceManager) reconcile() {
	active := make(map[domain.TaskHandle]domain.ActiveTask)
	for _, task := range m.engine.ActiveTasks() {
		active[task.Handle] = task
	}

	for _, entry := range m.ledger.Entries() {
		ref := entry.Ref()
		switch entry.State {
		case domain.StateDownloading:
			if _, ok := active[entry.TaskHandle]; ok {
				delete(active, entry.TaskHandle)
				continue
			}
			if entry.TaskHandle != "" {
				m.interrupted[entry.TaskHandle] = ref
			}
			m.logEvent("download_interrupted", ref, zap.String("handle", string(entry.TaskHandle)))
			m.transition(ref, domain.Failed(domain.ErrorInterruptedByRestart, "transfer not found after restart"), "", "")

		case domain.StateDownloaded:
			if !m.storage.Exists(entry.LocalPath) {
				m.logEvent("download_missing", ref, zap.String("path", entry.LocalPath))
				m.transition(ref, domain.NotDownloaded(), "", "")
			}
		}
	}

	for handle, task := range active {
		m.logger.Info("Cancelling engine task without ledger entry",
			zap.String("handle", string(handle)),
			zap.String("hashed_id", task.HashedID))
		m.engine.Cancel(handle)
	}
}

// transition records a new state and notifies observers
func (m *PersistenceManager) transition(ref domain.MediaRef, state domain.DownloadState, handle domain.TaskHandle, manifestURL string) {
	if err := m.ledger.Upsert(context.Background(), ref, state, handle, manifestURL); err != nil {
		m.logAppError("Failed to persist ledger entry", ref, zap.String("state", state.String()), zap.Error(err))
	}

	m.logger.Debug("Download state changed",
		zap.String("hashed_id", ref.HashedID),
		zap.String("state", state.String()))

	m.observers.Notify(ref, state)
}

func (m *PersistenceManager) logEvent(event string, ref domain.MediaRef, fields ...zap.Field) {
	fields = append([]zap.Field{zap.String("hashed_id", ref.HashedID)}, fields...)
	m.logger.Info(event, fields...)
	if m.multiLogger != nil {
		m.multiLogger.LogTransferEvent(event, fields...)
	}
}

func (m *PersistenceManager) logAppError(msg string, ref domain.MediaRef, fields ...zap.Field) {
	fields = append([]zap.Field{zap.String("hashed_id", ref.HashedID)}, fields...)
	m.logger.Error(msg, fields...)
	if m.multiLogger != nil {
		m.multiLogger.LogAppError(msg, fields...)
	}
}
