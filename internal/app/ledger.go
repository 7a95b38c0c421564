package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// Ledger keeps the current download state of every media in memory and writes
// changes through to a durable LedgerStore. Reads never touch the store.
type Ledger struct {
	store    domain.LedgerStore
	mu       sync.RWMutex
	entries  map[string]*domain.LedgerEntry
	byHandle map[domain.TaskHandle]string
}

// NewLedger creates an empty ledger backed by store
func NewLedger(store domain.LedgerStore) *Ledger {
	return &Ledger{
		store:    store,
		entries:  make(map[string]*domain.LedgerEntry),
		byHandle: make(map[domain.TaskHandle]string),
	}
}

// Load replaces the in-memory view with the persisted entries
func (l *Ledger) Load(ctx context.Context) error {
	persisted, err := l.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*domain.LedgerEntry, len(persisted))
	l.byHandle = make(map[domain.TaskHandle]string)
	for _, e := range persisted {
		if e == nil || e.HashedID == "" || !domain.ValidateStateKind(e.State) {
			continue
		}
		cp := *e
		if cp.DownloadState().IsTerminal() {
			cp.TaskHandle = ""
		}
		l.entries[cp.HashedID] = &cp
		if cp.TaskHandle != "" {
			l.byHandle[cp.TaskHandle] = cp.HashedID
		}
	}
	return nil
}

// Get returns the state of a media, NotDownloaded when unknown
func (l *Ledger) Get(ref domain.MediaRef) domain.DownloadState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if e, ok := l.entries[ref.HashedID]; ok {
		return e.DownloadState()
	}
	return domain.NotDownloaded()
}

// Entry returns a copy of the entry for a media
func (l *Ledger) Entry(ref domain.MediaRef) (domain.LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if e, ok := l.entries[ref.HashedID]; ok {
		return *e, true
	}
	return domain.LedgerEntry{}, false
}

// RefForHandle finds the media currently owning an engine handle
func (l *Ledger) RefForHandle(handle domain.TaskHandle) (domain.MediaRef, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.byHandle[handle]
	if !ok {
		return domain.MediaRef{}, false
	}
	return domain.MediaRef{HashedID: id}, true
}

// Upsert replaces the state of a media. The in-memory view is always updated;
// the returned error only reports a failed write to the durable store.
// NotDownloaded removes the entry.
func (l *Ledger) Upsert(ctx context.Context, ref domain.MediaRef, state domain.DownloadState, handle domain.TaskHandle, manifestURL string) error {
	if state.Kind == domain.StateNotDownloaded || state.Kind == "" {
		return l.Remove(ctx, ref)
	}

	l.mu.Lock()
	e, ok := l.entries[ref.HashedID]
	if !ok {
		e = domain.NewLedgerEntry(ref, state, handle)
		l.entries[ref.HashedID] = e
	} else {
		if e.TaskHandle != "" {
			delete(l.byHandle, e.TaskHandle)
		}
		e.Apply(state, handle)
	}
	if manifestURL != "" {
		e.ManifestURL = manifestURL
	}
	if e.TaskHandle != "" {
		l.byHandle[e.TaskHandle] = e.HashedID
	}
	snapshot := *e
	l.mu.Unlock()

	if err := l.store.Save(ctx, &snapshot); err != nil {
		return fmt.Errorf("failed to persist ledger entry %s: %w", ref.HashedID, err)
	}
	return nil
}

// Remove deletes the entry for a media
func (l *Ledger) Remove(ctx context.Context, ref domain.MediaRef) error {
	l.mu.Lock()
	e, ok := l.entries[ref.HashedID]
	if ok {
		if e.TaskHandle != "" {
			delete(l.byHandle, e.TaskHandle)
		}
		delete(l.entries, ref.HashedID)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}
	if err := l.store.Delete(ctx, ref.HashedID); err != nil {
		return fmt.Errorf("failed to delete ledger entry %s: %w", ref.HashedID, err)
	}
	return nil
}

// Entries returns copies of all entries ordered by hashed ID
func (l *Ledger) Entries() []domain.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HashedID < out[j].HashedID })
	return out
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
