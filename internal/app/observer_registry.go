package app

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// ObserverFunc receives download state changes. progress is nil unless the state is downloading.
type ObserverFunc func(hashedID string, state domain.DownloadState, progress *float64)

// Subscription identifies a registered observer and is used to remove it
type Subscription struct {
	id  uuid.UUID
	ref domain.MediaRef // zero for global observers
}

// ID returns the subscription identifier
func (s Subscription) ID() string {
	return s.id.String()
}

// Media returns the observed media, zero for global observers
func (s Subscription) Media() domain.MediaRef {
	return s.ref
}

type binding struct {
	sub Subscription
	seq uint64
	fn  ObserverFunc
}

// ObserverRegistry maps media to interested observers
type ObserverRegistry struct {
	mu      sync.RWMutex
	byMedia map[string][]binding
	global  []binding
	nextSeq uint64
	logger  *zap.Logger
}

// NewObserverRegistry creates an empty registry
func NewObserverRegistry(logger *zap.Logger) *ObserverRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObserverRegistry{
		byMedia: make(map[string][]binding),
		logger:  logger,
	}
}

// Add registers fn for state changes of ref
func (r *ObserverRegistry) Add(ref domain.MediaRef, fn ObserverFunc) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.newBinding(ref, fn)
	r.byMedia[ref.HashedID] = append(r.byMedia[ref.HashedID], b)
	return b.sub
}

// AddGlobal registers fn for state changes of every media
func (r *ObserverRegistry) AddGlobal(fn ObserverFunc) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.newBinding(domain.MediaRef{}, fn)
	r.global = append(r.global, b)
	return b.sub
}

func (r *ObserverRegistry) newBinding(ref domain.MediaRef, fn ObserverFunc) binding {
	r.nextSeq++
	return binding{
		sub: Subscription{id: uuid.New(), ref: ref},
		seq: r.nextSeq,
		fn:  fn,
	}
}

// Remove unregisters a subscription. It is safe to call from inside a callback.
func (r *ObserverRegistry) Remove(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.ref.IsZero() {
		var removed bool
		r.global, removed = without(r.global, sub.id)
		return removed
	}

	list, removed := without(r.byMedia[sub.ref.HashedID], sub.id)
	if len(list) == 0 {
		delete(r.byMedia, sub.ref.HashedID)
	} else {
		r.byMedia[sub.ref.HashedID] = list
	}
	return removed
}

func without(list []binding, id uuid.UUID) ([]binding, bool) {
	for i, b := range list {
		if b.sub.id == id {
			out := make([]binding, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
	}
	return list, false
}

// Count returns the number of observers that would receive a notification for ref
func (r *ObserverRegistry) Count(ref domain.MediaRef) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byMedia[ref.HashedID]) + len(r.global)
}

// Notify delivers a state change to every observer of ref in registration order.
// Bindings are snapshotted first; removals made by callbacks apply to later notifications.
func (r *ObserverRegistry) Notify(ref domain.MediaRef, state domain.DownloadState) {
	snapshot := r.snapshot(ref)
	progress := state.ProgressValue()
	for _, b := range snapshot {
		r.deliver(b, ref, state, progress)
	}
}

func (r *ObserverRegistry) snapshot(ref domain.MediaRef) []binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	media := r.byMedia[ref.HashedID]
	out := make([]binding, 0, len(media)+len(r.global))
	out = append(out, media...)
	out = append(out, r.global...)
	if len(r.global) > 0 && len(media) > 0 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	}
	return out
}

func (r *ObserverRegistry) deliver(b binding, ref domain.MediaRef, state domain.DownloadState, progress *float64) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Observer panicked",
				zap.String("hashed_id", ref.HashedID),
				zap.String("subscription", b.sub.ID()),
				zap.Any("panic", rec))
		}
	}()
	var p *float64
	if progress != nil {
		v := *progress
		p = &v
	}
	b.fn(ref.HashedID, state, p)
}
