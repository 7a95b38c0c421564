package domain

import (
	"context"
	"time"
)

// LedgerEntry is the durable record of a media's download state
type LedgerEntry struct {
	HashedID      string     `json:"hashed_id" gorm:"primaryKey"`
	State         StateKind  `json:"state" gorm:"not null;index"`
	Progress      float64    `json:"progress"`
	LocalPath     string     `json:"local_path,omitempty"`
	FailureReason ErrorKind  `json:"failure_reason,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty" gorm:"type:text"`
	TaskHandle    TaskHandle `json:"task_handle,omitempty" gorm:"index"`
	ManifestURL   string     `json:"manifest_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// NewLedgerEntry creates an entry for a media in the given state
func NewLedgerEntry(ref MediaRef, state DownloadState, handle TaskHandle) *LedgerEntry {
	now := time.Now()
	e := &LedgerEntry{
		HashedID:  ref.HashedID,
		CreatedAt: now,
	}
	e.Apply(state, handle)
	e.UpdatedAt = now
	return e
}

// Ref returns the media this entry belongs to
func (e *LedgerEntry) Ref() MediaRef {
	return MediaRef{HashedID: e.HashedID}
}

// DownloadState rebuilds the tagged state from the flattened columns
func (e *LedgerEntry) DownloadState() DownloadState {
	switch e.State {
	case StateDownloading:
		return Downloading(e.Progress)
	case StateDownloaded:
		return Downloaded(e.LocalPath)
	case StateFailed:
		return Failed(e.FailureReason, e.FailureDetail)
	case StateCancelled:
		return Cancelled()
	default:
		return NotDownloaded()
	}
}

// Apply replaces the state columns. The handle is dropped for every state but downloading.
func (e *LedgerEntry) Apply(state DownloadState, handle TaskHandle) {
	e.State = state.Kind
	if e.State == "" {
		e.State = StateNotDownloaded
	}
	e.Progress = state.Progress
	e.LocalPath = state.LocalPath
	e.FailureReason = state.Reason
	e.FailureDetail = state.Detail
	if state.Kind == StateDownloading {
		e.TaskHandle = handle
	} else {
		e.TaskHandle = ""
	}
	e.UpdatedAt = time.Now()
}

// LedgerStore defines the durable backend behind the persistence ledger
type LedgerStore interface {
	// LoadAll returns every persisted entry
	LoadAll(ctx context.Context) ([]*LedgerEntry, error)

	// Save inserts or replaces an entry
	Save(ctx context.Context, entry *LedgerEntry) error

	// Delete removes the entry for a media; deleting a missing entry is not an error
	Delete(ctx context.Context, hashedID string) error

	// Close releases the backend
	Close() error
}

// LedgerStats summarises ledger entries by state
type LedgerStats struct {
	Total       int `json:"total"`
	Downloading int `json:"downloading"`
	Downloaded  int `json:"downloaded"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
}

// ComputeLedgerStats counts entries by state
func ComputeLedgerStats(entries []LedgerEntry) LedgerStats {
	stats := LedgerStats{Total: len(entries)}
	for _, e := range entries {
		switch e.State {
		case StateDownloading:
			stats.Downloading++
		case StateDownloaded:
			stats.Downloaded++
		case StateFailed:
			stats.Failed++
		case StateCancelled:
			stats.Cancelled++
		}
	}
	return stats
}
