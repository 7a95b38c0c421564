package domain

import "context"

// TaskHandle is an opaque reference to an in-flight engine transfer
type TaskHandle string

// EngineEventKind distinguishes the callbacks delivered by a download engine
type EngineEventKind string

const (
	EventProgress  EngineEventKind = "progress"
	EventCompleted EngineEventKind = "completed"
	EventFailed    EngineEventKind = "failed"
)

// EngineEvent is an asynchronous callback from the download engine
type EngineEvent struct {
	Handle    TaskHandle
	Kind      EngineEventKind
	Progress  float64 // progress events
	LocalPath string  // completed events
	Err       error   // failed events; ErrTransferCancelled acknowledges a cancel
}

// ProgressEvent builds a progress callback
func ProgressEvent(handle TaskHandle, progress float64) EngineEvent {
	return EngineEvent{Handle: handle, Kind: EventProgress, Progress: progress}
}

// CompletedEvent builds a completion callback
func CompletedEvent(handle TaskHandle, localPath string) EngineEvent {
	return EngineEvent{Handle: handle, Kind: EventCompleted, LocalPath: localPath}
}

// FailedEvent builds a failure callback
func FailedEvent(handle TaskHandle, err error) EngineEvent {
	return EngineEvent{Handle: handle, Kind: EventFailed, Err: err}
}

// EngineEventSink receives engine callbacks. Implementations must not block for long.
type EngineEventSink interface {
	HandleEngineEvent(event EngineEvent)
}

// ActiveTask describes a transfer the engine still considers running
type ActiveTask struct {
	Handle      TaskHandle `json:"handle"`
	HashedID    string     `json:"hashed_id"`
	ManifestURL string     `json:"manifest_url"`
}

// DownloadEngine defines the asset-transfer engine wrapped by the persistence manager
type DownloadEngine interface {
	// Start begins delivering events to sink and resumes transfers that survived a restart
	Start(ctx context.Context, sink EngineEventSink) error

	// StartTransfer begins downloading the manifest and returns the task handle
	StartTransfer(ctx context.Context, ref MediaRef, manifestURL string) (TaskHandle, error)

	// Cancel asks a transfer to stop; unknown or finished handles are ignored
	Cancel(handle TaskHandle)

	// ActiveTasks lists transfers that have not reached a terminal outcome
	ActiveTasks() []ActiveTask

	// Shutdown stops all transfers without reporting terminal outcomes so they resume on next start
	Shutdown()
}

// AssetStorage is the local storage view the persistence manager needs
type AssetStorage interface {
	// Delete removes a downloaded asset identified by its local path
	Delete(localPath string) error

	// Exists reports whether a downloaded asset is still present
	Exists(localPath string) bool
}

// PlayableItem is what a player should open for a media
type PlayableItem struct {
	HashedID string `json:"hashed_id"`
	URL      string `json:"url"`
	Local    bool   `json:"local"`
}
