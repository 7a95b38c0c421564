package domain

import "fmt"

// StateKind represents the lifecycle stage of an offline download
type StateKind string

const (
	StateNotDownloaded StateKind = "not_downloaded"
	StateDownloading   StateKind = "downloading"
	StateDownloaded    StateKind = "downloaded"
	StateFailed        StateKind = "failed"
	StateCancelled     StateKind = "cancelled"
)

// DownloadState is the state of a single media. Only the field matching Kind is set.
type DownloadState struct {
	Kind      StateKind `json:"kind"`
	Progress  float64   `json:"progress,omitempty"`   // downloading only, 0..1
	LocalPath string    `json:"local_path,omitempty"` // downloaded only
	Reason    ErrorKind `json:"reason,omitempty"`     // failed only
	Detail    string    `json:"detail,omitempty"`     // failed only
}

// NotDownloaded returns the default state
func NotDownloaded() DownloadState {
	return DownloadState{Kind: StateNotDownloaded}
}

// Downloading returns an in-flight state, clamping progress to [0,1]
func Downloading(progress float64) DownloadState {
	return DownloadState{Kind: StateDownloading, Progress: clampProgress(progress)}
}

// Downloaded returns a completed state pointing at the local playlist
func Downloaded(localPath string) DownloadState {
	return DownloadState{Kind: StateDownloaded, LocalPath: localPath}
}

// Failed returns a failed state with its reason
func Failed(reason ErrorKind, detail string) DownloadState {
	return DownloadState{Kind: StateFailed, Reason: reason, Detail: detail}
}

// Cancelled returns the cancelled state
func Cancelled() DownloadState {
	return DownloadState{Kind: StateCancelled}
}

// IsTerminal checks if no transfer is associated with the state
func (s DownloadState) IsTerminal() bool {
	return s.Kind == StateDownloaded || s.Kind == StateFailed || s.Kind == StateCancelled
}

// IsDownloading checks if a transfer is in flight
func (s DownloadState) IsDownloading() bool {
	return s.Kind == StateDownloading
}

// CanStartDownload checks if a download command would start a new transfer
func (s DownloadState) CanStartDownload() bool {
	switch s.Kind {
	case StateNotDownloaded, StateFailed, StateCancelled, "":
		return true
	default:
		return false
	}
}

// ProgressValue returns the progress to report to observers, nil outside of downloading
func (s DownloadState) ProgressValue() *float64 {
	if s.Kind != StateDownloading {
		return nil
	}
	p := s.Progress
	return &p
}

func (s DownloadState) String() string {
	switch s.Kind {
	case StateDownloading:
		return fmt.Sprintf("downloading(%.2f)", s.Progress)
	case StateDownloaded:
		return fmt.Sprintf("downloaded(%s)", s.LocalPath)
	case StateFailed:
		if s.Detail != "" {
			return fmt.Sprintf("failed(%s: %s)", s.Reason, s.Detail)
		}
		return fmt.Sprintf("failed(%s)", s.Reason)
	case "":
		return string(StateNotDownloaded)
	default:
		return string(s.Kind)
	}
}

// ValidateStateKind checks if a kind is one of the known states
func ValidateStateKind(kind StateKind) bool {
	switch kind {
	case StateNotDownloaded, StateDownloading, StateDownloaded, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

func clampProgress(p float64) float64 {
	if p != p || p < 0 { // NaN
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
