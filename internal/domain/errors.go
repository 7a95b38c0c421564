package domain

import "errors"

var (
	// ErrUnresolvableIdentifier indicates a media identifier does not map to a playable HLS manifest
	ErrUnresolvableIdentifier = errors.New("unresolvable_identifier")

	// ErrTransferCancelled is reported by the engine when a transfer stopped because it was cancelled
	ErrTransferCancelled = errors.New("transfer_cancelled")

	// ErrTransferFailed wraps network and manifest failures inside the engine
	ErrTransferFailed = errors.New("transfer_failed")

	// ErrStorageWrite indicates local asset storage could not be written or removed
	ErrStorageWrite = errors.New("storage_write_failed")

	// ErrManagerNotRunning is returned for commands issued before Start or after Stop
	ErrManagerNotRunning = errors.New("manager_not_running")

	// ErrDataAPI is returned when the Wistia Data API or embed host fails for a reason other than an unknown media
	ErrDataAPI = errors.New("data_api_unavailable")
)

// ErrorKind classifies why a download ended in the failed state
type ErrorKind string

const (
	ErrorUnresolvableIdentifier ErrorKind = "unresolvable_identifier"
	ErrorTransferFailed         ErrorKind = "transfer_failed"
	ErrorStorageWriteFailed     ErrorKind = "storage_write_failed"
	ErrorInterruptedByRestart   ErrorKind = "interrupted_by_restart"
)

// ClassifyError maps an engine error onto the failure kind recorded in the ledger
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStorageWrite):
		return ErrorStorageWriteFailed
	case errors.Is(err, ErrUnresolvableIdentifier):
		return ErrorUnresolvableIdentifier
	default:
		return ErrorTransferFailed
	}
}
