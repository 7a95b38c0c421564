package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLedgerEntry_DownloadingKeepsHandle(t *testing.T) {
	ref, _ := NewMediaRef("id1")
	entry := NewLedgerEntry(ref, Downloading(0.4), "h-1")

	assert.Equal(t, "id1", entry.HashedID)
	assert.Equal(t, StateDownloading, entry.State)
	assert.Equal(t, TaskHandle("h-1"), entry.TaskHandle)
	assert.Equal(t, Downloading(0.4), entry.DownloadState())
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestLedgerEntry_ApplyTerminalClearsHandle(t *testing.T) {
	ref, _ := NewMediaRef("id1")
	entry := NewLedgerEntry(ref, Downloading(0.4), "h-1")

	entry.Apply(Downloaded("/assets/h-1/index.m3u8"), "h-1")
	assert.Empty(t, entry.TaskHandle)
	assert.Equal(t, Downloaded("/assets/h-1/index.m3u8"), entry.DownloadState())

	entry.Apply(Failed(ErrorTransferFailed, "404"), "")
	assert.Equal(t, Failed(ErrorTransferFailed, "404"), entry.DownloadState())
	assert.Empty(t, entry.LocalPath)
}

func TestLedgerEntry_UnknownStateReadsAsNotDownloaded(t *testing.T) {
	entry := &LedgerEntry{HashedID: "id1", State: "bogus"}
	assert.Equal(t, NotDownloaded(), entry.DownloadState())
}

func TestComputeLedgerStats(t *testing.T) {
	entries := []LedgerEntry{
		{State: StateDownloading},
		{State: StateDownloaded},
		{State: StateDownloaded},
		{State: StateFailed},
		{State: StateCancelled},
	}
	stats := ComputeLedgerStats(entries)
	assert.Equal(t, LedgerStats{Total: 5, Downloading: 1, Downloaded: 2, Failed: 1, Cancelled: 1}, stats)
}
