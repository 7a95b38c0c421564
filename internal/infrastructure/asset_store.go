package infrastructure

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

const (
	playlistFileName = "index.m3u8"
	journalFileName  = "transfer.json"
	partialSuffix    = ".part"
)

// TransferJournal is persisted in each task directory so transfers survive a restart
type TransferJournal struct {
	Handle      domain.TaskHandle `json:"handle"`
	HashedID    string            `json:"hashed_id"`
	ManifestURL string            `json:"manifest_url"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AssetStore lays out downloaded HLS assets as one directory per task under root:
//
//	<root>/<handle>/index.m3u8
//	<root>/<handle>/segment_00000.ts
//	<root>/<handle>/transfer.json   (until the transfer completes)
type AssetStore struct {
	fs   afero.Fs
	root string
}

// NewAssetStore creates the root directory if needed
func NewAssetStore(fs afero.Fs, root string) (*AssetStore, error) {
	if root == "" {
		return nil, fmt.Errorf("assets directory must be specified")
	}
	root = filepath.Clean(root)
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assets directory: %v: %w", err, domain.ErrStorageWrite)
	}
	return &AssetStore{fs: fs, root: root}, nil
}

// Root returns the assets directory
func (s *AssetStore) Root() string {
	return s.root
}

// TaskDir returns the directory holding a task's files
func (s *AssetStore) TaskDir(handle domain.TaskHandle) string {
	return filepath.Join(s.root, string(handle))
}

// PlaylistPath returns the local playlist of a task
func (s *AssetStore) PlaylistPath(handle domain.TaskHandle) string {
	return filepath.Join(s.TaskDir(handle), playlistFileName)
}

// SegmentName returns the file name of the i-th segment
func SegmentName(i int) string {
	return fmt.Sprintf("segment_%05d.ts", i)
}

// PrepareTask creates the task directory
func (s *AssetStore) PrepareTask(handle domain.TaskHandle) error {
	if err := s.fs.MkdirAll(s.TaskDir(handle), 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %v: %w", err, domain.ErrStorageWrite)
	}
	return nil
}

// WriteFile writes r to path through a temporary file so readers never see partial content
func (s *AssetStore) WriteFile(path string, r io.Reader) (int64, error) {
	tmp := path + partialSuffix
	f, err := s.fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %v: %w", tmp, err, domain.ErrStorageWrite)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		s.fs.Remove(tmp)
		return n, copyErr
	}
	if closeErr != nil {
		s.fs.Remove(tmp)
		return n, fmt.Errorf("failed to write %s: %v: %w", tmp, closeErr, domain.ErrStorageWrite)
	}

	if err := s.fs.Rename(tmp, path); err != nil {
		s.fs.Remove(tmp)
		return n, fmt.Errorf("failed to rename %s: %v: %w", tmp, err, domain.ErrStorageWrite)
	}
	return n, nil
}

// Exists reports whether a file is present
func (s *AssetStore) Exists(localPath string) bool {
	ok, err := afero.Exists(s.fs, localPath)
	return err == nil && ok
}

// Delete removes the task directory that contains localPath. Paths outside the
// assets directory are refused; a missing directory is not an error.
func (s *AssetStore) Delete(localPath string) error {
	dir, ok := s.taskDirOf(localPath)
	if !ok {
		return fmt.Errorf("refusing to delete %s outside %s: %w", localPath, s.root, domain.ErrStorageWrite)
	}
	if err := s.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete %s: %v: %w", dir, err, domain.ErrStorageWrite)
	}
	return nil
}

// RemoveTask deletes everything written for a task
func (s *AssetStore) RemoveTask(handle domain.TaskHandle) error {
	return s.Delete(s.TaskDir(handle))
}

func (s *AssetStore) taskDirOf(localPath string) (string, bool) {
	rel, err := filepath.Rel(s.root, filepath.Clean(localPath))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	return filepath.Join(s.root, first), true
}

// RelativePath returns localPath relative to the assets directory, using forward slashes
func (s *AssetStore) RelativePath(localPath string) (string, bool) {
	if _, ok := s.taskDirOf(localPath); !ok {
		return "", false
	}
	rel, err := filepath.Rel(s.root, filepath.Clean(localPath))
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// SaveJournal records an in-flight transfer
func (s *AssetStore) SaveJournal(j TransferJournal) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode journal: %w", err)
	}
	if _, err := s.WriteFile(filepath.Join(s.TaskDir(j.Handle), journalFileName), strings.NewReader(string(data))); err != nil {
		return err
	}
	return nil
}

// RemoveJournal marks a transfer as finished
func (s *AssetStore) RemoveJournal(handle domain.TaskHandle) error {
	err := s.fs.Remove(filepath.Join(s.TaskDir(handle), journalFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove journal: %v: %w", err, domain.ErrStorageWrite)
	}
	return nil
}

// LoadJournals returns the journals of every unfinished transfer, oldest first
func (s *AssetStore) LoadJournals() ([]TransferJournal, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets directory: %w", err)
	}

	var journals []TransferJournal
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(s.root, info.Name(), journalFileName))
		if err != nil {
			continue
		}
		var j TransferJournal
		if err := json.Unmarshal(data, &j); err != nil || j.Handle == "" {
			continue
		}
		journals = append(journals, j)
	}

	sort.Slice(journals, func(i, k int) bool { return journals[i].CreatedAt.Before(journals[k].CreatedAt) })
	return journals, nil
}

// HTTPFileSystem exposes the assets directory for serving downloaded playlists and segments
func (s *AssetStore) HTTPFileSystem() http.FileSystem {
	return afero.NewHttpFs(s.fs).Dir(s.root)
}
