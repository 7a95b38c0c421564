package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// HLSEngineConfig contains transfer limits for the HLS engine
type HLSEngineConfig struct {
	ConcurrentTransfers int
	SegmentConcurrency  int
	SegmentRetries      int
	RetryDelay          time.Duration
	MaxBandwidth        int
	RequestTimeout      time.Duration
}

// HLSEngineConfigFrom maps the engine section of the application config
func HLSEngineConfigFrom(c domain.EngineConfig) HLSEngineConfig {
	return HLSEngineConfig{
		ConcurrentTransfers: c.ConcurrentTransfers,
		SegmentConcurrency:  c.SegmentConcurrency,
		SegmentRetries:      c.SegmentRetries,
		RetryDelay:          c.RetryDelay,
		MaxBandwidth:        c.MaxBandwidth,
		RequestTimeout:      c.RequestTimeout,
	}
}

// HLSEngine downloads HLS streams into an AssetStore. It implements domain.DownloadEngine.
type HLSEngine struct {
	config HLSEngineConfig
	store  *AssetStore
	client *http.Client
	logger *zap.Logger

	sink       domain.EngineEventSink
	baseCtx    context.Context
	baseCancel context.CancelFunc
	semaphore  chan struct{} // limits concurrent transfers

	mu    sync.Mutex
	tasks map[domain.TaskHandle]*transferTask
	wg    sync.WaitGroup
}

type transferTask struct {
	journal   TransferJournal
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// NewHLSEngine creates a new HLS engine
func NewHLSEngine(config HLSEngineConfig, store *AssetStore, client *http.Client, logger *zap.Logger) *HLSEngine {
	if config.ConcurrentTransfers < 1 {
		config.ConcurrentTransfers = 1
	}
	if config.SegmentConcurrency < 1 {
		config.SegmentConcurrency = 1
	}
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HLSEngine{
		config:    config,
		store:     store,
		client:    client,
		logger:    logger,
		semaphore: make(chan struct{}, config.ConcurrentTransfers),
		tasks:     make(map[domain.TaskHandle]*transferTask),
	}
}

// Start begins delivering events to sink and resumes journaled transfers
func (e *HLSEngine) Start(ctx context.Context, sink domain.EngineEventSink) error {
	e.mu.Lock()
	if e.sink != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.sink = sink
	e.baseCtx, e.baseCancel = context.WithCancel(ctx)
	e.mu.Unlock()

	journals, err := e.store.LoadJournals()
	if err != nil {
		return err
	}
	for _, j := range journals {
		e.logger.Info("Resuming transfer",
			zap.String("handle", string(j.Handle)),
			zap.String("hashed_id", j.HashedID))
		e.launch(j)
	}
	return nil
}

// StartTransfer journals a new transfer and starts it in the background.
// The transfer outlives ctx; use Cancel to stop it.
func (e *HLSEngine) StartTransfer(ctx context.Context, ref domain.MediaRef, manifestURL string) (domain.TaskHandle, error) {
	e.mu.Lock()
	started := e.sink != nil
	e.mu.Unlock()
	if !started {
		return "", fmt.Errorf("engine not started")
	}

	journal := TransferJournal{
		Handle:      domain.TaskHandle(uuid.New().String()),
		HashedID:    ref.HashedID,
		ManifestURL: manifestURL,
		CreatedAt:   time.Now(),
	}
	if err := e.store.PrepareTask(journal.Handle); err != nil {
		return "", err
	}
	if err := e.store.SaveJournal(journal); err != nil {
		e.store.RemoveTask(journal.Handle)
		return "", err
	}

	e.launch(journal)
	return journal.Handle, nil
}

// Cancel stops a transfer; it reports ErrTransferCancelled unless the transfer already finished
func (e *HLSEngine) Cancel(handle domain.TaskHandle) {
	e.mu.Lock()
	task, ok := e.tasks[handle]
	e.mu.Unlock()
	if !ok {
		return
	}
	task.cancelled.Store(true)
	task.cancel()
}

// ActiveTasks lists transfers that have not finished
func (e *HLSEngine) ActiveTasks() []domain.ActiveTask {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.ActiveTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, domain.ActiveTask{
			Handle:      t.journal.Handle,
			HashedID:    t.journal.HashedID,
			ManifestURL: t.journal.ManifestURL,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Shutdown stops every transfer without reporting outcomes; journals are kept for the next Start
func (e *HLSEngine) Shutdown() {
	e.mu.Lock()
	cancel := e.baseCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *HLSEngine) launch(j TransferJournal) {
	task := &transferTask{journal: j}
	task.ctx, task.cancel = context.WithCancel(e.baseCtx)

	e.mu.Lock()
	e.tasks[j.Handle] = task
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(task)
}

func (e *HLSEngine) run(task *transferTask) {
	defer e.wg.Done()
	defer task.cancel()

	select {
	case e.semaphore <- struct{}{}:
	case <-task.ctx.Done():
		e.finish(task, "", task.ctx.Err())
		return
	}

	path, err := e.transfer(task.ctx, task.journal)
	<-e.semaphore
	e.finish(task, path, err)
}

// finish reports the single terminal outcome of a task
func (e *HLSEngine) finish(task *transferTask, path string, err error) {
	handle := task.journal.Handle

	e.mu.Lock()
	delete(e.tasks, handle)
	e.mu.Unlock()

	log := e.logger.With(zap.String("handle", string(handle)), zap.String("hashed_id", task.journal.HashedID))

	switch {
	case err == nil:
		if rmErr := e.store.RemoveJournal(handle); rmErr != nil {
			log.Warn("Failed to remove journal", zap.Error(rmErr))
		}
		log.Info("Transfer completed", zap.String("path", path))
		e.sink.HandleEngineEvent(domain.CompletedEvent(handle, path))

	case task.cancelled.Load():
		e.removeTask(handle, log)
		log.Info("Transfer cancelled")
		e.sink.HandleEngineEvent(domain.FailedEvent(handle, domain.ErrTransferCancelled))

	case e.baseCtx.Err() != nil:
		log.Info("Transfer suspended for shutdown")

	default:
		e.removeTask(handle, log)
		log.Warn("Transfer failed", zap.Error(err))
		e.sink.HandleEngineEvent(domain.FailedEvent(handle, err))
	}
}

func (e *HLSEngine) removeTask(handle domain.TaskHandle, log *zap.Logger) {
	if err := e.store.RemoveTask(handle); err != nil {
		log.Warn("Failed to remove task directory", zap.Error(err))
	}
}

// transfer downloads every segment of the selected rendition and writes a local playlist
func (e *HLSEngine) transfer(ctx context.Context, j TransferJournal) (string, error) {
	media, mediaURL, err := e.loadMediaPlaylist(ctx, j.ManifestURL)
	if err != nil {
		return "", err
	}

	segments, err := collectSegments(media, mediaURL)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("playlist %s has no segments: %w", mediaURL, domain.ErrTransferFailed)
	}

	dir := e.store.TaskDir(j.Handle)
	total := len(segments)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.SegmentConcurrency)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			if err := e.fetchSegment(gctx, seg.url, filepath.Join(dir, SegmentName(i))); err != nil {
				return err
			}
			n := done.Add(1)
			e.sink.HandleEngineEvent(domain.ProgressEvent(j.Handle, float64(n)/float64(total)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return e.writeLocalPlaylist(j.Handle, segments)
}

type segmentRef struct {
	url      string
	duration float64
	title    string
}

func collectSegments(media *m3u8.MediaPlaylist, base *url.URL) ([]segmentRef, error) {
	if isEncrypted(media.Key) {
		return nil, fmt.Errorf("encrypted playlists are not supported: %w", domain.ErrTransferFailed)
	}

	var out []segmentRef
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if isEncrypted(seg.Key) {
			return nil, fmt.Errorf("encrypted segments are not supported: %w", domain.ErrTransferFailed)
		}
		u, err := resolveReference(base, seg.URI)
		if err != nil {
			return nil, err
		}
		out = append(out, segmentRef{url: u.String(), duration: seg.Duration, title: seg.Title})
	}
	return out, nil
}

func isEncrypted(key *m3u8.Key) bool {
	return key != nil && key.Method != "" && !strings.EqualFold(key.Method, "NONE")
}

// loadMediaPlaylist fetches the manifest, following a master playlist to the chosen variant
func (e *HLSEngine) loadMediaPlaylist(ctx context.Context, manifestURL string) (*m3u8.MediaPlaylist, *url.URL, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid manifest url %q: %v: %w", manifestURL, err, domain.ErrTransferFailed)
	}

	playlist, listType, err := e.fetchPlaylist(ctx, base)
	if err != nil {
		return nil, nil, err
	}

	switch listType {
	case m3u8.MEDIA:
		return playlist.(*m3u8.MediaPlaylist), base, nil

	case m3u8.MASTER:
		variant := selectVariant(playlist.(*m3u8.MasterPlaylist), e.config.MaxBandwidth)
		if variant == nil {
			return nil, nil, fmt.Errorf("master playlist %s has no variants: %w", manifestURL, domain.ErrTransferFailed)
		}
		variantURL, err := resolveReference(base, variant.URI)
		if err != nil {
			return nil, nil, err
		}
		e.logger.Debug("Selected variant",
			zap.String("uri", variantURL.String()),
			zap.Uint32("bandwidth", variant.Bandwidth))

		media, mediaType, err := e.fetchPlaylist(ctx, variantURL)
		if err != nil {
			return nil, nil, err
		}
		if mediaType != m3u8.MEDIA {
			return nil, nil, fmt.Errorf("variant %s is not a media playlist: %w", variantURL, domain.ErrTransferFailed)
		}
		return media.(*m3u8.MediaPlaylist), variantURL, nil
	}

	return nil, nil, fmt.Errorf("unknown playlist type at %s: %w", manifestURL, domain.ErrTransferFailed)
}

// selectVariant picks the highest bandwidth not above maxBandwidth, or the lowest when none fits
func selectVariant(master *m3u8.MasterPlaylist, maxBandwidth int) *m3u8.Variant {
	var best, lowest *m3u8.Variant
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		if lowest == nil || v.Bandwidth < lowest.Bandwidth {
			lowest = v
		}
		if maxBandwidth > 0 && int64(v.Bandwidth) > int64(maxBandwidth) {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	if best == nil {
		return lowest
	}
	return best
}

func (e *HLSEngine) fetchPlaylist(ctx context.Context, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	resp, err := e.get(ctx, u.String())
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse playlist %s: %v: %w", u, err, domain.ErrTransferFailed)
	}
	return playlist, listType, nil
}

// fetchSegment downloads one segment with retries. Segments already on disk are kept.
func (e *HLSEngine) fetchSegment(ctx context.Context, segmentURL, path string) error {
	if e.store.Exists(path) {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= e.config.SegmentRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = e.downloadSegment(ctx, segmentURL, path)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(lastErr, domain.ErrStorageWrite) {
			return lastErr
		}
		e.logger.Debug("Segment attempt failed",
			zap.String("url", segmentURL),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}
	return lastErr
}

func (e *HLSEngine) downloadSegment(ctx context.Context, segmentURL, path string) error {
	resp, err := e.get(ctx, segmentURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := e.store.WriteFile(path, resp.Body); err != nil {
		if errors.Is(err, domain.ErrStorageWrite) {
			return err
		}
		return fmt.Errorf("failed to read segment %s: %v: %w", segmentURL, err, domain.ErrTransferFailed)
	}
	return nil
}

func (e *HLSEngine) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %v: %w", err, domain.ErrTransferFailed)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("GET %s: %v: %w", rawURL, err, domain.ErrTransferFailed)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %d: %w", rawURL, resp.StatusCode, domain.ErrTransferFailed)
	}
	return resp, nil
}

// writeLocalPlaylist writes a VOD playlist referencing the downloaded segment files
func (e *HLSEngine) writeLocalPlaylist(handle domain.TaskHandle, segments []segmentRef) (string, error) {
	playlist, err := m3u8.NewMediaPlaylist(0, uint(len(segments)))
	if err != nil {
		return "", fmt.Errorf("failed to create playlist: %w", err)
	}
	for i, seg := range segments {
		if err := playlist.Append(SegmentName(i), seg.duration, seg.title); err != nil {
			return "", fmt.Errorf("failed to append segment %d: %w", i, err)
		}
	}
	playlist.MediaType = m3u8.VOD
	playlist.Close()

	path := e.store.PlaylistPath(handle)
	if _, err := e.store.WriteFile(path, bytes.NewReader(playlist.Encode().Bytes())); err != nil {
		return "", err
	}
	return path, nil
}

func resolveReference(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("invalid uri %q: %v: %w", ref, err, domain.ErrTransferFailed)
	}
	return base.ResolveReference(u), nil
}
