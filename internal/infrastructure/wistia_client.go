package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/yourusername/wistia-offline-go/internal/domain"
)

const maxPayloadSize = 1 << 20

var errNotFound = errors.New("not found")

// WistiaClient talks to the Wistia Data API and resolves media to HLS manifests.
// It implements domain.ManifestResolver.
type WistiaClient struct {
	config     domain.WistiaConfig
	httpClient *http.Client
	cache      *lru.Cache[string, domain.ManifestRef]
	logger     *zap.Logger
}

// NewWistiaClient creates a new Wistia client
func NewWistiaClient(config domain.WistiaConfig, httpClient *http.Client, logger *zap.Logger) (*WistiaClient, error) {
	if config.EmbedBaseURL == "" {
		return nil, fmt.Errorf("embed base url must be specified")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := config.ResolverCacheSize
	if size < 1 {
		size = 1
	}
	cache, err := lru.New[string, domain.ManifestRef](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}

	config.APIBaseURL = strings.TrimRight(config.APIBaseURL, "/")
	config.EmbedBaseURL = strings.TrimRight(config.EmbedBaseURL, "/")

	return &WistiaClient{
		config:     config,
		httpClient: httpClient,
		cache:      cache,
		logger:     logger,
	}, nil
}

// ManifestURL returns the HLS manifest location of a media
func (c *WistiaClient) ManifestURL(ref domain.MediaRef) string {
	return c.config.EmbedBaseURL + "/embed/medias/" + url.PathEscape(ref.HashedID) + ".m3u8"
}

// Resolve maps a hashed ID to its HLS manifest. With an API token the media must
// exist and be ready; without one the manifest itself is probed.
func (c *WistiaClient) Resolve(ctx context.Context, identifier string) (domain.ManifestRef, error) {
	ref, err := domain.NewMediaRef(identifier)
	if err != nil {
		return domain.ManifestRef{}, err
	}
	if cached, ok := c.cache.Get(ref.HashedID); ok {
		return cached, nil
	}

	manifestURL := c.ManifestURL(ref)
	if c.config.APIToken != "" {
		media, err := c.Media(ctx, ref)
		if errors.Is(err, errNotFound) {
			return domain.ManifestRef{}, fmt.Errorf("media %s does not exist: %w", ref, domain.ErrUnresolvableIdentifier)
		}
		if err != nil {
			return domain.ManifestRef{}, err
		}
		if !media.IsReady() {
			return domain.ManifestRef{}, fmt.Errorf("media %s is %s: %w", ref, media.Status, domain.ErrUnresolvableIdentifier)
		}
	} else {
		if err := c.probe(ctx, manifestURL); err != nil {
			if errors.Is(err, errNotFound) {
				return domain.ManifestRef{}, fmt.Errorf("no manifest for %s: %w", ref, domain.ErrUnresolvableIdentifier)
			}
			return domain.ManifestRef{}, err
		}
	}

	resolved := domain.ManifestRef{Ref: ref, ManifestURL: manifestURL}
	c.cache.Add(ref.HashedID, resolved)
	c.logger.Debug("Resolved media", zap.String("hashed_id", ref.HashedID), zap.String("manifest_url", manifestURL))
	return resolved, nil
}

// Media fetches media metadata from the Data API
func (c *WistiaClient) Media(ctx context.Context, ref domain.MediaRef) (*domain.Media, error) {
	body, err := c.getAPI(ctx, "/v1/medias/"+url.PathEscape(ref.HashedID)+".json")
	if err != nil {
		return nil, err
	}
	return domain.ParseMedia(body)
}

// Account fetches account metadata from the Data API
func (c *WistiaClient) Account(ctx context.Context) (*domain.Account, error) {
	if c.config.APIToken == "" {
		return nil, fmt.Errorf("wistia api token not configured")
	}
	body, err := c.getAPI(ctx, "/v1/account.json")
	if err != nil {
		return nil, err
	}
	return domain.ParseAccount(body)
}

func (c *WistiaClient) getAPI(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIBaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w: %w", path, domain.ErrDataAPI, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("GET %s: %w", path, errNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("GET %s: %w: unexpected status %d", path, domain.ErrDataAPI, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return body, nil
}

func (c *WistiaClient) probe(ctx context.Context, manifestURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w: %w", manifestURL, domain.ErrDataAPI, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayloadSize))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("GET %s: %w: unexpected status %d", manifestURL, domain.ErrDataAPI, resp.StatusCode)
	}
	return nil
}
