package generation

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pawtrait/pawtrait-api/internal/pkg/imaging"
	"github.com/pawtrait/pawtrait-api/internal/pkg/storage"
)

const (
	maxResultBytes  = 25 << 20
	downloadTimeout = 60 * time.Second
	resultPrefix    = "generated/"
)

// Asset is a materialized result in durable storage.
type Asset struct {
	Key string
	URL string
}

// Materializer copies provider results, which expire, into durable storage.
type Materializer struct {
	storage   storage.Storage
	processor *imaging.Processor
	http      *http.Client
	now       func() time.Time
}

func NewMaterializer(store storage.Storage, processor *imaging.Processor, client *http.Client) *Materializer {
	if client == nil {
		client = &http.Client{Timeout: downloadTimeout}
	}
	if processor == nil {
		processor = imaging.NewProcessor(imaging.DefaultConfig())
	}
	return &Materializer{storage: store, processor: processor, http: client, now: time.Now}
}

// Materialize downloads remoteURL, checks it is an image, stores it as PNG
// and returns the durable location. Every failure is returned.
func (m *Materializer) Materialize(ctx context.Context, remoteURL string) (*Asset, error) {
	data, err := m.download(ctx, remoteURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaterialize, err)
	}

	if _, err := storage.DetectMimeType(data, storage.ImageMimeTypes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaterialize, err)
	}

	img, err := m.processor.NormalizePNG(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaterialize, err)
	}

	key := m.newKey()
	if err := m.storage.Put(ctx, key, bytes.NewReader(img.PNG), int64(len(img.PNG)), "image/png"); err != nil {
		return nil, fmt.Errorf("%w: upload: %v", ErrMaterialize, err)
	}

	return &Asset{Key: key, URL: m.storage.URL(key)}, nil
}

// Discard removes an asset that lost the race to record a result.
func (m *Materializer) Discard(ctx context.Context, asset *Asset) {
	if asset == nil || asset.Key == "" {
		return
	}
	if err := m.storage.Delete(ctx, asset.Key); err != nil {
		log.Warn().Err(err).Str("key", asset.Key).Msg("failed to delete orphaned result image")
	}
}

func (m *Materializer) download(ctx context.Context, remoteURL string) ([]byte, error) {
	if !strings.HasPrefix(remoteURL, "http://") && !strings.HasPrefix(remoteURL, "https://") {
		return nil, fmt.Errorf("unsupported result url %q", remoteURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download: status=%d", resp.StatusCode)
	}
	if resp.ContentLength > maxResultBytes {
		return nil, storage.ErrFileTooLarge
	}

	return storage.ReadLimited(resp.Body, maxResultBytes)
}

// newKey returns generated/<unix-millis>-<6 random chars>.png.
func (m *Materializer) newKey() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s%d-%s.png", resultPrefix, m.now().UnixMilli(), suffix)
}
