// Package thumbs serves storage-backend thumbnails in the best image format a client accepts.
package thumbs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portfolioproxy/internal/limiter"
	"portfolioproxy/internal/logging"
	"portfolioproxy/internal/metrics"
)

// CacheTTL keeps rendered thumbnails inside the backend's temporary-link validity window
const CacheTTL = 3*time.Hour + 30*time.Minute

// ErrUnavailable is returned once every thumbnail size has failed
var ErrUnavailable = errors.New("thumbnail unavailable")

// Remote renders baseline thumbnails and direct links
type Remote interface {
	Thumbnail(ctx context.Context, path, size string) ([]byte, error)
	TemporaryLink(ctx context.Context, path string) (string, error)
}

// Store caches encoded thumbnails with a per-entry TTL and a one-byte format tag
type Store interface {
	Get(key string) ([]byte, byte, bool, error)
	Set(key string, data []byte, format byte, ttl time.Duration) error
}

// Proxy fetches, transcodes and caches thumbnails
type Proxy struct {
	remote     Remote
	content    *limiter.Limiter
	store      Store
	transcoder Transcoder
	ttl        time.Duration
}

// NewProxy creates a proxy. A nil transcoder serves every request as JPEG.
func NewProxy(remote Remote, content *limiter.Limiter, store Store, transcoder Transcoder) *Proxy {
	return &Proxy{
		remote:     remote,
		content:    content,
		store:      store,
		transcoder: transcoder,
		ttl:        CacheTTL,
	}
}

// Fetch returns thumbnail bytes for path at size, encoded as close to want as
// possible. The returned format is what the bytes actually are.
func (p *Proxy) Fetch(ctx context.Context, path, size string, want Format) ([]byte, Format, error) {
	key := fmt.Sprintf("%s:%s:%s", want, size, path)
	if data, tag, ok := p.cached(ctx, key); ok {
		return data, Format(tag), nil
	}

	base, err := p.baseWithFallback(ctx, path, size)
	if err != nil {
		return nil, 0, err
	}

	data, got := p.transcode(ctx, base, want)
	p.put(ctx, key, data, got)
	return data, got, nil
}

// Warm renders path at size in every format
func (p *Proxy) Warm(ctx context.Context, path, size string) error {
	var errs []error
	for _, f := range Formats {
		if _, _, err := p.Fetch(ctx, path, size, f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}
	return errors.Join(errs...)
}

// TemporaryLink returns a direct download link for path
func (p *Proxy) TemporaryLink(ctx context.Context, path string) (string, error) {
	return limiter.Run(ctx, p.content, func(ctx context.Context) (string, error) {
		return p.remote.TemporaryLink(ctx, path)
	})
}

// baseWithFallback tries size, then each fallback size not yet tried
func (p *Proxy) baseWithFallback(ctx context.Context, path, size string) ([]byte, error) {
	data, err := p.base(ctx, path, size)
	if err == nil {
		return data, nil
	}
	errs := []error{fmt.Errorf("%s: %w", size, err)}

	tried := map[string]bool{size: true}
	for _, s := range FallbackSizes {
		if tried[s] {
			continue
		}
		tried[s] = true
		data, err := p.base(ctx, path, s)
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s, err))
	}

	joined := errors.Join(errs...)
	logging.WithContext(ctx).Warn("All thumbnail sizes failed",
		zap.String("path", path),
		zap.Error(joined),
	)
	return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, path, joined)
}

// base returns the cached or freshly fetched baseline JPEG for path at size
func (p *Proxy) base(ctx context.Context, path, size string) ([]byte, error) {
	key := "base:" + size + ":" + path
	if data, _, ok := p.cached(ctx, key); ok {
		return data, nil
	}

	data, err := limiter.Run(ctx, p.content, func(ctx context.Context) ([]byte, error) {
		return p.remote.Thumbnail(ctx, path, size)
	})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty thumbnail")
	}

	p.put(ctx, key, data, FormatJPEG)
	return data, nil
}

func (p *Proxy) transcode(ctx context.Context, base []byte, want Format) ([]byte, Format) {
	if want == FormatJPEG || p.transcoder == nil {
		return base, FormatJPEG
	}
	out, err := p.transcoder.Transcode(base, want)
	metrics.RecordTranscode(want.String(), err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("Transcode failed, serving JPEG",
			zap.String("format", want.String()),
			zap.Error(err),
		)
		return base, FormatJPEG
	}
	return out, want
}

func (p *Proxy) cached(ctx context.Context, key string) ([]byte, byte, bool) {
	data, tag, ok, err := p.store.Get(key)
	if err != nil {
		logging.WithContext(ctx).Warn("Thumbnail cache read failed", zap.String("key", key), zap.Error(err))
		return nil, 0, false
	}
	if ok {
		metrics.RecordCacheHit("thumbnail")
	} else {
		metrics.RecordCacheMiss("thumbnail")
	}
	return data, tag, ok
}

func (p *Proxy) put(ctx context.Context, key string, data []byte, f Format) {
	if err := p.store.Set(key, data, byte(f), p.ttl); err != nil {
		logging.WithContext(ctx).Warn("Thumbnail cache write failed", zap.String("key", key), zap.Error(err))
	}
}
