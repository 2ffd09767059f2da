package gallery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"portfolioproxy/internal/logging"
	"portfolioproxy/internal/metrics"
	"portfolioproxy/internal/scheduler"
	"portfolioproxy/pkg/types"
)

const (
	CardFreshTTL   = 30 * time.Minute
	CardStaleGrace = 4 * time.Hour
)

// CardBuilder produces project cards. Portfolio is the production implementation.
type CardBuilder interface {
	// BuildCard returns a provisional card and the folder listing it was built from
	BuildCard(ctx context.Context, folder types.FolderEntry) (*types.ProjectCard, []types.FolderEntry, error)
	// CoverImage picks the image that should represent the folder
	CoverImage(ctx context.Context, folder types.FolderEntry, entries []types.FolderEntry) (types.FolderEntry, bool, error)
	// ThumbnailURL renders the card thumbnail reference for a remote path
	ThumbnailURL(path string) string
}

type cardRecord struct {
	card       *types.ProjectCard
	freshUntil time.Time
	staleUntil time.Time
}

// CardCache serves project cards with stale-while-revalidate semantics:
// fresh cards are returned as-is, stale ones are returned while a single
// background rebuild runs, and expired or missing ones are rebuilt inline.
type CardCache struct {
	builder CardBuilder
	runner  *scheduler.Runner
	fresh   time.Duration
	grace   time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	records map[string]*cardRecord
}

func NewCardCache(builder CardBuilder, runner *scheduler.Runner) *CardCache {
	return &CardCache{
		builder: builder,
		runner:  runner,
		fresh:   CardFreshTTL,
		grace:   CardStaleGrace,
		now:     time.Now,
		records: make(map[string]*cardRecord),
	}
}

func cardKey(folder types.FolderEntry) string {
	return "card:" + folder.Ref()
}

// Get returns a copy of the folder's card, or nil when the folder has no card
func (c *CardCache) Get(ctx context.Context, folder types.FolderEntry) *types.ProjectCard {
	key := cardKey(folder)
	now := c.now()

	c.mu.RLock()
	rec, ok := c.records[key]
	c.mu.RUnlock()

	if ok && now.Before(rec.freshUntil) {
		return copyCard(rec.card)
	}
	if ok && now.Before(rec.staleUntil) {
		c.revalidate(key, folder)
		return copyCard(rec.card)
	}

	// a disconnecting client must not leave the folder cached as absent
	card, entries := c.rebuild(context.WithoutCancel(ctx), key, folder, "sync")
	if entries != nil {
		c.runner.TryGo(key, func(ctx context.Context) {
			c.refine(ctx, key, folder, entries)
		})
	}
	return copyCard(card)
}

// revalidate starts a background rebuild unless one is already running for key
func (c *CardCache) revalidate(key string, folder types.FolderEntry) {
	c.runner.TryGo(key, func(ctx context.Context) {
		if _, entries := c.rebuild(ctx, key, folder, "background"); entries != nil {
			c.refine(ctx, key, folder, entries)
		}
	})
}

// rebuild builds and stores a provisional card. On failure the previous card,
// if any, is kept and given a new fresh window, and no listing is returned.
func (c *CardCache) rebuild(ctx context.Context, key string, folder types.FolderEntry, mode string) (*types.ProjectCard, []types.FolderEntry) {
	card, entries, err := c.builder.BuildCard(ctx, folder)
	metrics.RecordCardBuild(mode, err == nil)
	if err != nil {
		logging.WithContext(ctx).Error("Card build failed",
			zap.String("folder", folder.Name),
			zap.String("mode", mode),
			zap.Error(err),
		)
		card, entries = nil, nil
		c.mu.RLock()
		if prev, ok := c.records[key]; ok {
			card = prev.card
		}
		c.mu.RUnlock()
	}

	now := c.now()
	c.mu.Lock()
	c.records[key] = &cardRecord{
		card:       card,
		freshUntil: now.Add(c.fresh),
		staleUntil: now.Add(c.fresh + c.grace),
	}
	c.mu.Unlock()
	return card, entries
}

// refine swaps in the thumbnail of the folder's cover image. The freshness window is left unchanged.
func (c *CardCache) refine(ctx context.Context, key string, folder types.FolderEntry, entries []types.FolderEntry) {
	cover, ok, err := c.builder.CoverImage(ctx, folder, entries)
	metrics.RecordCardBuild("refine", err == nil)
	if err != nil {
		logging.WithContext(ctx).Warn("Card refine failed",
			zap.String("folder", folder.Name),
			zap.Error(err),
		)
		return
	}
	if !ok {
		return
	}

	thumb := c.builder.ThumbnailURL(cover.Ref())

	c.mu.Lock()
	defer c.mu.Unlock()
	rec, exists := c.records[key]
	if !exists || rec.card == nil || rec.card.Thumbnail == thumb {
		return
	}
	patched := copyCard(rec.card)
	patched.Thumbnail = thumb
	patched.ThumbnailPath = cover.Ref()
	c.records[key] = &cardRecord{
		card:       patched,
		freshUntil: rec.freshUntil,
		staleUntil: rec.staleUntil,
	}
}

// Len returns the number of folders with a cached record
func (c *CardCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func copyCard(card *types.ProjectCard) *types.ProjectCard {
	if card == nil {
		return nil
	}
	cp := *card
	return &cp
}
