package gallery

import (
	"context"
	"fmt"
	"time"

	"portfolioproxy/internal/cache"
	"portfolioproxy/internal/dropbox"
	"portfolioproxy/internal/limiter"
	"portfolioproxy/pkg/types"
)

// ListingTTL is how long a complete folder listing is reused
const ListingTTL = 3 * time.Minute

// Remote is the subset of the storage backend the gallery needs
type Remote interface {
	Downloader
	ListFolder(ctx context.Context, path string) (*dropbox.ListFolderResult, error)
	ListFolderContinue(ctx context.Context, cursor string) (*dropbox.ListFolderResult, error)
}

// Lister returns complete, cached folder listings
type Lister struct {
	remote Remote
	rpc    *limiter.Limiter
	cache  *cache.TTL[[]types.FolderEntry]
}

func NewLister(remote Remote, rpc *limiter.Limiter, c *cache.TTL[[]types.FolderEntry]) *Lister {
	return &Lister{
		remote: remote,
		rpc:    rpc,
		cache:  c,
	}
}

// List returns every entry directly inside path, following pagination.
// The account root is "".
func (l *Lister) List(ctx context.Context, path string) ([]types.FolderEntry, error) {
	key := "lf:" + path
	if entries, ok := l.cache.Get(key); ok {
		return entries, nil
	}

	page, err := limiter.Run(ctx, l.rpc, func(ctx context.Context) (*dropbox.ListFolderResult, error) {
		return l.remote.ListFolder(ctx, path)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", path, err)
	}

	entries := append([]types.FolderEntry(nil), page.Entries...)
	for page.HasMore {
		cursor := page.Cursor
		page, err = limiter.Run(ctx, l.rpc, func(ctx context.Context) (*dropbox.ListFolderResult, error) {
			return l.remote.ListFolderContinue(ctx, cursor)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to continue listing %q: %w", path, err)
		}
		entries = append(entries, page.Entries...)
	}

	l.cache.Set(key, entries, ListingTTL)
	return entries, nil
}
