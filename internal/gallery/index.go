package gallery

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portfolioproxy/internal/cache"
	"portfolioproxy/internal/jsonfix"
	"portfolioproxy/internal/limiter"
	"portfolioproxy/internal/logging"
	"portfolioproxy/internal/metrics"
	"portfolioproxy/pkg/types"
)

// OrderIndexTTL bounds how long an index survives even when no sidecar changes
const OrderIndexTTL = 30 * time.Minute

// OrderIndex is the curation state of one folder, keyed by lower-case image filename
type OrderIndex struct {
	OrderByName       map[string]float64
	ZeroNames         map[string]struct{}
	OrientationByName map[string]types.Orientation
	ProjectByName     map[string]string
}

func newOrderIndex() *OrderIndex {
	return &OrderIndex{
		OrderByName:       make(map[string]float64),
		ZeroNames:         make(map[string]struct{}),
		OrientationByName: make(map[string]types.Orientation),
		ProjectByName:     make(map[string]string),
	}
}

// Order returns the curated order of name, +Inf when none was assigned
func (idx *OrderIndex) Order(name string) float64 {
	if o, ok := idx.OrderByName[strings.ToLower(name)]; ok {
		return o
	}
	return math.Inf(1)
}

// IsZero reports whether name is flagged as the folder's cover image
func (idx *OrderIndex) IsZero(name string) bool {
	_, ok := idx.ZeroNames[strings.ToLower(name)]
	return ok
}

// SortedZeroNames returns the zero set in a stable order
func (idx *OrderIndex) SortedZeroNames() []string {
	names := make([]string, 0, len(idx.ZeroNames))
	for n := range idx.ZeroNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (idx *OrderIndex) assign(name string, s *sidecar) {
	idx.OrderByName[name] = s.order
	if s.orientation != types.OrientationNone {
		idx.OrientationByName[name] = s.orientation
	}
	if s.project != "" {
		idx.ProjectByName[name] = s.project
	}
	if s.order == 0 {
		idx.ZeroNames[name] = struct{}{}
	}
}

// Downloader fetches raw file content
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Indexer builds and caches OrderIndex values from a folder's sidecar files
type Indexer struct {
	remote  Downloader
	content *limiter.Limiter
	cache   *cache.TTL[*OrderIndex]
}

func NewIndexer(remote Downloader, content *limiter.Limiter, c *cache.TTL[*OrderIndex]) *Indexer {
	return &Indexer{
		remote:  remote,
		content: content,
		cache:   c,
	}
}

// Fingerprint versions a folder's sidecar set: the newest sidecar modification
// time in milliseconds and the sidecar count. Image-only changes keep it stable.
func Fingerprint(entries []types.FolderEntry) string {
	var maxT int64
	count := 0
	for _, e := range entries {
		if !isSidecarEntry(e) {
			continue
		}
		count++
		ts := e.ClientModified
		if ts == "" {
			ts = e.ServerModified
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil && t.UnixMilli() > maxT {
			maxT = t.UnixMilli()
		}
	}
	return fmt.Sprintf("%d:%d", maxT, count)
}

func indexKey(folderPath string, entries []types.FolderEntry) string {
	return "ordidx:" + strings.ToLower(folderPath) + ":" + Fingerprint(entries)
}

// Index returns the order index of the folder at folderPath, building it from
// entries when the cached version is missing or its fingerprint changed.
func (ix *Indexer) Index(ctx context.Context, folderPath string, entries []types.FolderEntry) (*OrderIndex, error) {
	key := indexKey(folderPath, entries)
	if idx, ok := ix.cache.Get(key); ok {
		return idx, nil
	}

	idx, err := ix.Build(ctx, entries)
	if err != nil {
		return nil, err
	}
	ix.cache.Set(key, idx, OrderIndexTTL)
	return idx, nil
}

type sidecar struct {
	name        string
	order       float64
	orientation types.Orientation
	project     string
	linked      string
}

// Build downloads and parses every sidecar in entries and resolves each to its
// target images. Sidecars that cannot be fetched or parsed are skipped.
func (ix *Indexer) Build(ctx context.Context, entries []types.FolderEntry) (*OrderIndex, error) {
	var files []types.FolderEntry
	byName := make(map[string]types.FolderEntry)
	byBase := make(map[string][]types.FolderEntry)
	for _, e := range entries {
		switch {
		case isSidecarEntry(e):
			files = append(files, e)
		case isImageEntry(e):
			lower := e.LowerName()
			byName[lower] = e
			byBase[base(lower)] = append(byBase[base(lower)], e)
		}
	}

	parsed := make([]*sidecar, len(files))
	var g errgroup.Group
	for i, f := range files {
		g.Go(func() error {
			err := ix.content.Do(ctx, func(ctx context.Context) error {
				s, err := ix.fetchSidecar(ctx, f)
				if err != nil {
					return err
				}
				parsed[i] = s
				return nil
			})
			if err != nil {
				metrics.RecordSidecarFailure()
				logging.WithContext(ctx).Warn("Skipping sidecar",
					zap.String("sidecar", f.Name),
					zap.String("path", f.Ref()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// apply in name order so overlapping fan-outs resolve the same way every time
	sort.SliceStable(parsed, func(i, j int) bool {
		return sidecarName(parsed[i]) < sidecarName(parsed[j])
	})

	idx := newOrderIndex()
	for _, s := range parsed {
		if s == nil {
			continue
		}
		for _, name := range resolveTargets(s, byName, byBase) {
			idx.assign(name, s)
		}
	}
	return idx, nil
}

func sidecarName(s *sidecar) string {
	if s == nil {
		return ""
	}
	return s.name
}

func (ix *Indexer) fetchSidecar(ctx context.Context, f types.FolderEntry) (*sidecar, error) {
	raw, err := ix.remote.Download(ctx, f.Ref())
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}

	res := jsonfix.Parse(raw)
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Stage != jsonfix.StageStrict {
		logging.WithContext(ctx).Debug("Sidecar repaired",
			zap.String("sidecar", f.Name),
			zap.String("stage", string(res.Stage)),
		)
	}

	meta := types.ParseMetadata(res.Value)
	return &sidecar{
		name:        f.LowerName(),
		order:       toOrderNum(meta.OrderFlag),
		orientation: normalizeOrientation(meta.Orientation),
		project:     meta.Project,
		linked:      filenameFromLinkedImage(meta.LinkedImage),
	}, nil
}

// resolveTargets picks the images a sidecar describes, trying in turn: the
// exact linked filename, an image named by the sidecar's stem ("a.jpg.json"),
// images sharing the sidecar's basename, images sharing the linked basename.
func resolveTargets(s *sidecar, byName map[string]types.FolderEntry, byBase map[string][]types.FolderEntry) []string {
	if s.linked != "" {
		if _, ok := byName[s.linked]; ok {
			return []string{s.linked}
		}
	}

	stem := base(s.name)
	if _, ok := byName[stem]; ok {
		return []string{stem}
	}

	if names := lowerNames(byBase[stem]); len(names) > 0 {
		return names
	}

	if s.linked != "" {
		return lowerNames(byBase[base(s.linked)])
	}
	return nil
}

func lowerNames(entries []types.FolderEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.LowerName())
	}
	return names
}
