package gallery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"portfolioproxy/internal/cache"
	"portfolioproxy/internal/jsonfix"
	"portfolioproxy/internal/limiter"
	"portfolioproxy/internal/logging"
	"portfolioproxy/internal/metrics"
	"portfolioproxy/internal/scheduler"
	"portfolioproxy/internal/thumbs"
	"portfolioproxy/pkg/types"
)

const (
	DefaultRootFolder = "Website Photos"

	// MetadataTTL and ResolverTTL bound project metadata and slug-to-folder lookups
	MetadataTTL = 10 * time.Minute
	ResolverTTL = 10 * time.Minute
)

var (
	ErrRootNotFound = errors.New("root folder not found")
	ErrNoMatch      = errors.New("no matching folder")
)

// Options configures a Portfolio
type Options struct {
	RootFolder string
	APIPrefix  string
	Sweep      time.Duration
}

// Portfolio composes listing, indexing and card caching into the operations the API serves
type Portfolio struct {
	remote  Remote
	content *limiter.Limiter
	lister  *Lister
	indexer *Indexer
	cards   *CardCache

	rootName string
	prefix   string

	listings  *cache.TTL[[]types.FolderEntry]
	indexes   *cache.TTL[*OrderIndex]
	metadata  *cache.TTL[*types.Metadata]
	resolvers *cache.TTL[types.FolderEntry]
}

func New(remote Remote, rpc, content *limiter.Limiter, runner *scheduler.Runner, opts Options) *Portfolio {
	if opts.RootFolder == "" {
		opts.RootFolder = DefaultRootFolder
	}
	if opts.Sweep <= 0 {
		opts.Sweep = time.Minute
	}

	p := &Portfolio{
		remote:    remote,
		content:   content,
		rootName:  opts.RootFolder,
		prefix:    opts.APIPrefix,
		listings:  cache.New[[]types.FolderEntry]("listing", opts.Sweep),
		indexes:   cache.New[*OrderIndex]("order_index", opts.Sweep),
		metadata:  cache.New[*types.Metadata]("metadata", opts.Sweep),
		resolvers: cache.New[types.FolderEntry]("resolver", opts.Sweep),
	}
	p.lister = NewLister(remote, rpc, p.listings)
	p.indexer = NewIndexer(remote, content, p.indexes)
	p.cards = NewCardCache(p, runner)
	return p
}

// Close stops the cache sweepers
func (p *Portfolio) Close() {
	p.listings.Close()
	p.indexes.Close()
	p.metadata.Close()
	p.resolvers.Close()
}

func (p *Portfolio) Lister() *Lister       { return p.lister }
func (p *Portfolio) Indexer() *Indexer     { return p.indexer }
func (p *Portfolio) CardCache() *CardCache { return p.cards }

// Root finds the configured root folder at the top of the account
func (p *Portfolio) Root(ctx context.Context) (types.FolderEntry, error) {
	entries, err := p.lister.List(ctx, "")
	if err != nil {
		return types.FolderEntry{}, err
	}
	for _, e := range entries {
		if e.IsFolder() && e.Name == p.rootName {
			return e, nil
		}
	}
	return types.FolderEntry{}, fmt.Errorf("%w: %q", ErrRootNotFound, p.rootName)
}

func (p *Portfolio) childFolders(ctx context.Context) ([]types.FolderEntry, error) {
	root, err := p.Root(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := p.lister.List(ctx, root.Ref())
	if err != nil {
		return nil, err
	}
	var folders []types.FolderEntry
	for _, e := range entries {
		if e.IsFolder() {
			folders = append(folders, e)
		}
	}
	return folders, nil
}

// ProjectFolders returns the project folders under the root. Folders whose
// name contains "page" hold site pages rather than projects and are skipped.
func (p *Portfolio) ProjectFolders(ctx context.Context) ([]types.FolderEntry, error) {
	folders, err := p.childFolders(ctx)
	if err != nil {
		return nil, err
	}
	projects := folders[:0:0]
	for _, f := range folders {
		if !strings.Contains(f.LowerName(), "page") {
			projects = append(projects, f)
		}
	}
	return projects, nil
}

// Cards returns the card of every project folder sorted by metadata order and
// name. Folders without a card are left out.
func (p *Portfolio) Cards(ctx context.Context) ([]*types.ProjectCard, error) {
	folders, err := p.ProjectFolders(ctx)
	if err != nil {
		return nil, err
	}

	cards := make([]*types.ProjectCard, len(folders))
	var g errgroup.Group
	for i, f := range folders {
		g.Go(func() error {
			cards[i] = p.cards.Get(ctx, f)
			return nil
		})
	}
	g.Wait()

	valid := cards[:0]
	for _, c := range cards {
		if c != nil {
			valid = append(valid, c)
		}
	}
	SortCards(valid)
	return valid, nil
}

// SortCards orders cards by their metadata order, unordered last, then by name
func SortCards(cards []*types.ProjectCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		ao, bo := cardOrder(cards[i]), cardOrder(cards[j])
		if ao != bo {
			return ao < bo
		}
		return NaturalCompare(cards[i].Name, cards[j].Name) < 0
	})
}

func cardOrder(c *types.ProjectCard) float64 {
	if c.Metadata == nil {
		return toOrderNum("")
	}
	return toOrderNum(c.Metadata.OrderFlag)
}

// GalleryView is a sorted folder gallery plus the state it was derived from
type GalleryView struct {
	Entries []types.FolderEntry
	Index   *OrderIndex
	Images  []AnnotatedImage
}

// ImageNames returns the names of every image in the listing, in listing order
func (v *GalleryView) ImageNames() []string {
	var names []string
	for _, e := range v.Entries {
		if isImageEntry(e) {
			names = append(names, e.Name)
		}
	}
	return names
}

// Gallery lists the folder at path and returns its images in display order
func (p *Portfolio) Gallery(ctx context.Context, path string) (*GalleryView, error) {
	entries, err := p.lister.List(ctx, path)
	if err != nil {
		return nil, err
	}
	idx, err := p.indexer.Index(ctx, path, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to index %q: %w", path, err)
	}
	images := Annotate(entries, idx)
	SortImages(images)
	return &GalleryView{Entries: entries, Index: idx, Images: images}, nil
}

// Images renders annotated images as API objects, attaching folder when non-nil
func (p *Portfolio) Images(annotated []AnnotatedImage, folder *types.FolderRef) []types.Image {
	out := make([]types.Image, 0, len(annotated))
	for _, a := range annotated {
		out = append(out, p.image(a, folder))
	}
	return out
}

func (p *Portfolio) image(a AnnotatedImage, folder *types.FolderRef) types.Image {
	ref := a.Entry.DisplayRef()
	img := types.Image{
		URL:            thumbs.URL(p.prefix, ref, thumbs.SizeFull),
		Display:        thumbs.URL(p.prefix, ref, thumbs.SizeDisplay),
		Thumb:          thumbs.URL(p.prefix, ref, thumbs.SizeThumb),
		Name:           a.Entry.Name,
		Path:           ref,
		Size:           a.Entry.Size,
		ClientModified: a.Entry.ClientModified,
		IsZero:         a.IsZero,
		Orientation:    a.Orientation,
		Folder:         folder,
	}
	if finite(a.Order) {
		o := a.Order
		img.Order = &o
	}
	if a.Project != "" {
		proj := a.Project
		img.Project = &proj
	}
	return img
}

// FolderRef identifies folder in API responses
func FolderRef(folder types.FolderEntry) types.FolderRef {
	return types.FolderRef{
		ID:   folder.ID,
		Name: folder.Name,
		Path: folder.DisplayRef(),
	}
}

// ProjectMetadata fetches and parses the project-level metadata file among
// entries. A folder without one yields nil and no error.
func (p *Portfolio) ProjectMetadata(ctx context.Context, entries []types.FolderEntry) (*types.Metadata, error) {
	var file *types.FolderEntry
	for i := range entries {
		if entries[i].IsFile() && entries[i].Name == MetadataFile {
			file = &entries[i]
			break
		}
	}
	if file == nil {
		return nil, nil
	}

	stamp := file.ClientModified
	if stamp == "" {
		stamp = file.ServerModified
	}
	key := "meta:" + file.Ref() + ":" + stamp
	if meta, ok := p.metadata.Get(key); ok {
		return meta, nil
	}

	raw, err := limiter.Run(ctx, p.content, func(ctx context.Context) ([]byte, error) {
		return p.remote.Download(ctx, file.Ref())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", file.Ref(), err)
	}
	res := jsonfix.Parse(raw)
	if res.Err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", file.Ref(), res.Err)
	}

	meta := types.ParseMetadata(res.Value)
	p.metadata.Set(key, meta, MetadataTTL)
	return meta, nil
}

// BuildCard builds a provisional card from the folder's metadata and its first listed image
func (p *Portfolio) BuildCard(ctx context.Context, folder types.FolderEntry) (*types.ProjectCard, []types.FolderEntry, error) {
	entries, err := p.lister.List(ctx, folder.Ref())
	if err != nil {
		return nil, nil, err
	}

	meta, err := p.ProjectMetadata(ctx, entries)
	if err != nil {
		logging.WithContext(ctx).Warn("Project metadata unavailable",
			zap.String("folder", folder.Name),
			zap.Error(err),
		)
		meta = nil
	}

	card := &types.ProjectCard{
		ID:       folder.ID,
		Name:     folder.Name,
		Path:     folder.DisplayRef(),
		Metadata: meta,
	}
	for _, e := range entries {
		if isImageEntry(e) {
			card.Thumbnail = p.ThumbnailURL(e.Ref())
			card.ThumbnailPath = e.Ref()
			break
		}
	}
	if meta != nil {
		if o := toOrderNum(meta.OrderFlag); finite(o) {
			order := int(o)
			card.Order = &order
		}
	}
	return card, entries, nil
}

// CoverImage prefers a zero-order image, else the first image in gallery order
func (p *Portfolio) CoverImage(ctx context.Context, folder types.FolderEntry, entries []types.FolderEntry) (types.FolderEntry, bool, error) {
	idx, err := p.indexer.Index(ctx, folder.Ref(), entries)
	if err != nil {
		return types.FolderEntry{}, false, err
	}
	for _, e := range entries {
		if isImageEntry(e) && idx.IsZero(e.LowerName()) {
			return e, true, nil
		}
	}
	images := Annotate(entries, idx)
	if len(images) == 0 {
		return types.FolderEntry{}, false, nil
	}
	SortImages(images)
	return images[0].Entry, true, nil
}

// ThumbnailURL returns the card-sized thumbnail reference for path
func (p *Portfolio) ThumbnailURL(path string) string {
	return thumbs.URL(p.prefix, path, thumbs.DefaultSize)
}

var (
	dashes     = regexp.MustCompile(`-+`)
	separators = regexp.MustCompile(`[-_]+`)
	spaces     = regexp.MustCompile(`\s+`)
)

// NormalizeCategory folds a category slug or label for comparison: "Street-Signs" -> "street signs"
func NormalizeCategory(s string) string {
	return strings.TrimSpace(cases.Fold().String(dashes.ReplaceAllString(strings.TrimSpace(s), " ")))
}

// NormalizeProject folds a project slug, name or title for comparison: "harbour_at-dusk" -> "harbour at dusk"
func NormalizeProject(s string) string {
	s = separators.ReplaceAllString(cases.Fold().String(s), " ")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// FindByCategory returns the first folder whose metadata category matches slug
func (p *Portfolio) FindByCategory(ctx context.Context, slug string) (types.FolderEntry, error) {
	want := NormalizeCategory(slug)
	if want == "" {
		return types.FolderEntry{}, fmt.Errorf("%w: empty category", ErrNoMatch)
	}
	key := "catmap:" + want
	if f, ok := p.resolvers.Get(key); ok {
		return f, nil
	}

	f, err := p.scanMetadata(ctx, func(_ types.FolderEntry, meta *types.Metadata) bool {
		return NormalizeCategory(meta.Category) == want
	})
	if err != nil {
		return types.FolderEntry{}, fmt.Errorf("category %q: %w", slug, err)
	}
	p.resolvers.Set(key, f, ResolverTTL)
	return f, nil
}

// FindByProject matches name against folder names first and metadata titles second
func (p *Portfolio) FindByProject(ctx context.Context, name string) (types.FolderEntry, error) {
	want := NormalizeProject(name)
	if want == "" {
		return types.FolderEntry{}, fmt.Errorf("%w: empty project", ErrNoMatch)
	}
	key := "projmap:" + want
	if f, ok := p.resolvers.Get(key); ok {
		return f, nil
	}

	folders, err := p.childFolders(ctx)
	if err != nil {
		return types.FolderEntry{}, err
	}
	for _, f := range folders {
		if NormalizeProject(f.Name) == want {
			p.resolvers.Set(key, f, ResolverTTL)
			return f, nil
		}
	}

	f, err := p.scanMetadata(ctx, func(_ types.FolderEntry, meta *types.Metadata) bool {
		title := NormalizeProject(meta.Title)
		return title != "" && title == want
	})
	if err != nil {
		return types.FolderEntry{}, fmt.Errorf("project %q: %w", name, err)
	}
	p.resolvers.Set(key, f, ResolverTTL)
	return f, nil
}

// scanMetadata loads the metadata of every child folder concurrently and
// returns the first folder, in listing order, whose metadata satisfies match.
func (p *Portfolio) scanMetadata(ctx context.Context, match func(types.FolderEntry, *types.Metadata) bool) (types.FolderEntry, error) {
	folders, err := p.childFolders(ctx)
	if err != nil {
		return types.FolderEntry{}, err
	}

	metas := make([]*types.Metadata, len(folders))
	var g errgroup.Group
	for i, f := range folders {
		g.Go(func() error {
			entries, err := p.lister.List(ctx, f.Ref())
			if err == nil {
				metas[i], err = p.ProjectMetadata(ctx, entries)
			}
			if err != nil {
				logging.WithContext(ctx).Warn("Folder metadata scan failed",
					zap.String("folder", f.Name),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()

	for i, f := range folders {
		if metas[i] != nil && match(f, metas[i]) {
			return f, nil
		}
	}
	return types.FolderEntry{}, ErrNoMatch
}

// Warmer pre-renders a thumbnail in every served format
type Warmer interface {
	Warm(ctx context.Context, path, size string) error
}

// Prewarm renders the thumbnails of the top cards so first visitors hit a warm cache
func (p *Portfolio) Prewarm(ctx context.Context, w Warmer, top int) error {
	start := time.Now()
	defer func() { metrics.RecordPrewarm(time.Since(start)) }()

	cards, err := p.Cards(ctx)
	if err != nil {
		return fmt.Errorf("prewarm: %w", err)
	}
	if top > 0 && len(cards) > top {
		cards = cards[:top]
	}

	var g errgroup.Group
	for _, c := range cards {
		if c.ThumbnailPath == "" {
			continue
		}
		g.Go(func() error {
			if err := w.Warm(ctx, c.ThumbnailPath, thumbs.DefaultSize); err != nil {
				logging.WithContext(ctx).Warn("Prewarm failed",
					zap.String("folder", c.Name),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()

	logging.WithContext(ctx).Info("Prewarmed home thumbnails",
		zap.Int("cards", len(cards)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
