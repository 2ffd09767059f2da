package gallery

import (
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"portfolioproxy/pkg/types"
)

// AnnotatedImage carries the sort keys of one gallery image
type AnnotatedImage struct {
	Entry       types.FolderEntry
	Order       float64
	Sequence    float64
	Modified    float64
	IsZero      bool
	Orientation types.Orientation
	Project     string
}

// Annotate computes sort keys for every image in entries, leaving out zero-order images
func Annotate(entries []types.FolderEntry, idx *OrderIndex) []AnnotatedImage {
	if idx == nil {
		idx = newOrderIndex()
	}
	out := make([]AnnotatedImage, 0, len(entries))
	for _, e := range entries {
		if !isImageEntry(e) {
			continue
		}
		lower := e.LowerName()
		if idx.IsZero(lower) {
			continue
		}
		order := idx.Order(lower)
		if !finite(order) {
			order = math.Inf(1)
		}
		out = append(out, AnnotatedImage{
			Entry:       e,
			Order:       order,
			Sequence:    seqFromName(e.Name),
			Modified:    safeTime(e.ClientModified),
			Orientation: idx.OrientationByName[lower],
			Project:     idx.ProjectByName[lower],
		})
	}
	return out
}

// SortImages orders images by curated order, filename sequence, capture time and
// finally natural filename order.
func SortImages(images []AnnotatedImage) {
	sort.SliceStable(images, func(i, j int) bool {
		return lessAnnotated(images[i], images[j])
	})
}

func lessAnnotated(a, b AnnotatedImage) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	if a.Modified != b.Modified {
		return a.Modified < b.Modified
	}
	return NaturalCompare(a.Entry.Name, b.Entry.Name) < 0
}

// Collators keep internal buffers and are not safe for concurrent use
var collators = sync.Pool{
	New: func() any {
		return collate.New(language.Und, collate.Numeric, collate.Loose)
	},
}

// NaturalCompare compares names case-insensitively with embedded digit runs
// ordered numerically, so "img2" sorts before "img10". Names that collate equal
// are ordered by their bytes so the result is total.
func NaturalCompare(a, b string) int {
	c := collators.Get().(*collate.Collator)
	r := c.CompareString(a, b)
	collators.Put(c)
	if r != 0 {
		return r
	}
	return strings.Compare(a, b)
}
