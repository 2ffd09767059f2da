package gallery

import (
	"strings"
	"testing"

	"portfolioproxy/pkg/types"
)

func TestNaturalCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"img2.jpg", "img10.jpg", -1},
		{"img10.jpg", "img2.jpg", 1},
		{"IMG2.jpg", "img10.jpg", -1},
		{"a.jpg", "b.jpg", -1},
		{"same.jpg", "same.jpg", 0},
	}

	for _, tt := range tests {
		got := NaturalCompare(tt.a, tt.b)
		if sign(got) != tt.want {
			t.Errorf("NaturalCompare(%q, %q): expected %d, got %d", tt.a, tt.b, tt.want, got)
		}
	}
}

func TestNaturalCompare_TotalOnCaseVariants(t *testing.T) {
	if NaturalCompare("A.jpg", "a.jpg") == 0 {
		t.Error("Expected names differing only in case to be ordered")
	}
	if sign(NaturalCompare("A.jpg", "a.jpg")) != -sign(NaturalCompare("a.jpg", "A.jpg")) {
		t.Error("Expected antisymmetric comparison")
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func names(images []AnnotatedImage) string {
	var out []string
	for _, img := range images {
		out = append(out, img.Entry.Name)
	}
	return strings.Join(out, ",")
}

func TestSortImages_FourLevelKey(t *testing.T) {
	entries := []types.FolderEntry{
		fileEntry("/p", "img10.jpg", ""),
		fileEntry("/p", "img2.jpg", ""),
		fileEntry("/p", "late.jpg", "2024-05-01T00:00:00Z"),
		fileEntry("/p", "early.jpg", "2024-01-01T00:00:00Z"),
		fileEntry("/p", "beta.jpg", ""),
		fileEntry("/p", "alpha.jpg", ""),
		fileEntry("/p", "curated.jpg", ""),
		fileEntry("/p", "notes.txt", ""),
	}
	idx := newOrderIndex()
	idx.OrderByName["curated.jpg"] = 1

	images := Annotate(entries, idx)
	SortImages(images)

	want := "curated.jpg,img2.jpg,img10.jpg,early.jpg,late.jpg,alpha.jpg,beta.jpg"
	if got := names(images); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestAnnotate_ExcludesZeroImages(t *testing.T) {
	entries := []types.FolderEntry{
		fileEntry("/p", "a0.jpg", ""),
		fileEntry("/p", "a1.jpg", ""),
	}
	idx := newOrderIndex()
	idx.OrderByName["a0.jpg"] = 0
	idx.ZeroNames["a0.jpg"] = struct{}{}
	idx.OrientationByName["a1.jpg"] = types.OrientationSquare
	idx.ProjectByName["a1.jpg"] = "Harbour"

	images := Annotate(entries, idx)
	if len(images) != 1 {
		t.Fatalf("Expected 1 image, got %d", len(images))
	}
	img := images[0]
	if img.Entry.Name != "a1.jpg" || img.Orientation != types.OrientationSquare || img.Project != "Harbour" {
		t.Errorf("Unexpected annotation: %+v", img)
	}
}
