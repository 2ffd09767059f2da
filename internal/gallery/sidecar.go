package gallery

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"portfolioproxy/pkg/types"
)

// MetadataFile is the reserved project-level metadata document in every project folder
const MetadataFile = "_metadata.json"

var (
	imageExt    = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|webp)$`)
	jsonExt     = regexp.MustCompile(`(?i)\.json$`)
	fileExt     = regexp.MustCompile(`(?i)\.[a-z0-9]{3,4}$`)
	lastExt     = regexp.MustCompile(`\.[^.]+$`)
	orderPrefix = regexp.MustCompile(`^-?\d+`)
	orderStrip  = regexp.MustCompile(`[^\d-]`)

	linkSpaces = strings.NewReplacer(
		"\u00A0", " ", "\u2000", " ", "\u2001", " ", "\u2002", " ", "\u2003", " ",
		"\u2004", " ", "\u2005", " ", "\u2006", " ", "\u2007", " ", "\u2008", " ",
		"\u2009", " ", "\u200A", " ", "\u202F", " ", "\u205F", " ", "\u3000", " ",
	)
)

func isImage(name string) bool { return imageExt.MatchString(name) }
func isJSON(name string) bool  { return jsonExt.MatchString(name) }

func isImageEntry(e types.FolderEntry) bool { return e.IsFile() && isImage(e.Name) }

func isSidecarEntry(e types.FolderEntry) bool {
	return e.IsFile() && isJSON(e.Name) && !strings.EqualFold(e.Name, MetadataFile)
}

// base strips the last extension and folds to lower case: "A.jpg.json" -> "a.jpg"
func base(name string) string {
	return strings.ToLower(lastExt.ReplaceAllString(name, ""))
}

// toOrderNum reads a curation order from its raw textual form. Stray
// characters other than digits and '-' are ignored. Anything without a
// leading integer is unordered (+Inf).
func toOrderNum(raw string) float64 {
	s := orderStrip.ReplaceAllString(strings.TrimSpace(raw), "")
	m := orderPrefix.FindString(s)
	if m == "" {
		return math.Inf(1)
	}
	n, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return math.Inf(1)
	}
	return n
}

// normalizeOrientation maps sidecar text to a known orientation. Only
// horizontal (or landscape) and square are recognized.
func normalizeOrientation(raw string) types.Orientation {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "horizontal", "landscape":
		return types.OrientationHorizontal
	case "square":
		return types.OrientationSquare
	default:
		return types.OrientationNone
	}
}

// filenameFromLinkedImage extracts a lower-case image filename from a
// linked_image value, which may be a share URL, a preview link or a plain path.
// It returns "" when no filename with an extension can be found.
func filenameFromLinkedImage(link string) string {
	if strings.TrimSpace(link) == "" {
		return ""
	}
	decoded, err := url.PathUnescape(linkSpaces.Replace(link))
	if err != nil {
		return ""
	}
	decoded = strings.TrimSpace(decoded)
	decoded, _, _ = strings.Cut(decoded, "#")

	if _, query, ok := strings.Cut(decoded, "?"); ok {
		params, _ := url.ParseQuery(query)
		if pv := strings.TrimSpace(params.Get("preview")); pv != "" && fileExt.MatchString(pv) {
			return strings.ToLower(pv)
		}
	}

	last := decoded
	if i := strings.LastIndex(decoded, "/"); i >= 0 {
		last = decoded[i+1:]
	}
	last, _, _ = strings.Cut(last, "?")
	clean := strings.ToLower(strings.TrimSpace(last))
	if !fileExt.MatchString(clean) {
		return ""
	}
	return clean
}

// seqFromName returns the first run of one to six digits in name, or +Inf.
// Longer runs (dates, camera counters) are skipped.
func seqFromName(name string) float64 {
	i := 0
	for i < len(name) {
		if !isDigit(name[i]) {
			i++
			continue
		}
		j := i
		for j < len(name) && isDigit(name[j]) {
			j++
		}
		if j-i <= 6 {
			n, err := strconv.Atoi(name[i:j])
			if err == nil {
				return float64(n)
			}
		}
		i = j
	}
	return math.Inf(1)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// safeTime returns the RFC 3339 timestamp in milliseconds, or +Inf when absent or malformed
func safeTime(ts string) float64 {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return math.Inf(1)
	}
	return float64(t.UnixMilli())
}

func finite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
