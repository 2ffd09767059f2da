package thumbs

import (
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/munnerz/goautoneg"
)

// Format is an encoded thumbnail format. The zero value is not a valid format.
type Format byte

const (
	FormatJPEG Format = iota + 1
	FormatWebP
	FormatAVIF
)

// Formats lists every format the proxy can serve, most preferred first
var Formats = []Format{FormatAVIF, FormatWebP, FormatJPEG}

func (f Format) String() string {
	switch f {
	case FormatAVIF:
		return "avif"
	case FormatWebP:
		return "webp"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// MIME returns the Content-Type for f
func (f Format) MIME() string {
	switch f {
	case FormatAVIF:
		return "image/avif"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Negotiate picks the best format the Accept header explicitly allows.
// Wildcards never select a modern format; JPEG is always acceptable.
func Negotiate(accept string) Format {
	var avif, webp bool
	for _, a := range goautoneg.ParseAccept(accept) {
		if a.Type != "image" || a.Q <= 0 {
			continue
		}
		switch a.SubType {
		case "avif":
			avif = true
		case "webp":
			webp = true
		}
	}
	switch {
	case avif:
		return FormatAVIF
	case webp:
		return FormatWebP
	default:
		return FormatJPEG
	}
}

// Dropbox thumbnail size tags
const (
	DefaultSize = "w640h480"
	SizeThumb   = "w480h320"
	SizeDisplay = "w1024h768"
	SizeFull    = "w2048h1536"
)

// FallbackSizes are tried in order when a requested size cannot be rendered
var FallbackSizes = []string{"w640h480", "w480h320", "w256h256"}

// EncodePath turns a remote path into an opaque URL segment
func EncodePath(path string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(path))
}

// DecodePath reverses EncodePath. Padded input is accepted too.
func DecodePath(encoded string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// URL builds the thumbnail route for path at size under the API prefix
func URL(prefix, path, size string) string {
	return strings.TrimRight(prefix, "/") + "/thumb/" + EncodePath(path) + "?s=" + url.QueryEscape(size)
}

// ETag returns a weak validator derived from the content hash
func ETag(data []byte) string {
	sum := sha1.Sum(data)
	return `W/"` + base64.StdEncoding.EncodeToString(sum[:])[:16] + `"`
}
