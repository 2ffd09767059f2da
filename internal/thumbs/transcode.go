package thumbs

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
)

// Transcoder re-encodes baseline JPEG bytes into another format
type Transcoder interface {
	Transcode(jpeg []byte, to Format) ([]byte, error)
}

// ImageTranscoder decodes with imaging and encodes with pure-Go AVIF and WebP encoders
type ImageTranscoder struct {
	AVIFQuality int
	AVIFSpeed   int
	WebPQuality int
	JPEGQuality int
}

func NewImageTranscoder() *ImageTranscoder {
	return &ImageTranscoder{
		AVIFQuality: 45,
		AVIFSpeed:   7,
		WebPQuality: 70,
		JPEGQuality: 85,
	}
}

func (t *ImageTranscoder) Transcode(data []byte, to Format) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode thumbnail: %w", err)
	}

	var buf bytes.Buffer
	switch to {
	case FormatAVIF:
		err = avif.Encode(&buf, img, avif.Options{Quality: t.AVIFQuality, QualityAlpha: t.AVIFQuality, Speed: t.AVIFSpeed})
	case FormatWebP:
		err = webp.Encode(&buf, img, webp.Options{Quality: t.WebPQuality})
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(t.JPEGQuality))
	default:
		return nil, fmt.Errorf("unsupported format %d", to)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", to, err)
	}
	return buf.Bytes(), nil
}
