package llm

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

// tinyImageThreshold: inputs below this size are forwarded verbatim, they are
// already cheaper than a re-encode.
const tinyImageThreshold = 1024

// ImageOptions bounds screenshot compression.
type ImageOptions struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (o ImageOptions) withDefaults() ImageOptions {
	if o.MaxWidth <= 0 {
		o.MaxWidth = 800
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = 600
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 80
	}
	return o
}

// PrepareImage accepts a screenshot as a data URL, a file path, or raw
// base64, resizes it into the configured bounds, and re-encodes it as JPEG
// with adaptive quality (larger originals get a lower quality). Tiny inputs
// pass through untouched.
func PrepareImage(input string, opts ImageOptions) (Attachment, error) {
	opts = opts.withDefaults()
	raw, mime, err := decodeImageInput(input)
	if err != nil {
		return Attachment{}, err
	}
	return CompressImage(raw, mime, opts)
}

// CompressImage applies the bounds to already-decoded image bytes.
func CompressImage(raw []byte, mime string, opts ImageOptions) (Attachment, error) {
	opts = opts.withDefaults()
	if len(raw) < tinyImageThreshold {
		if mime == "" {
			mime = "image/png"
		}
		return Attachment{MimeType: mime, Data: raw}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Attachment{}, fmt.Errorf("decode image: %w", err)
	}

	fitted := imaging.Fit(img, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)

	quality := adaptiveQuality(len(raw), opts.Quality)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: quality}); err != nil {
		return Attachment{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Attachment{MimeType: "image/jpeg", Data: buf.Bytes()}, nil
}

// adaptiveQuality lowers JPEG quality for larger originals so the attachment
// stays within a bounded budget.
func adaptiveQuality(originalSize, base int) int {
	switch {
	case originalSize > 4<<20:
		base -= 30
	case originalSize > 1<<20:
		base -= 15
	case originalSize > 256<<10:
		base -= 5
	}
	if base < 30 {
		base = 30
	}
	return base
}

// decodeImageInput resolves the three accepted input forms.
func decodeImageInput(input string) ([]byte, string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, "", fmt.Errorf("empty image input")
	}

	if strings.HasPrefix(trimmed, "data:") {
		comma := strings.IndexByte(trimmed, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		meta := trimmed[len("data:"):comma]
		mime := strings.SplitN(meta, ";", 2)[0]
		raw, err := base64.StdEncoding.DecodeString(trimmed[comma+1:])
		if err != nil {
			return nil, "", fmt.Errorf("decode data URL: %w", err)
		}
		return raw, mime, nil
	}

	if _, err := os.Stat(trimmed); err == nil {
		raw, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, "", fmt.Errorf("read image file: %w", err)
		}
		return raw, mimeFromPath(trimmed), nil
	}

	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, "", fmt.Errorf("input is neither data URL, file path, nor base64: %w", err)
	}
	return raw, "", nil
}

func mimeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	default:
		return "image/png"
	}
}
