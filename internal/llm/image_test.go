package llm

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCompressImageResizes(t *testing.T) {
	raw := testPNG(t, 1600, 1200)
	att, err := CompressImage(raw, "image/png", ImageOptions{MaxWidth: 800, MaxHeight: 600, Quality: 80})
	if err != nil {
		t.Fatalf("CompressImage failed: %v", err)
	}
	if att.MimeType != "image/jpeg" {
		t.Fatalf("expected jpeg output, got %s", att.MimeType)
	}
	decoded, _, err := image.Decode(bytes.NewReader(att.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	bounds := decoded.Bounds()
	if bounds.Dx() > 800 || bounds.Dy() > 600 {
		t.Fatalf("output %dx%d exceeds bounds", bounds.Dx(), bounds.Dy())
	}
}

func TestCompressImageTinyPassthrough(t *testing.T) {
	raw := []byte("tiny-not-an-image")
	att, err := CompressImage(raw, "image/png", ImageOptions{})
	if err != nil {
		t.Fatalf("CompressImage failed: %v", err)
	}
	if !bytes.Equal(att.Data, raw) {
		t.Fatal("tiny input must pass through verbatim")
	}
}

func TestPrepareImageDataURL(t *testing.T) {
	raw := testPNG(t, 1000, 800)
	url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	att, err := PrepareImage(url, ImageOptions{})
	if err != nil {
		t.Fatalf("PrepareImage failed: %v", err)
	}
	if att.MimeType != "image/jpeg" {
		t.Fatalf("expected jpeg, got %s", att.MimeType)
	}
}

func TestPrepareImageFilePath(t *testing.T) {
	raw := testPNG(t, 900, 700)
	path := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := PrepareImage(path, ImageOptions{}); err != nil {
		t.Fatalf("PrepareImage failed: %v", err)
	}
}

func TestPrepareImageRejectsGarbage(t *testing.T) {
	if _, err := PrepareImage("!!not-base64!!", ImageOptions{}); err == nil {
		t.Fatal("expected error for undecodable input")
	}
}

func TestAdaptiveQuality(t *testing.T) {
	if q := adaptiveQuality(100, 80); q != 80 {
		t.Fatalf("small input got %d", q)
	}
	if q := adaptiveQuality(2<<20, 80); q != 65 {
		t.Fatalf("1MB+ input got %d", q)
	}
	if q := adaptiveQuality(8<<20, 40); q != 30 {
		t.Fatalf("quality floor violated: %d", q)
	}
}
