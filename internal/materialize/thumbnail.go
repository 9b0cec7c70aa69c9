package materialize

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	// Registered decoders for provider outputs.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
	"golang.org/x/image/draw"
)

// MaxThumbnailPixels bounds the decoded size of a thumbnail source.
const MaxThumbnailPixels = 40_000_000

// ErrImageTooLarge is returned for sources above MaxThumbnailPixels.
var ErrImageTooLarge = errors.New("materialize: image too large for thumbnail")

// Thumbnail decodes an image and returns a JPEG at most width pixels wide.
// Sources are checked against MaxThumbnailPixels before decoding.
func Thumbnail(data []byte, width int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxThumbnailPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, errors.New("empty image")
	}

	w, h := b.Dx(), b.Dy()
	if w > width {
		h = h * width / w
		w = width
		if h < 1 {
			h = 1
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
