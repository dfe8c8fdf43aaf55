// Package asset normalizes raw attachment images so every document page stays
// under a configurable byte budget. Normalization is deterministic: the same
// input bytes and parameters always yield byte-identical output.
package asset

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	// png decode registration; jpeg registers via the import above
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecodeError       = errors.New("image decode failed")
)

const (
	minJPEGQuality  = 20
	qualityStepDown = 10
)

var supportedFormats = map[string]struct{}{
	"jpeg": {},
	"png":  {},
}

// Asset is a normalized, immutable image ready for document assembly.
type Asset struct {
	ID          string
	Data        []byte
	Format      string
	Width       int
	Height      int
	SourceBytes int
	// Recompressed records whether lossy recompression was applied,
	// kept for diagnostics in the batch ledger logs.
	Recompressed bool
	// OverBudget is set when even the quality and dimension floors could
	// not bring the encoding under ByteBudget. The asset is still usable;
	// callers decide whether to keep or report it.
	OverBudget bool
}

// Normalizer re-encodes images that exceed ByteBudget. Under-budget inputs
// pass through byte-identical.
type Normalizer struct {
	ByteBudget   int
	JPEGQuality  int
	MaxDimension int
}

// Normalize validates the image and bounds its size.
func (n Normalizer) Normalize(id string, data []byte) (Asset, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Asset{}, fmt.Errorf("asset %s: %w", id, ErrUnsupportedFormat)
		}
		return Asset{}, fmt.Errorf("asset %s: %w: %v", id, ErrDecodeError, err)
	}
	if _, ok := supportedFormats[format]; !ok {
		return Asset{}, fmt.Errorf("asset %s: format %q: %w", id, format, ErrUnsupportedFormat)
	}

	if n.ByteBudget <= 0 || len(data) <= n.ByteBudget {
		return Asset{
			ID:          id,
			Data:        data,
			Format:      format,
			Width:       cfg.Width,
			Height:      cfg.Height,
			SourceBytes: len(data),
		}, nil
	}

	return n.recompress(id, data)
}

func (n Normalizer) recompress(id string, data []byte) (Asset, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Asset{}, fmt.Errorf("asset %s: %w: %v", id, ErrDecodeError, err)
	}

	img := n.downscale(src)
	quality := n.JPEGQuality
	if quality < 1 || quality > 100 {
		quality = 85
	}

	encoded, err := encodeJPEG(img, quality)
	if err != nil {
		return Asset{}, fmt.Errorf("asset %s: %w", id, err)
	}
	for len(encoded) > n.ByteBudget && quality-qualityStepDown >= minJPEGQuality {
		quality -= qualityStepDown
		if encoded, err = encodeJPEG(img, quality); err != nil {
			return Asset{}, fmt.Errorf("asset %s: %w", id, err)
		}
	}
	// quality floor reached: halve dimensions until under budget or tiny
	for len(encoded) > n.ByteBudget && img.Bounds().Dx() > 64 && img.Bounds().Dy() > 64 {
		img = scaleTo(img, img.Bounds().Dx()/2, img.Bounds().Dy()/2)
		if encoded, err = encodeJPEG(img, quality); err != nil {
			return Asset{}, fmt.Errorf("asset %s: %w", id, err)
		}
	}

	bounds := img.Bounds()
	return Asset{
		ID:           id,
		Data:         encoded,
		Format:       "jpeg",
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		SourceBytes:  len(data),
		Recompressed: true,
		OverBudget:   len(encoded) > n.ByteBudget,
	}, nil
}

// downscale bounds the longest side by MaxDimension, preserving aspect ratio.
func (n Normalizer) downscale(src image.Image) image.Image {
	if n.MaxDimension <= 0 {
		return src
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := width
	if height > longest {
		longest = height
	}
	if longest <= n.MaxDimension {
		return src
	}
	scale := float64(n.MaxDimension) / float64(longest)
	dstW := int(float64(width) * scale)
	dstH := int(float64(height) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}
	return scaleTo(src, dstW, dstH)
}

func scaleTo(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
