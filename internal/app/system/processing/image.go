package processing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoders
	"image/jpeg"
	_ "image/png"
	"io"
	"strings"

	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxImagePixels bounds the canvas a decode may allocate. Decoders size
// their buffers from the header, so this is checked before decoding.
const maxImagePixels = 80_000_000

// decodeImage decodes r as an image. Unknown formats are ErrUnsupported;
// corrupt or oversized data fails permanently since a retry reads the same
// bytes.
func decodeImage(r io.Reader, mimeType string) (image.Image, error) {
	if !strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return nil, ErrUnsupported
	}

	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, decodeErr(mimeType, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > maxImagePixels {
		return nil, fmt.Errorf("image is %dx%d, over the %d pixel limit: %w",
			cfg.Width, cfg.Height, maxImagePixels, jobstore.ErrPermanentFailure)
	}

	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, decodeErr(mimeType, err)
	}
	return img, nil
}

func decodeErr(mimeType string, err error) error {
	if errors.Is(err, image.ErrFormat) {
		return fmt.Errorf("%s: %w", mimeType, ErrUnsupported)
	}
	return fmt.Errorf("decode image: %v: %w", err, jobstore.ErrPermanentFailure)
}

// fit scales (w, h) down to fit in maxDim, keeping the aspect ratio.
func fit(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}

// ImageThumbnailer renders thumbnails for the image formats registered with
// the image package.
type ImageThumbnailer struct {
	Quality int // JPEG quality; 0 = 80
}

// Thumbnail implements Thumbnailer.
func (t ImageThumbnailer) Thumbnail(ctx context.Context, r io.Reader, mimeType string, maxDim int) ([]byte, error) {
	src, err := decodeImage(r, mimeType)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; flatten onto white.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	quality := t.Quality
	if quality == 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// BasicExtractor records size and a BLAKE2b-256 digest for any content,
// image dimensions and format for images, and the header version for PDFs.
type BasicExtractor struct{}

// Extract implements MetadataExtractor.
func (BasicExtractor) Extract(ctx context.Context, r io.Reader, mimeType string) (map[string]any, error) {
	h, _ := blake2b.New256(nil)
	counter := &blobstore.CountingReader{R: io.TeeReader(r, h)}
	br := bufio.NewReaderSize(counter, 64*1024)
	meta := map[string]any{}

	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		head, _ := br.Peek(64 * 1024)
		if cfg, format, err := image.DecodeConfig(bytes.NewReader(head)); err == nil {
			meta["width"] = cfg.Width
			meta["height"] = cfg.Height
			meta["format"] = format
		}
	case mimeType == "application/pdf":
		head, _ := br.Peek(8)
		if bytes.HasPrefix(head, []byte("%PDF-")) {
			meta["pdf_version"] = string(bytes.TrimSpace(head[5:]))
		}
	}

	if _, err := io.Copy(io.Discard, br); err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta["bytes"] = counter.N
	meta["blake2b"] = hex.EncodeToString(h.Sum(nil))
	return meta, nil
}

// ColorAnalyzer tags images with their orientation and dominant color.
type ColorAnalyzer struct{}

var palette = []struct {
	name string
	c    color.RGBA
}{
	{"black", color.RGBA{0, 0, 0, 255}},
	{"white", color.RGBA{255, 255, 255, 255}},
	{"gray", color.RGBA{128, 128, 128, 255}},
	{"red", color.RGBA{200, 40, 40, 255}},
	{"orange", color.RGBA{230, 140, 30, 255}},
	{"yellow", color.RGBA{230, 220, 50, 255}},
	{"green", color.RGBA{50, 160, 60, 255}},
	{"blue", color.RGBA{40, 80, 200, 255}},
	{"purple", color.RGBA{130, 60, 170, 255}},
	{"brown", color.RGBA{120, 80, 40, 255}},
}

// Analyze implements ImageAnalyzer.
func (ColorAnalyzer) Analyze(ctx context.Context, r io.Reader, mimeType string) ([]string, error) {
	src, err := decodeImage(r, mimeType)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	var tags []string
	switch {
	case b.Dx() > b.Dy():
		tags = append(tags, "landscape")
	case b.Dx() < b.Dy():
		tags = append(tags, "portrait")
	default:
		tags = append(tags, "square")
	}

	// Average over a small downsample.
	small := image.NewRGBA(image.Rect(0, 0, 16, 16))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), src, b, draw.Src, nil)
	var rs, gs, bs int
	for i := 0; i < len(small.Pix); i += 4 {
		rs += int(small.Pix[i])
		gs += int(small.Pix[i+1])
		bs += int(small.Pix[i+2])
	}
	n := len(small.Pix) / 4
	avg := color.RGBA{uint8(rs / n), uint8(gs / n), uint8(bs / n), 255}

	return append(tags, nearestColor(avg)), ctx.Err()
}

func nearestColor(c color.RGBA) string {
	best, bestDist := "", -1
	for _, p := range palette {
		dr := int(c.R) - int(p.c.R)
		dg := int(c.G) - int(p.c.G)
		db := int(c.B) - int(p.c.B)
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist {
			best, bestDist = p.name, d
		}
	}
	return best
}
