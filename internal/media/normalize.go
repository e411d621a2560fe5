package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/bep/imagemeta"
	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Normalization defaults.
const (
	DefaultMaxDimension = 512
	DefaultJPEGQuality  = 90
)

// Normalizer converts an accepted still image into an upright JPEG that fits
// within MaxDimension x MaxDimension. Smaller images are never enlarged.
type Normalizer struct {
	runner  Runner
	ffmpeg  string
	maxDim  int
	quality int
}

// NewNormalizer creates a normalizer. runner and ffmpegPath are only used to
// transcode AVIF, which has no Go decoder.
func NewNormalizer(runner Runner, ffmpegPath string, maxDim int) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	return &Normalizer{runner: runner, ffmpeg: ffmpegPath, maxDim: maxDim, quality: DefaultJPEGQuality}
}

// Normalize decodes data according to mimeType and re-encodes it as JPEG.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, mimeType string) ([]byte, error) {
	if len(data) == 0 {
		return nil, domain.ErrEmptyInput
	}

	img, err := n.decode(ctx, data, domain.NormalizeMime(mimeType))
	if err != nil {
		return nil, err
	}

	img = orient(img, exifOrientation(data))
	b := img.Bounds()
	if w, h := fitSize(b.Dx(), b.Dy(), n.maxDim); w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitSize scales w x h to fit within maxDim x maxDim, rounding the shorter
// side to the nearest pixel. Sizes already within bounds are kept.
func fitSize(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, int(math.Round(float64(h)*float64(maxDim)/float64(w))))
	}
	return max(1, int(math.Round(float64(w)*float64(maxDim)/float64(h)))), maxDim
}

func (n *Normalizer) decode(ctx context.Context, data []byte, mimeType string) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	switch mimeType {
	case domain.MimeJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	case domain.MimePNG:
		img, err = png.Decode(bytes.NewReader(data))
	case domain.MimeWebP:
		img, err = webp.Decode(bytes.NewReader(data))
	case domain.MimeAVIF:
		img, err = n.decodeAVIF(ctx, data)
	default:
		return nil, fmt.Errorf("%w: %q is not a still image", domain.ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrInvalidMedia, mimeType, err)
	}
	return img, nil
}

// decodeAVIF transcodes to PNG through ffmpeg pipes.
func (n *Normalizer) decodeAVIF(ctx context.Context, data []byte) (image.Image, error) {
	if n.runner == nil {
		return nil, fmt.Errorf("no transcoder for %s", domain.MimeAVIF)
	}
	out, err := n.runner.Run(ctx, data, n.ffmpeg,
		"-v", "error",
		"-i", "pipe:0",
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(out))
}

// exifOrientation returns the EXIF orientation tag (1-8), or 1 when absent.
func exifOrientation(data []byte) int {
	orientation := 1
	_, err := imagemeta.Decode(imagemeta.Options{
		R:       bytes.NewReader(data),
		Sources: imagemeta.EXIF,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			return ti.Tag == "Orientation"
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if v, ok := toInt(ti.Value); ok && v >= 1 && v <= 8 {
				orientation = v
			}
			return nil
		},
	})
	if err != nil {
		return 1
	}
	return orientation
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	default:
		return 0, false
	}
}

// orient applies an EXIF orientation so the result is upright.
func orient(img image.Image, o int) image.Image {
	switch o {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
