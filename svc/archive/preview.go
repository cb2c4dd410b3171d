package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"checkpost/metrics"
	"checkpost/pkg/domain"
	"checkpost/svc/util"
)

const (
	thumbnailQuality = 85
	previewQuality   = 90
)

// Thumbnail extracts one image entry and renders it as an inline JPEG
// data URI, downscaled so neither dimension exceeds maxDim. Images that
// already fit are re-encoded without scaling.
func (h *Handler) Thumbnail(ctx context.Context, name string, maxDim, quality int) (string, error) {
	data, _, err := h.ExtractEntry(ctx, name)
	if err != nil {
		return "", err
	}
	return renderJPEG(data, maxDim, quality)
}

// Thumbnails renders inline thumbnails for the given entries. A decode
// failure on one entry skips that entry and moves on; hostile archives
// routinely mix valid and corrupt images.
func (h *Handler) Thumbnails(ctx context.Context, names []string, maxDim int) []domain.PreviewImage {
	out := make([]domain.PreviewImage, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		uri, err := h.Thumbnail(ctx, name, maxDim, thumbnailQuality)
		if err != nil {
			util.Debug().Err(err).Str("entry", SanitizeName(name)).Msg("thumbnail skipped")
			metrics.ThumbnailFailures.Inc()
			continue
		}
		out = append(out, domain.PreviewImage{
			Path:      name,
			Name:      SanitizeName(name),
			Thumbnail: uri,
		})
	}
	return out
}

// Preview renders a single entry at preview resolution.
func (h *Handler) Preview(ctx context.Context, name string, maxDim int) (string, error) {
	return h.Thumbnail(ctx, name, maxDim, previewQuality)
}

func renderJPEG(data []byte, maxDim, quality int) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "decode image")
	}
	b := src.Bounds()
	w, ht := b.Dx(), b.Dy()
	if w <= 0 || ht <= 0 {
		return "", errors.New("empty image")
	}
	if w > maxDim || ht > maxDim {
		if w >= ht {
			ht = ht * maxDim / w
			w = maxDim
		} else {
			w = w * maxDim / ht
			ht = maxDim
		}
		if w < 1 {
			w = 1
		}
		if ht < 1 {
			ht = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, ht))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		src = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return "", errors.Wrap(err, "encode jpeg")
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

var digitRun = regexp.MustCompile(`\d+`)

// SelectPreviews picks up to n representative entries from images,
// deterministically. Entries whose base filename carries a digit run are
// ordered by the value of the first run (page/sequence numbering); when
// no entry is numbered, plain lexicographic order decides. Equal numbers
// keep their archive order.
func SelectPreviews(images []string, n int) []string {
	if n <= 0 || len(images) == 0 {
		return nil
	}
	if len(images) <= n {
		out := make([]string, len(images))
		copy(out, images)
		return out
	}

	type numbered struct {
		path string
		num  string
	}
	var nums []numbered
	for _, p := range images {
		stem := strings.TrimSuffix(SanitizeName(p), path.Ext(p))
		m := digitRun.FindString(stem)
		if m == "" {
			continue
		}
		nums = append(nums, numbered{path: p, num: strings.TrimLeft(m, "0")})
	}
	if len(nums) > 0 {
		sort.SliceStable(nums, func(i, j int) bool { return lessDigits(nums[i].num, nums[j].num) })
		if len(nums) > n {
			nums = nums[:n]
		}
		out := make([]string, len(nums))
		for i, e := range nums {
			out[i] = e.path
		}
		return out
	}

	out := make([]string, len(images))
	copy(out, images)
	sort.Strings(out)
	return out[:n]
}

// lessDigits compares two digit runs numerically at arbitrary length.
// Inputs have leading zeros stripped, so a shorter run is the smaller
// number and equal lengths compare lexicographically.
func lessDigits(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
