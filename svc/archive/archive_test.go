package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"checkpost/pkg/domain"
)

func writeZip(t *testing.T, name string, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)
	for entryName, data := range entries {
		ew, err := w.Create(entryName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ew.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsArchiveFilename(t *testing.T) {
	for name, want := range map[string]bool{
		"photos.zip": true,
		"PHOTOS.ZIP": true,
		"bundle.7z":  true,
		"notes.txt":  false,
		"evil.rar":   false,
		"zip":        false,
	} {
		if got := IsArchiveFilename(name); got != want {
			t.Errorf("IsArchiveFilename(%s) = %v, want %v", name, got, want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"pic.jpg", "pic.jpg"},
		{"dir/sub/pic.jpg", "pic.jpg"},
		{`dir\sub\pic.jpg`, "pic.jpg"},
		{"../../evil.sh", "evil.sh"},
		{"..", ""},
		{"/", ""},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateAcceptsCleanArchive(t *testing.T) {
	path := writeZip(t, "clean.zip", map[string][]byte{
		"readme.txt":       []byte("hello"),
		"photos/day1.jpg":  pngBytes(t, 4, 4),
		"photos/day2.png":  pngBytes(t, 4, 4),
		"photos/notes.md":  []byte("notes"),
	})
	v := NewValidator(100, 10*1024*1024)
	h := NewHandler(path, 0)
	meta, err := v.Validate(context.Background(), h, "clean.zip")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if meta.TotalFiles != 4 {
		t.Errorf("TotalFiles = %d, want 4", meta.TotalFiles)
	}
	if meta.ImageCount != 2 {
		t.Errorf("ImageCount = %d, want 2", meta.ImageCount)
	}
	if meta.Filename != "clean.zip" {
		t.Errorf("Filename = %q", meta.Filename)
	}
	if meta.Size <= 0 {
		t.Errorf("Size = %d, want > 0", meta.Size)
	}
}

func TestValidateRejectsDangerousExtension(t *testing.T) {
	for _, entry := range []string{"run.exe", "macro.docm", "nested/dir/payload.ps1", "page.html"} {
		path := writeZip(t, "mixed.zip", map[string][]byte{
			"ok.txt": []byte("fine"),
			entry:    []byte("bad"),
		})
		v := NewValidator(100, 10*1024*1024)
		_, err := v.Validate(context.Background(), NewHandler(path, 0), "mixed.zip")
		if err != domain.ErrArchiveRejected {
			t.Errorf("Validate with %s = %v, want ErrArchiveRejected", entry, err)
		}
	}
}

func TestValidateRejectsTooManyEntries(t *testing.T) {
	entries := make(map[string][]byte)
	for i := 0; i < 6; i++ {
		entries["file"+string(rune('a'+i))+".txt"] = []byte("x")
	}
	path := writeZip(t, "many.zip", entries)
	v := NewValidator(5, 10*1024*1024)
	_, err := v.Validate(context.Background(), NewHandler(path, 0), "many.zip")
	if err != domain.ErrArchiveTooLarge {
		t.Errorf("Validate = %v, want ErrArchiveTooLarge", err)
	}
}

func TestValidateRejectsDeclaredSize(t *testing.T) {
	path := writeZip(t, "big.zip", map[string][]byte{
		"a.txt": bytes.Repeat([]byte("a"), 2048),
		"b.txt": bytes.Repeat([]byte("b"), 2048),
	})
	v := NewValidator(100, 1024)
	_, err := v.Validate(context.Background(), NewHandler(path, 0), "big.zip")
	if err != domain.ErrArchiveTooLarge {
		t.Errorf("Validate = %v, want ErrArchiveTooLarge", err)
	}
}

func TestValidateRejectsUnsupportedName(t *testing.T) {
	path := writeZip(t, "real.zip", map[string][]byte{"a.txt": []byte("x")})
	v := NewValidator(100, 10*1024*1024)
	_, err := v.Validate(context.Background(), NewHandler(path, 0), "real.rar")
	if err != domain.ErrArchiveUnsupported {
		t.Errorf("Validate = %v, want ErrArchiveUnsupported", err)
	}
}

func TestValidateRejectsCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.zip")
	if err := os.WriteFile(path, []byte("this is not a zip file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := NewValidator(100, 10*1024*1024)
	_, err := v.Validate(context.Background(), NewHandler(path, 0), "corrupt.zip")
	if err != domain.ErrArchiveUnsupported && err != domain.ErrArchiveCorrupt {
		t.Errorf("Validate = %v, want unsupported or corrupt", err)
	}
}

func TestListImagesOrderedAndFiltered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordered.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)
	// Explicit ordering: zip preserves entry order.
	for _, name := range []string{"z_last.png", "readme.txt", "a_first.jpg", "sub/mid.webp"} {
		ew, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		ew.Write([]byte("data"))
	}
	w.Close()
	f.Close()

	images, err := NewHandler(path, 0).ListImages(context.Background())
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	want := []string{"z_last.png", "a_first.jpg", "sub/mid.webp"}
	if !reflect.DeepEqual(images, want) {
		t.Errorf("ListImages = %v, want %v", images, want)
	}
}

func TestExtractEntry(t *testing.T) {
	payload := pngBytes(t, 8, 8)
	path := writeZip(t, "x.zip", map[string][]byte{
		"photos/cat.png": payload,
	})
	h := NewHandler(path, 1024*1024)

	data, name, err := h.ExtractEntry(context.Background(), "photos/cat.png")
	if err != nil {
		t.Fatalf("ExtractEntry: %v", err)
	}
	if name != "cat.png" {
		t.Errorf("name = %q, want cat.png", name)
	}
	if !bytes.Equal(data, payload) {
		t.Error("extracted bytes differ")
	}

	if _, _, err := h.ExtractEntry(context.Background(), "photos/dog.png"); err != domain.ErrEntryNotFound {
		t.Errorf("missing entry = %v, want ErrEntryNotFound", err)
	}
}

func TestExtractEntryBounded(t *testing.T) {
	path := writeZip(t, "x.zip", map[string][]byte{
		"big.txt": bytes.Repeat([]byte("a"), 4096),
	})
	h := NewHandler(path, 1024)
	_, _, err := h.ExtractEntry(context.Background(), "big.txt")
	if err != domain.ErrArchiveCorrupt {
		t.Errorf("oversized entry = %v, want ErrArchiveCorrupt", err)
	}
}

func TestThumbnailScalesDown(t *testing.T) {
	path := writeZip(t, "x.zip", map[string][]byte{
		"wide.png": pngBytes(t, 400, 100),
	})
	h := NewHandler(path, 10*1024*1024)
	uri, err := h.Thumbnail(context.Background(), "wide.png", 200, 85)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected URI prefix: %.40s", uri)
	}
}

func TestThumbnailsSkipBadEntries(t *testing.T) {
	path := writeZip(t, "x.zip", map[string][]byte{
		"good.png":   pngBytes(t, 16, 16),
		"broken.png": []byte("definitely not a png"),
	})
	h := NewHandler(path, 10*1024*1024)
	out := h.Thumbnails(context.Background(), []string{"good.png", "broken.png"}, 64)
	if len(out) != 1 {
		t.Fatalf("Thumbnails len = %d, want 1", len(out))
	}
	if out[0].Name != "good.png" {
		t.Errorf("kept entry = %s, want good.png", out[0].Name)
	}
	if out[0].Thumbnail == "" {
		t.Error("thumbnail empty")
	}
}

func TestSelectPreviewsNumericOrdering(t *testing.T) {
	got := SelectPreviews([]string{"b2.jpg", "a1.jpg", "c10.jpg"}, 2)
	want := []string{"a1.jpg", "b2.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SelectPreviews = %v, want %v", got, want)
	}
}

func TestSelectPreviewsLongDigitRuns(t *testing.T) {
	// Timestamp-style names overflow int64; the run still orders and the
	// entry is never dropped.
	got := SelectPreviews([]string{"99999999999999999999.jpg", "2.jpg", "10.jpg"}, 2)
	want := []string{"2.jpg", "10.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SelectPreviews = %v, want %v", got, want)
	}

	got = SelectPreviews([]string{"20260826093000123456.jpg", "20260826093000123455.jpg", "x.jpg"}, 2)
	want = []string{"20260826093000123455.jpg", "20260826093000123456.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SelectPreviews = %v, want %v", got, want)
	}

	// Leading zeros compare by value, not run length.
	got = SelectPreviews([]string{"0003.jpg", "2.jpg", "010.jpg"}, 2)
	want = []string{"2.jpg", "0003.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SelectPreviews = %v, want %v", got, want)
	}
}

func TestSelectPreviewsLexicographicFallback(t *testing.T) {
	got := SelectPreviews([]string{"zeta.jpg", "alpha.jpg"}, 1)
	want := []string{"alpha.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SelectPreviews = %v, want %v", got, want)
	}
}

func TestSelectPreviewsEdgeCases(t *testing.T) {
	// Fewer images than requested: all returned, order preserved.
	got := SelectPreviews([]string{"b.jpg", "a.jpg"}, 5)
	if !reflect.DeepEqual(got, []string{"b.jpg", "a.jpg"}) {
		t.Errorf("short list = %v", got)
	}
	if SelectPreviews(nil, 3) != nil {
		t.Error("nil input should yield nil")
	}
	if SelectPreviews([]string{"a.jpg"}, 0) != nil {
		t.Error("n=0 should yield nil")
	}

	// Mixed numbered/unnumbered: numbered subset wins.
	got = SelectPreviews([]string{"cover.jpg", "p3.jpg", "p1.jpg", "p2.jpg"}, 2)
	if !reflect.DeepEqual(got, []string{"p1.jpg", "p2.jpg"}) {
		t.Errorf("mixed list = %v", got)
	}

	// Deterministic: repeated calls agree.
	in := []string{"x9.png", "x1.png", "x5.png", "x3.png"}
	first := SelectPreviews(in, 3)
	for i := 0; i < 5; i++ {
		if !reflect.DeepEqual(SelectPreviews(in, 3), first) {
			t.Fatal("SelectPreviews not deterministic")
		}
	}
}
