// Package archive handles attacker-supplied zip/7z archives: structural
// validation before anything is extracted, safe single-entry extraction,
// and deterministic preview selection with inline thumbnails. Nothing in
// this package trusts entry names, declared sizes, or image payloads.
package archive

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v4"
	"github.com/pkg/errors"

	"checkpost/pkg/domain"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {},
}

var archiveExtensions = map[string]struct{}{
	".zip": {}, ".7z": {},
}

// Extensions that may carry executable or script payloads. Presence of a
// single such entry rejects the whole archive; this is structural
// screening, not malware detection.
var dangerousExtensions = map[string]struct{}{
	// executables
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".msi": {}, ".scr": {}, ".pif": {},
	".app": {}, ".dmg": {}, ".pkg": {},
	".sh": {}, ".bin": {}, ".run": {},
	// scripts
	".js": {}, ".vbs": {}, ".vbe": {}, ".jse": {}, ".ws": {}, ".wsf": {}, ".wsc": {}, ".wsh": {},
	".ps1": {}, ".psm1": {}, ".psd1": {},
	".py": {}, ".pyw": {}, ".pyc": {}, ".pyo": {},
	".rb": {}, ".pl": {}, ".php": {},
	// macro-enabled office documents
	".docm": {}, ".xlsm": {}, ".pptm": {}, ".dotm": {}, ".xltm": {}, ".potm": {},
	// everything else that executes or redirects
	".jar": {}, ".class": {},
	".dll": {}, ".sys": {}, ".drv": {},
	".lnk": {}, ".url": {},
	".reg": {},
	".hta": {}, ".html": {}, ".htm": {}, ".svg": {},
}

// IsArchiveFilename reports whether a filename has a supported archive
// extension.
func IsArchiveFilename(name string) bool {
	_, ok := archiveExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

func IsImageFilename(name string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

func isDangerousFilename(name string) bool {
	_, ok := dangerousExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// Entry is one archive member as declared by the container. Size is the
// declared uncompressed size and is never trusted as an extraction bound.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Handler reads one archive file. It keeps no state between calls; every
// operation re-opens and re-identifies the container so a concurrent
// overwrite cannot confuse it.
type Handler struct {
	path string

	// maxEntryBytes bounds the decompressed size of any single extracted
	// entry, independent of what the container declares.
	maxEntryBytes int64
}

func NewHandler(path string, maxEntryBytes int64) *Handler {
	if maxEntryBytes <= 0 {
		maxEntryBytes = 100 * 1024 * 1024
	}
	return &Handler{path: path, maxEntryBytes: maxEntryBytes}
}

func (h *Handler) Path() string { return h.path }

// walk streams the archive, invoking fn for every entry. Structural
// failures of any kind surface as ErrArchiveCorrupt; the caller never
// sees partial results.
func (h *Handler) walk(ctx context.Context, fn func(ctx context.Context, f archiver.FileInfo) error) error {
	if !IsArchiveFilename(h.path) {
		return domain.ErrArchiveUnsupported
	}
	f, err := os.Open(h.path)
	if err != nil {
		return errors.Wrap(domain.ErrArchiveCorrupt, err.Error())
	}
	defer f.Close()

	format, input, err := archiver.Identify(ctx, h.path, f)
	if errors.Is(err, archiver.NoMatch) {
		return domain.ErrArchiveUnsupported
	} else if err != nil {
		return errors.Wrap(domain.ErrArchiveCorrupt, err.Error())
	}
	extractor, ok := format.(archiver.Extractor)
	if !ok {
		return domain.ErrArchiveUnsupported
	}
	return extractor.Extract(ctx, input, fn)
}

// Entries lists the archive members in container order without opening
// any of them.
func (h *Handler) Entries(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := h.walk(ctx, func(_ context.Context, f archiver.FileInfo) error {
		out = append(out, Entry{Name: f.NameInArchive, Dir: f.IsDir(), Size: f.Size()})
		return nil
	})
	if err != nil {
		if isDomainErr(err) {
			return nil, errors.Cause(err)
		}
		if ctx.Err() != nil {
			return nil, domain.ErrArchiveTimeout
		}
		return nil, domain.ErrArchiveCorrupt
	}
	return out, nil
}

// ListImages returns image entries in container order, directories
// excluded.
func (h *Handler) ListImages(ctx context.Context) ([]string, error) {
	entries, err := h.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var images []string
	for _, e := range entries {
		if e.Dir {
			continue
		}
		if IsImageFilename(e.Name) {
			images = append(images, e.Name)
		}
	}
	return images, nil
}

var errEntryFound = errors.New("entry found")

// ExtractEntry reads a single named entry. The returned filename is the
// entry's base name only; directory components are stripped so a
// hostile path can never traverse outside the destination when the
// caller writes the bytes out.
func (h *Handler) ExtractEntry(ctx context.Context, name string) ([]byte, string, error) {
	want := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	var data []byte
	err := h.walk(ctx, func(_ context.Context, f archiver.FileInfo) error {
		if f.IsDir() || path.Clean(strings.ReplaceAll(f.NameInArchive, `\`, "/")) != want {
			return nil
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, h.maxEntryBytes+1))
		if err != nil {
			return err
		}
		if int64(len(b)) > h.maxEntryBytes {
			return errors.New("entry exceeds extraction bound")
		}
		data = b
		return errEntryFound
	})
	switch {
	case errors.Is(err, errEntryFound):
		return data, SanitizeName(name), nil
	case err == nil:
		return nil, "", domain.ErrEntryNotFound
	case isDomainErr(err):
		return nil, "", errors.Cause(err)
	case ctx.Err() != nil:
		return nil, "", domain.ErrArchiveTimeout
	default:
		return nil, "", domain.ErrArchiveCorrupt
	}
}

// SanitizeName reduces an archive entry name to its base filename.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(path.Clean(name))
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

func isDomainErr(err error) bool {
	_, ok := errors.Cause(err).(*domain.Err)
	return ok
}
