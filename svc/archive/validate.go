package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"checkpost/metrics"
	"checkpost/pkg/domain"
	"checkpost/svc/util"
)

// Validator screens an uploaded archive before anything inside it is
// trusted: container format, entry count, declared uncompressed size and
// per-entry extensions. Validation never decompresses entry bodies.
type Validator struct {
	maxEntries      int
	maxDeclaredSize int64
}

func NewValidator(maxEntries int, maxDeclaredSize int64) *Validator {
	return &Validator{maxEntries: maxEntries, maxDeclaredSize: maxDeclaredSize}
}

// Validate walks the archive at path and returns its metadata if every
// check passes. Rejection reasons are reported via distinct errors but
// the messages stay generic; detail goes to the debug log only.
func (v *Validator) Validate(ctx context.Context, h *Handler, originalName string) (*domain.ArchiveMeta, error) {
	if !IsArchiveFilename(originalName) {
		metrics.ArchivesRejected.WithLabelValues("unsupported").Inc()
		return nil, domain.ErrArchiveUnsupported
	}

	entries, err := h.Entries(ctx)
	if err != nil {
		switch err {
		case domain.ErrArchiveUnsupported:
			metrics.ArchivesRejected.WithLabelValues("unsupported").Inc()
		case domain.ErrArchiveTimeout:
			metrics.ArchivesRejected.WithLabelValues("timeout").Inc()
		default:
			metrics.ArchivesRejected.WithLabelValues("corrupt").Inc()
		}
		return nil, err
	}

	var (
		files     int
		images    int
		projected int64
	)
	for _, e := range entries {
		if e.Dir {
			continue
		}
		files++
		if files > v.maxEntries {
			util.Debug().Int("limit", v.maxEntries).Msg("archive exceeds entry limit")
			metrics.ArchivesRejected.WithLabelValues("entry_count").Inc()
			return nil, domain.ErrArchiveTooLarge
		}
		if e.Size > 0 {
			projected += e.Size
		}
		if projected > v.maxDeclaredSize {
			util.Debug().Int64("declared", projected).Msg("archive exceeds declared size limit")
			metrics.ArchivesRejected.WithLabelValues("declared_size").Inc()
			return nil, domain.ErrArchiveTooLarge
		}
		if isDangerousFilename(e.Name) {
			util.Debug().Str("ext", strings.ToLower(filepath.Ext(e.Name))).Msg("archive contains dangerous entry")
			metrics.ArchivesRejected.WithLabelValues("dangerous_extension").Inc()
			return nil, domain.ErrArchiveRejected
		}
		if IsImageFilename(e.Name) {
			images++
		}
	}

	var size int64
	if st, err := os.Stat(h.Path()); err == nil {
		size = st.Size()
	}

	metrics.ArchivesValidated.Inc()
	return &domain.ArchiveMeta{
		Filename:   SanitizeName(originalName),
		Size:       size,
		TotalFiles: files,
		ImageCount: images,
	}, nil
}
