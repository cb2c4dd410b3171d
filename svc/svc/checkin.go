// Package svc composes the defense pipeline, archive handling and the
// repository into the check-in service the transport layer calls.
package svc

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"checkpost/cfg"
	"checkpost/metrics"
	"checkpost/pkg/domain"
	"checkpost/svc/archive"
	"checkpost/svc/blocklist"
	"checkpost/svc/cache"
	"checkpost/svc/db"
	"checkpost/svc/gate"
	"checkpost/svc/util"
)

type dupForgetter interface {
	Forget(content string)
}

type Checkin struct {
	db        *db.SQLite
	gate      *gate.Gatekeeper
	validator *archive.Validator
	blocklist *blocklist.Store
	dedup     dupForgetter
	fp        *util.Fingerprinter
	cfg       *cfg.Cfg
	rendered  *cache.LRU

	shutdown  atomic.Bool
	opWg      sync.WaitGroup
	stopMaint func()

	now func() time.Time
}

func NewCheckin(sqlDB *db.SQLite, g *gate.Gatekeeper, v *archive.Validator, bl *blocklist.Store, dd dupForgetter, fp *util.Fingerprinter, c *cfg.Cfg) *Checkin {
	if sqlDB == nil || g == nil || v == nil || bl == nil || fp == nil || c == nil {
		panic("checkin service: nil dependency")
	}
	rendered, err := cache.NewLRU(c.RenderCacheSize)
	if err != nil {
		panic(err)
	}
	return &Checkin{
		rendered:  rendered,
		db:        sqlDB,
		gate:      g,
		validator: v,
		blocklist: bl,
		dedup:     dd,
		fp:        fp,
		cfg:       c,
		stopMaint: sqlDB.StartMaintenance(0),
		now:       time.Now,
	}
}

// Healthy is the readiness probe: it reports whether the repository is
// currently serviceable.
func (s *Checkin) Healthy(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Checkin) Shutdown() {
	s.shutdown.Store(true)
	s.opWg.Wait()
	s.stopMaint()
	util.Debug().Msg("checkin service shutdown complete")
}

// Submit validates, gates and persists one submission. The returned
// check-in carries the moderation status the gatekeeper decided; a
// non-nil error is a *domain.Err classifying the denial.
func (s *Checkin) Submit(ctx context.Context, params domain.SubmitParams) (*domain.CheckIn, error) {
	if s.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	s.opWg.Add(1)
	defer s.opWg.Done()

	params.Content = strings.TrimSpace(params.Content)
	if params.Nickname == "" {
		params.Nickname = domain.DefaultNickname
	}
	if params.Avatar == "" {
		params.Avatar = domain.DefaultAvatar
	}
	if err := s.validateFields(params); err != nil {
		return nil, err
	}

	hasArchive := params.ArchivePath != ""
	req := gate.Request{
		IP:       params.IP,
		Content:  params.Content,
		Nickname: params.Nickname,
		Honeypot: params.Honeypot,
		IssuedAt: params.IssuedAt,
		HasMedia: len(params.MediaFiles) > 0 || hasArchive,
		Email:    params.Email,
		QQ:       params.QQ,
		URL:      params.URL,
	}
	if err := s.gate.Check(ctx, req); err != nil {
		return nil, err
	}
	// Past this point the duplicate detector has recorded the content; a
	// later failure must forget it so a corrected resubmission is not
	// denied as a duplicate.
	fail := func(err error) (*domain.CheckIn, error) {
		if s.dedup != nil {
			s.dedup.Forget(params.Content)
		}
		return nil, err
	}

	decision := s.gate.Decide(req)

	check := &domain.CheckIn{
		Content:      params.Content,
		MediaFiles:   params.MediaFiles,
		CreatedAt:    s.now(),
		IPAddress:    s.fp.Identity(params.IP),
		Nickname:     params.Nickname,
		Email:        params.Email,
		QQ:           params.QQ,
		URL:          params.URL,
		Avatar:       params.Avatar,
		FileType:     domain.FileTypeMedia,
		Status:       decision.Status,
		ReviewReason: decision.Reason,
	}

	if hasArchive {
		meta, err := s.acceptArchive(ctx, params)
		if err != nil {
			return fail(err)
		}
		check.FileType = domain.FileTypeArchive
		check.ArchiveMeta = meta
	}

	if err := s.db.Create(ctx, check); err != nil {
		return fail(errors.Wrap(err, "create check-in"))
	}

	switch check.Status {
	case domain.StatusApproved:
		metrics.SubmissionsPublished.Inc()
	default:
		metrics.SubmissionsPending.Inc()
	}
	util.Info().
		Int64("id", check.ID).
		Str("status", string(check.Status)).
		Str("file_type", string(check.FileType)).
		Msg("check-in accepted")
	return check, nil
}

func (s *Checkin) validateFields(params domain.SubmitParams) error {
	if err := validateContent(params.Content, s.cfg.MaxContentLen); err != nil {
		return err
	}
	if err := validateNickname(params.Nickname, s.cfg.MaxNicknameLen); err != nil {
		return err
	}
	if err := validateEmail(params.Email); err != nil {
		return err
	}
	if err := validateURL(params.URL); err != nil {
		return err
	}
	if err := validateQQ(params.QQ); err != nil {
		return err
	}
	return validateAvatar(params.Avatar)
}

// acceptArchive screens the uploaded archive, moves it into the data
// directory under a fresh name, and extracts preview images. All
// archive work runs under the extraction timeout.
func (s *Checkin) acceptArchive(ctx context.Context, params domain.SubmitParams) (*domain.ArchiveMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()

	handler := archive.NewHandler(params.ArchivePath, s.cfg.MaxArchiveFileSize)
	meta, err := s.validator.Validate(ctx, handler, params.ArchiveName)
	if err != nil {
		return nil, err
	}

	storedAs := uuid.New().String() + strings.ToLower(filepath.Ext(params.ArchiveName))
	if err := s.persistArchive(params.ArchivePath, storedAs); err != nil {
		return nil, errors.Wrap(err, "persist archive")
	}
	meta.StoredAs = storedAs

	stored := archive.NewHandler(s.archivePath(storedAs), s.cfg.MaxArchiveFileSize)
	previews, err := s.extractPreviews(ctx, stored, storedAs)
	if err != nil {
		if ctx.Err() != nil {
			s.discardArchive(storedAs)
			return nil, domain.ErrArchiveTimeout
		}
		s.discardArchive(storedAs)
		return nil, err
	}
	meta.PreviewURLs = previews
	return meta, nil
}

func (s *Checkin) archivePath(storedAs string) string {
	return filepath.Join(s.cfg.DataDir, "archives", storedAs)
}

func (s *Checkin) previewDir(storedAs string) string {
	return filepath.Join(s.cfg.DataDir, "previews", strings.TrimSuffix(storedAs, filepath.Ext(storedAs)))
}

// persistArchive copies the upload into the archive directory via a
// temp file and rename, so a stored name never points at a partial
// write.
func (s *Checkin) persistArchive(srcPath, storedAs string) error {
	dir := filepath.Join(s.cfg.DataDir, "archives")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, storedAs))
}

func (s *Checkin) discardArchive(storedAs string) {
	if err := os.Remove(s.archivePath(storedAs)); err != nil && !os.IsNotExist(err) {
		util.Warn().Err(err).Str("archive", storedAs).Msg("failed to remove archive")
	}
	_ = os.RemoveAll(s.previewDir(storedAs))
}

// extractPreviews picks representative images deterministically and
// writes them next to the archive. The returned paths are relative to
// the data directory.
func (s *Checkin) extractPreviews(ctx context.Context, h *archive.Handler, storedAs string) ([]string, error) {
	images, err := h.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, nil
	}
	selected := archive.SelectPreviews(images, s.cfg.PreviewCount)

	dir := s.previewDir(storedAs)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create preview dir")
	}
	var out []string
	for _, entry := range selected {
		data, name, err := h.ExtractEntry(ctx, entry)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			util.Debug().Err(err).Str("entry", archive.SanitizeName(entry)).Msg("preview extraction skipped")
			continue
		}
		if name == "" {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := os.WriteFile(dst, data, 0o640); err != nil {
			return nil, errors.Wrap(err, "write preview")
		}
		rel, err := filepath.Rel(s.cfg.DataDir, dst)
		if err != nil {
			rel = dst
		}
		out = append(out, filepath.ToSlash(rel))
	}
	return out, nil
}

// ListPublic returns the approved feed, newest first.
func (s *Checkin) ListPublic(ctx context.Context, limit, offset int) ([]*domain.CheckIn, error) {
	return s.db.List(ctx, domain.StatusApproved, limit, offset)
}

// ListByStatus is the moderation listing. StatusAny returns everything.
func (s *Checkin) ListByStatus(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.CheckIn, error) {
	if status != domain.StatusAny && !status.Valid() {
		return nil, domain.ErrInvalidRequest
	}
	return s.db.List(ctx, status, limit, offset)
}

func (s *Checkin) Get(ctx context.Context, id int64) (*domain.CheckIn, error) {
	return s.db.GetByID(ctx, id)
}

// Stats reports per-status counts plus the current blocklist size.
type Stats struct {
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Banned    int `json:"banned"`
	Blocklist int `json:"blocklist"`
}

func (s *Checkin) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.db.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Pending:   counts[domain.StatusPending],
		Approved:  counts[domain.StatusApproved],
		Banned:    counts[domain.StatusBanned],
		Blocklist: s.blocklist.Len(),
	}, nil
}

// Approve publishes a pending check-in.
func (s *Checkin) Approve(ctx context.Context, id int64) error {
	if err := s.db.Approve(ctx, id, s.now()); err != nil {
		return err
	}
	metrics.ModerationActions.WithLabelValues("approve").Inc()
	util.Info().Int64("id", id).Msg("check-in approved")
	return nil
}

// Reject moves a check-in to the terminal banned status without
// touching the blocklist. The row and its files are kept.
func (s *Checkin) Reject(ctx context.Context, id int64, reason string) error {
	if err := s.db.MarkBanned(ctx, id, reason, s.now()); err != nil {
		return err
	}
	metrics.ModerationActions.WithLabelValues("reject").Inc()
	util.Info().Int64("id", id).Msg("check-in rejected")
	return nil
}

// Ban rejects the check-in and permanently blocklists its submitter
// fingerprint, so future submissions from the same identity are denied
// at the gate.
func (s *Checkin) Ban(ctx context.Context, id int64, reason string) error {
	check, err := s.db.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if check.IPAddress != "" {
		if err := s.blocklist.Add(check.IPAddress); err != nil {
			return errors.Wrap(err, "blocklist submitter")
		}
	}
	if err := s.db.MarkBanned(ctx, id, reason, s.now()); err != nil {
		return err
	}
	metrics.ModerationActions.WithLabelValues("ban").Inc()
	util.Info().Int64("id", id).Msg("check-in banned")
	return nil
}

// ApproveBatch applies Approve to each id, skipping missing rows, and
// returns how many were updated.
func (s *Checkin) ApproveBatch(ctx context.Context, ids []int64) (int, error) {
	return s.batch(ctx, ids, func(ctx context.Context, id int64) error {
		return s.Approve(ctx, id)
	})
}

func (s *Checkin) RejectBatch(ctx context.Context, ids []int64, reason string) (int, error) {
	return s.batch(ctx, ids, func(ctx context.Context, id int64) error {
		return s.Reject(ctx, id, reason)
	})
}

func (s *Checkin) batch(ctx context.Context, ids []int64, op func(context.Context, int64) error) (int, error) {
	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		err := op(ctx, id)
		if errors.Is(err, domain.ErrCheckInNotFound) {
			continue
		}
		if err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// ArchivePreview is the browse view of an attached archive: counts from
// validation plus inline thumbnails, nothing persisted.
type ArchivePreview struct {
	Meta   *domain.ArchiveMeta   `json:"meta"`
	Images []domain.PreviewImage `json:"images"`
}

func (s *Checkin) archiveFor(ctx context.Context, id int64) (*domain.CheckIn, *archive.Handler, error) {
	check, err := s.db.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if check.FileType != domain.FileTypeArchive || check.ArchiveMeta == nil || check.ArchiveMeta.StoredAs == "" {
		return nil, nil, domain.ErrCheckInNotFound
	}
	return check, archive.NewHandler(s.archivePath(check.ArchiveMeta.StoredAs), s.cfg.MaxArchiveFileSize), nil
}

// PreviewArchive renders thumbnails for every image in the attached
// archive, on demand. Renderings are cached, so repeat browsing does not
// re-decode the archive.
func (s *Checkin) PreviewArchive(ctx context.Context, id int64) (*ArchivePreview, error) {
	check, handler, err := s.archiveFor(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()
	images, err := handler.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	storedAs := check.ArchiveMeta.StoredAs
	out := make([]domain.PreviewImage, 0, len(images))
	for _, name := range images {
		if ctx.Err() != nil {
			break
		}
		key := renderKey(storedAs, name, s.cfg.ThumbnailDim)
		uri, ok := s.rendered.Get(key)
		if !ok {
			uri, err = handler.Thumbnail(ctx, name, s.cfg.ThumbnailDim, 85)
			if err != nil {
				util.Debug().Err(err).Str("entry", archive.SanitizeName(name)).Msg("thumbnail skipped")
				metrics.ThumbnailFailures.Inc()
				continue
			}
			s.rendered.Set(key, uri, s.cfg.RenderCacheTTL)
		}
		out = append(out, domain.PreviewImage{
			Path:      name,
			Name:      archive.SanitizeName(name),
			Thumbnail: uri,
		})
	}
	return &ArchivePreview{Meta: check.ArchiveMeta, Images: out}, nil
}

// FullImage renders one archive entry at preview resolution as an
// inline data URI.
func (s *Checkin) FullImage(ctx context.Context, id int64, entry string) (string, error) {
	check, handler, err := s.archiveFor(ctx, id)
	if err != nil {
		return "", err
	}
	key := renderKey(check.ArchiveMeta.StoredAs, entry, s.cfg.PreviewDim)
	if uri, ok := s.rendered.Get(key); ok {
		return uri, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExtractTimeout)
	defer cancel()
	uri, err := handler.Preview(ctx, entry, s.cfg.PreviewDim)
	if err != nil {
		return "", err
	}
	s.rendered.Set(key, uri, s.cfg.RenderCacheTTL)
	return uri, nil
}

func renderKey(storedAs, entry string, dim int) string {
	return storedAs + "|" + entry + "|" + strconv.Itoa(dim)
}

// OpenArchive returns the stored archive bytes under the submitter's
// original filename. The caller owns the reader.
func (s *Checkin) OpenArchive(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	check, handler, err := s.archiveFor(ctx, id)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(handler.Path())
	if err != nil {
		return nil, "", errors.Wrap(err, "open archive")
	}
	name := check.ArchiveMeta.Filename
	if name == "" {
		name = check.ArchiveMeta.StoredAs
	}
	return f, name, nil
}

// Like records one like per submitter identity.
func (s *Checkin) Like(ctx context.Context, id int64, ip string) (int, error) {
	return s.db.Like(ctx, id, s.fp.Identity(ip), s.now())
}

func (s *Checkin) Unlike(ctx context.Context, id int64, ip string) (int, error) {
	return s.db.Unlike(ctx, id, s.fp.Identity(ip))
}
