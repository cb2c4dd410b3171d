package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"checkpost/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS check_ins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		media_files TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		ip_address TEXT NOT NULL,
		nickname TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		qq TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		love INTEGER NOT NULL DEFAULT 0,
		file_type TEXT NOT NULL DEFAULT 'media',
		archive_metadata TEXT,
		stored_as TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		review_reason TEXT NOT NULL DEFAULT '',
		reviewed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_check_ins_status_created ON check_ins(status, created_at DESC);
	CREATE TABLE IF NOT EXISTS likes (
		checkin_id INTEGER NOT NULL,
		identity TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (checkin_id, identity)
	);
	`
	_, err = s.db.Exec(query)
	return err
}

func (s *SQLite) Create(ctx context.Context, c *domain.CheckIn) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	media, err := json.Marshal(c.MediaFiles)
	if err != nil {
		return errors.Wrap(err, "marshal media files")
	}
	var archiveMeta sql.NullString
	var storedAs string
	if c.ArchiveMeta != nil {
		b, err := json.Marshal(c.ArchiveMeta)
		if err != nil {
			return errors.Wrap(err, "marshal archive metadata")
		}
		archiveMeta = sql.NullString{String: string(b), Valid: true}
		storedAs = c.ArchiveMeta.StoredAs
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO check_ins (content, media_files, created_at, ip_address, nickname, email, qq, url, avatar, file_type, archive_metadata, stored_as, status, review_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(queryCtx, q,
		c.Content, string(media), c.CreatedAt, c.IPAddress, c.Nickname, c.Email, c.QQ, c.URL, c.Avatar,
		c.FileType, archiveMeta, storedAs, c.Status, c.ReviewReason,
	)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db create")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "db create id")
	}
	c.ID = id
	return nil
}

const checkInCols = `id, content, media_files, created_at, ip_address, nickname, email, qq, url, avatar, love, file_type, archive_metadata, stored_as, status, review_reason, reviewed_at`

func scanCheckIn(row interface{ Scan(...interface{}) error }) (*domain.CheckIn, error) {
	var (
		c           domain.CheckIn
		media       string
		archiveMeta sql.NullString
		storedAs    string
		reviewedAt  sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.Content, &media, &c.CreatedAt, &c.IPAddress, &c.Nickname, &c.Email, &c.QQ, &c.URL, &c.Avatar,
		&c.Love, &c.FileType, &archiveMeta, &storedAs, &c.Status, &c.ReviewReason, &reviewedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(media), &c.MediaFiles); err != nil {
		return nil, errors.Wrap(err, "unmarshal media files")
	}
	if archiveMeta.Valid {
		var m domain.ArchiveMeta
		if err := json.Unmarshal([]byte(archiveMeta.String), &m); err != nil {
			return nil, errors.Wrap(err, "unmarshal archive metadata")
		}
		m.StoredAs = storedAs
		c.ArchiveMeta = &m
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		c.ReviewedAt = &t
	}
	return &c, nil
}

func (s *SQLite) GetByID(ctx context.Context, id int64) (*domain.CheckIn, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT ` + checkInCols + ` FROM check_ins WHERE id = ?`
	c, err := scanCheckIn(s.db.QueryRowContext(queryCtx, q, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrCheckInNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	return c, nil
}

// List returns check-ins newest first. StatusAny lifts the status
// filter; limit <= 0 falls back to a sane page size.
func (s *SQLite) List(ctx context.Context, status domain.Status, limit, offset int) ([]*domain.CheckIn, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if status == domain.StatusAny {
		q := `SELECT ` + checkInCols + ` FROM check_ins ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
		rows, err = s.db.QueryContext(queryCtx, q, limit, offset)
	} else {
		q := `SELECT ` + checkInCols + ` FROM check_ins WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
		rows, err = s.db.QueryContext(queryCtx, q, status, limit, offset)
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db list")
	}
	defer rows.Close()

	var out []*domain.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, errors.Wrap(err, "db list scan")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "db list rows")
}

func (s *SQLite) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, `SELECT status, COUNT(*) FROM check_ins GROUP BY status`)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db count")
	}
	defer rows.Close()
	counts := make(map[domain.Status]int)
	for rows.Next() {
		var status domain.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "db count scan")
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "db count rows")
}

// Approve publishes a pending check-in and stamps the review time.
// Already-approved rows are a no-op success; banned rows stay banned.
func (s *SQLite) Approve(ctx context.Context, id int64, now time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE check_ins SET status = ?, review_reason = '', reviewed_at = ? WHERE id = ? AND status != ?`
	res, err := s.db.ExecContext(queryCtx, q, domain.StatusApproved, now, id, domain.StatusBanned)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db approve")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCheckInNotFound
	}
	return nil
}

// MarkBanned flips a check-in to the terminal banned status. The row is
// kept; banned is the canonical removed state.
func (s *SQLite) MarkBanned(ctx context.Context, id int64, reason string, now time.Time) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `UPDATE check_ins SET status = ?, review_reason = ?, reviewed_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(queryCtx, q, domain.StatusBanned, reason, now, id)
	s.recordError(err)
	if err != nil {
		return errors.Wrap(err, "db ban")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCheckInNotFound
	}
	return nil
}

// Like records one like per identity fingerprint and returns the new
// count. A repeat like from the same identity is ErrAlreadyLiked.
func (s *SQLite) Like(ctx context.Context, id int64, identity string, now time.Time) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db like begin")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(queryCtx, `SELECT 1 FROM check_ins WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, domain.ErrCheckInNotFound
	}
	if err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db like lookup")
	}

	res, err := tx.ExecContext(queryCtx,
		`INSERT OR IGNORE INTO likes (checkin_id, identity, created_at) VALUES (?, ?, ?)`, id, identity, now)
	if err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db like insert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, domain.ErrAlreadyLiked
	}
	if _, err := tx.ExecContext(queryCtx, `UPDATE check_ins SET love = love + 1 WHERE id = ?`, id); err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db like count")
	}
	var love int
	if err := tx.QueryRowContext(queryCtx, `SELECT love FROM check_ins WHERE id = ?`, id).Scan(&love); err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db like read")
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db like commit")
	}
	s.recordError(nil)
	return love, nil
}

// Unlike removes an identity's like if present and returns the new count.
func (s *SQLite) Unlike(ctx context.Context, id int64, identity string) (int, error) {
	if err := s.checkCircuit(); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(queryCtx, nil)
	if err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db unlike begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(queryCtx, `DELETE FROM likes WHERE checkin_id = ? AND identity = ?`, id, identity)
	if err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db unlike delete")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(queryCtx,
			`UPDATE check_ins SET love = MAX(love - 1, 0) WHERE id = ?`, id); err != nil {
			s.recordError(err)
			return 0, errors.Wrap(err, "db unlike count")
		}
	}
	var love int
	err = tx.QueryRowContext(queryCtx, `SELECT love FROM check_ins WHERE id = ?`, id).Scan(&love)
	if err == sql.ErrNoRows {
		return 0, domain.ErrCheckInNotFound
	}
	if err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db unlike read")
	}
	if err := tx.Commit(); err != nil {
		s.recordError(err)
		return 0, errors.Wrap(err, "db unlike commit")
	}
	s.recordError(nil)
	return love, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
