package db

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"

	"checkpost/svc/util"
)

const (
	defaultCheckpointInterval = 5 * time.Minute
	// A PASSIVE checkpoint that leaves this many log pages behind, or any
	// busy pages at all, escalates to TRUNCATE.
	truncateThresholdPages = 1000
)

// StartMaintenance runs periodic WAL checkpoints until the returned stop
// function is called. Stop blocks until a final checkpoint has run, so a
// clean shutdown never leaves a large WAL behind. interval <= 0 uses the
// default.
func (s *SQLite) StartMaintenance(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Checkpoint(); err != nil {
					util.Error().Err(err).Msg("WAL checkpoint failed")
				}
			case <-quit:
				if err := s.Checkpoint(); err != nil {
					util.Error().Err(err).Msg("final WAL checkpoint failed")
				}
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
		<-done
	}
}

// Checkpoint folds the WAL back into the database file and verifies
// integrity afterwards. A PASSIVE checkpoint runs first; TRUNCATE only
// when the log has outgrown the threshold or pages stayed busy.
func (s *SQLite) Checkpoint() error {
	start := time.Now()
	busy, logPages, moved, err := s.walCheckpoint("PASSIVE")
	if err != nil {
		return err
	}
	if busy > 0 || logPages > truncateThresholdPages {
		util.Info().Int("busy", busy).Int("log", logPages).Msg("escalating to TRUNCATE checkpoint")
		if busy, logPages, moved, err = s.walCheckpoint("TRUNCATE"); err != nil {
			return err
		}
	}
	if err := s.verifyIntegrity(); err != nil {
		return err
	}
	util.Debug().
		Int("busy", busy).
		Int("log", logPages).
		Int("checkpointed", moved).
		Dur("duration", time.Since(start)).
		Msg("WAL checkpoint completed")
	return nil
}

func (s *SQLite) walCheckpoint(mode string) (busy, logPages, moved int, err error) {
	err = s.db.QueryRow("PRAGMA wal_checkpoint(" + mode + ")").Scan(&busy, &logPages, &moved)
	if err != nil && err != sql.ErrNoRows {
		return 0, 0, 0, errors.Wrapf(err, "%s checkpoint", mode)
	}
	return busy, logPages, moved, nil
}

func (s *SQLite) verifyIntegrity() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.Wrap(err, "integrity check")
	}
	if result != "ok" {
		return errors.Errorf("integrity check returned %q", result)
	}
	return nil
}
