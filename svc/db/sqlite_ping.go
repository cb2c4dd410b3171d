package db

import (
	"context"

	"github.com/pkg/errors"
)

// Ping verifies the database is serviceable. It goes through the
// circuit breaker so a health probe reports an open circuit instead of
// piling more load on a failing database.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var one int
	err := s.db.QueryRowContext(queryCtx, "SELECT 1").Scan(&one)
	s.recordError(err)
	return errors.Wrap(err, "db ping")
}
