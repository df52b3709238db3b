package scheduler

import (
	"context"
	"database/sql"
	"time"
)

// SQLErrorLogPurger deletes error_logs rows older than a cutoff — the
// retention side of the structured-logger's database sink.
type SQLErrorLogPurger struct {
	db *sql.DB
}

// NewSQLErrorLogPurger wraps db.
func NewSQLErrorLogPurger(db *sql.DB) *SQLErrorLogPurger {
	return &SQLErrorLogPurger{db: db}
}

// PurgeOlderThan implements ErrorLogPurger.
func (p *SQLErrorLogPurger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM error_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
