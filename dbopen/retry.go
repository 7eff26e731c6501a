package dbopen

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Retries is the number of attempts Exec makes on a busy database.
const Retries = 3

// IsBusy reports whether err is an SQLite BUSY / locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec runs a statement, retrying busy errors with a linear backoff of
// 100ms per attempt. Other errors return immediately.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for i := 0; i < Retries; i++ {
		var res sql.Result
		res, err = db.ExecContext(ctx, query, args...)
		if !IsBusy(err) {
			return res, err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, err
}
