package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/campuscal/campuscal/internal/storage"
	"github.com/jackc/pgx/v5/pgconn"
)

// ObserveBackend satisfies storage.Observer.
func (p *Prom) ObserveBackend(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"

	if err != nil {
		status = "error"
		p.BackendErrorsTotal.WithLabelValues(op, classifyBackendErr(err)).Inc()
	}
	p.BackendCallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err

}

func classifyBackendErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique_violation"
		case "40001":
			return "serialization_failure"
		case "40P01":
			return "deadlock"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	switch {
	case errors.Is(err, storage.ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "connection") || errors.Is(err, storage.ErrUnavailable):
		return "connection"
	case strings.Contains(msg, "status 4"):
		return "rejected"
	default:
		return "unknown"
	}
}
