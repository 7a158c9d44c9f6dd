package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventsRepo struct {
	pool *pgxpool.Pool
}

// constructor function

func NewEventsRepo(pool *pgxpool.Pool) *EventsRepo {
	return &EventsRepo{
		pool: pool,
	}
}

func (r *EventsRepo) Name() string { return "postgres" }

const eventColumns = `id, title, description, club_name, date, start_time, end_time, location, image, created_at, updated_at`

func (r *EventsRepo) List(ctx context.Context) ([]event.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+eventColumns+`
		FROM events
		ORDER BY date ASC, start_time ASC, created_at ASC, id ASC`)

	if err != nil {
		return nil, wrapConnErr(err)
	}

	defer rows.Close()

	output := make([]event.Event, 0)

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		output = append(output, e)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapConnErr(err)
	}

	return output, nil
}

func (r *EventsRepo) Create(ctx context.Context, e event.Event) (event.Event, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO events(`+eventColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+eventColumns,
		e.ID, e.Title, e.Description, e.ClubName, e.Date, e.StartTime, e.EndTime, e.Location, e.Image, e.CreatedAt, e.UpdatedAt)

	stored, err := scanEvent(row)
	if err != nil {
		if IsUniqueViolation(err) {
			return event.Event{}, storage.ErrDuplicateID
		}

		return event.Event{}, wrapConnErr(err)
	}

	return stored, nil
}

func (r *EventsRepo) Delete(ctx context.Context, id string) (bool, error) {
	query, err := r.pool.Exec(ctx, `
		DELETE from events WHERE id = $1
	`, id)

	if err != nil {
		return false, wrapConnErr(err)
	}

	// if no rows were deleted the id was unknown; that is not an error here
	return query.RowsAffected() > 0, nil
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func scanEvent(row pgx.Row) (event.Event, error) {
	var e event.Event
	var date time.Time

	err := row.Scan(
		&e.ID,
		&e.Title,
		&e.Description,
		&e.ClubName,
		&date,
		&e.StartTime,
		&e.EndTime,
		&e.Location,
		&e.Image,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return event.Event{}, err
	}

	e.Date = date.Format(event.DateLayout)

	return e, nil
}

// server-side errors (SQLSTATE) pass through untouched; everything else is a
// reachability problem
func wrapConnErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}

	return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
}
