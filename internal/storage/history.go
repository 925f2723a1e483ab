package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// History records observations and notification batches in Postgres.
// Every write is best-effort; the controller logs and moves on.
type History struct {
	db *pgxpool.Pool
}

func NewHistory(db *pgxpool.Pool) *History {
	return &History{db: db}
}

// EnsureSchema creates the history tables when they do not exist yet.
func (h *History) EnsureSchema(ctx context.Context) error {
	_, err := h.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS observations (
			id          BIGSERIAL PRIMARY KEY,
			page_url    TEXT NOT NULL,
			selector    TEXT NOT NULL,
			value       TEXT NOT NULL,
			changed     BOOLEAN NOT NULL,
			observed_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS notifications (
			id       BIGSERIAL PRIMARY KEY,
			page_url TEXT NOT NULL,
			value    TEXT NOT NULL,
			repeats  INT NOT NULL,
			sent_at  TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (h *History) RecordObservation(ctx context.Context, pageURL, selector, value string, changed bool, at time.Time) error {
	_, err := h.db.Exec(ctx, `
		INSERT INTO observations (page_url, selector, value, changed, observed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, pageURL, selector, value, changed, at)
	return err
}

func (h *History) RecordNotification(ctx context.Context, pageURL, value string, repeats int, at time.Time) error {
	_, err := h.db.Exec(ctx, `
		INSERT INTO notifications (page_url, value, repeats, sent_at)
		VALUES ($1, $2, $3, $4)
	`, pageURL, value, repeats, at)
	return err
}

// Observation is one recorded value, as exposed by the API.
type Observation struct {
	PageURL    string    `json:"page_url"`
	Selector   string    `json:"selector"`
	Value      string    `json:"value"`
	Changed    bool      `json:"changed"`
	ObservedAt time.Time `json:"observed_at"`
}

// Observations returns recorded values since from, newest first.
func (h *History) Observations(ctx context.Context, from time.Time, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := h.db.Query(ctx, `
		SELECT page_url, selector, value, changed, observed_at
		  FROM observations
		 WHERE observed_at >= $1
		 ORDER BY observed_at DESC
		 LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Observation, 0, limit)
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.PageURL, &o.Selector, &o.Value, &o.Changed, &o.ObservedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
