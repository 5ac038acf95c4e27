package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/GoPolymarket/feedgate/internal/journal"
	"github.com/GoPolymarket/feedgate/internal/model"
)

type PostgresJournalRepo struct {
	db *sqlx.DB
}

func NewPostgresJournalRepo(ctx context.Context, db *sqlx.DB) (*PostgresJournalRepo, error) {
	repo := &PostgresJournalRepo{db: db}
	if err := repo.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *PostgresJournalRepo) Insert(ctx context.Context, ev *model.FeedEvent) error {
	if ev == nil {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO feed_events (
			id, kind, exchange, symbol, channel, subscriber, detail, created_at
		) VALUES (
			:id, :kind, :exchange, :symbol, :channel, :subscriber, :detail, :created_at
		)
		ON CONFLICT (id) DO NOTHING
	`, ev)
	return err
}

func (r *PostgresJournalRepo) List(ctx context.Context, f journal.Filter, limit int) ([]*model.FeedEvent, error) {
	query, args := buildListQuery(f, limit)
	records := make([]*model.FeedEvent, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, err
	}
	return records, nil
}

func buildListQuery(f journal.Filter, limit int) (string, []interface{}) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, kind, exchange, symbol, channel, subscriber, detail, created_at FROM feed_events`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if f.Exchange != "" {
		clauses = append(clauses, fmt.Sprintf("exchange = $%d", idx))
		args = append(args, f.Exchange)
		idx++
	}
	if f.Kind != "" {
		clauses = append(clauses, fmt.Sprintf("kind = $%d", idx))
		args = append(args, string(f.Kind))
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)
	return query, args
}

func (r *PostgresJournalRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS feed_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			exchange TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL DEFAULT '',
			subscriber TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_feed_events_exchange ON feed_events(exchange, created_at DESC)`)
	return nil
}

func (r *PostgresJournalRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM feed_events WHERE created_at < $1`, cutoff)
	return err
}
