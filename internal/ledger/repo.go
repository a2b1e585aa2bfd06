package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type Repository interface {
	RegisterLinks(ctx context.Context, src Source, candidates []string) ([]string, error)
	MarkDone(ctx context.Context, link string) error
	ListPending(ctx context.Context, sourceName string, limit int) ([]Link, error)
	RecordFailure(ctx context.Context, link string, cause error) error
}

type PostgresRepo struct {
	db          *sql.DB
	maxAttempts int
}

func NewPostgresRepo(db *sql.DB, maxAttempts int) *PostgresRepo {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &PostgresRepo{db: db, maxAttempts: maxAttempts}
}

const linkColumns = `id, journal_name, article_link, specialization, scraped, attempts, last_error, next_attempt_at, discovered_at`

// RegisterLinks stores the candidates not yet in the ledger as pending and
// returns the links this call inserted. The unique constraint on
// article_link decides races between concurrent registrations.
func (r *PostgresRepo) RegisterLinks(ctx context.Context, src Source, candidates []string) ([]string, error) {
	links, err := normalizeBatch(candidates)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin register tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx, `SELECT article_link FROM article_links WHERE article_link = ANY($1)`, pq.Array(links))
	if err != nil {
		return nil, fmt.Errorf("query existing links: %w", err)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			rows.Close()
			return nil, err
		}
		existing[l] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var inserted []string
	for _, l := range links {
		if existing[l] {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO article_links (journal_name, article_link, specialization) VALUES ($1, $2, $3) ON CONFLICT (article_link) DO NOTHING`,
			src.Name, l, src.Category)
		if err != nil {
			return nil, fmt.Errorf("insert link: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted = append(inserted, l)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register tx: %w", err)
	}
	return inserted, nil
}

func (r *PostgresRepo) MarkDone(ctx context.Context, link string) error {
	query := `UPDATE article_links SET scraped = 'done', last_error = '', updated_at = NOW() WHERE article_link = $1 AND scraped = 'pending'`
	_, err := r.db.ExecContext(ctx, query, link)
	return err
}

func (r *PostgresRepo) ListPending(ctx context.Context, sourceName string, limit int) ([]Link, error) {
	query := `SELECT ` + linkColumns + ` FROM article_links WHERE journal_name = $1 AND scraped = 'pending' AND attempts < $2 AND next_attempt_at <= NOW() ORDER BY discovered_at ASC, id ASC LIMIT $3`
	return r.queryLinks(ctx, query, sourceName, r.maxAttempts, limit)
}

// RecordFailure counts a failed attempt and schedules the next one.
func (r *PostgresRepo) RecordFailure(ctx context.Context, link string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var attempts int
	query := `UPDATE article_links SET attempts = attempts + 1, last_error = $2, updated_at = NOW() WHERE article_link = $1 AND scraped = 'pending' RETURNING attempts`
	err = tx.QueryRowContext(ctx, query, link, msg).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	delay := RetryDelay(attempts)
	_, err = tx.ExecContext(ctx,
		`UPDATE article_links SET next_attempt_at = NOW() + ($2 * INTERVAL '1 second') WHERE article_link = $1`,
		link, int64(delay.Seconds()))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListExhausted returns pending links that used up their attempt budget.
func (r *PostgresRepo) ListExhausted(ctx context.Context, limit int) ([]Link, error) {
	query := `SELECT ` + linkColumns + ` FROM article_links WHERE scraped = 'pending' AND attempts >= $1 ORDER BY updated_at DESC LIMIT $2`
	return r.queryLinks(ctx, query, r.maxAttempts, limit)
}

// ResetAttempts re-arms an exhausted link and returns its source name.
func (r *PostgresRepo) ResetAttempts(ctx context.Context, link string) (string, error) {
	var source string
	query := `UPDATE article_links SET attempts = 0, next_attempt_at = NOW(), updated_at = NOW() WHERE article_link = $1 AND scraped = 'pending' RETURNING journal_name`
	err := r.db.QueryRowContext(ctx, query, link).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return source, err
}

func (r *PostgresRepo) ListBySource(ctx context.Context, sourceName string, status Status, limit int) ([]Link, error) {
	if status == "" {
		query := `SELECT ` + linkColumns + ` FROM article_links WHERE journal_name = $1 ORDER BY discovered_at DESC LIMIT $2`
		return r.queryLinks(ctx, query, sourceName, limit)
	}
	query := `SELECT ` + linkColumns + ` FROM article_links WHERE journal_name = $1 AND scraped = $2 ORDER BY discovered_at DESC LIMIT $3`
	return r.queryLinks(ctx, query, sourceName, string(status), limit)
}

func (r *PostgresRepo) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	query := `SELECT COUNT(*) FILTER (WHERE scraped = 'pending'), COUNT(*) FILTER (WHERE scraped = 'done'), COUNT(*) FILTER (WHERE scraped = 'pending' AND attempts >= $1) FROM article_links`
	err := r.db.QueryRowContext(ctx, query, r.maxAttempts).Scan(&c.Pending, &c.Done, &c.Exhausted)
	return c, err
}

// DeleteEmpty removes rows whose link is blank.
func (r *PostgresRepo) DeleteEmpty(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM article_links WHERE TRIM(article_link) = ''`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) queryLinks(ctx context.Context, query string, args ...interface{}) ([]Link, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		var status string
		if err := rows.Scan(&l.ID, &l.SourceName, &l.URL, &l.Category, &status, &l.Attempts, &l.LastError, &l.NextAttemptAt, &l.DiscoveredAt); err != nil {
			return nil, err
		}
		l.Status = Status(status)
		links = append(links, l)
	}
	return links, rows.Err()
}
