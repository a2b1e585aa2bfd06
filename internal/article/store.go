package article

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"medrag/internal/text"
)

type Repository interface {
	EnsureSchema(ctx context.Context, category string) error
	UpsertArticle(ctx context.Context, rec Record) (bool, error)
	MarkEmbeddingStatus(ctx context.Context, category, url string, status EmbeddingStatus) error
	ListPendingEmbeddings(ctx context.Context, category string, limit int) ([]Record, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var recordColumns = []string{
	"id", "article_url", "title", "abstract", "journal_title", "publisher",
	"volume", "issue", "publication_date", "issn", "language", "identifier",
	"authors", "contributors", "pdf_link", "summary", "keywords",
	"ingestion_date", "embeddings",
}

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
    id BIGSERIAL PRIMARY KEY,
    article_url TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT 'N/A',
    abstract TEXT NOT NULL DEFAULT 'N/A',
    journal_title TEXT NOT NULL DEFAULT 'N/A',
    publisher TEXT NOT NULL DEFAULT 'N/A',
    volume TEXT NOT NULL DEFAULT 'N/A',
    issue TEXT NOT NULL DEFAULT 'N/A',
    publication_date DATE,
    issn TEXT NOT NULL DEFAULT 'N/A',
    language TEXT NOT NULL DEFAULT 'N/A',
    identifier TEXT NOT NULL DEFAULT 'N/A',
    authors TEXT NOT NULL DEFAULT 'N/A',
    contributors TEXT NOT NULL DEFAULT 'N/A',
    pdf_link TEXT NOT NULL DEFAULT 'N/A',
    summary TEXT NOT NULL DEFAULT 'N/A',
    keywords TEXT NOT NULL DEFAULT 'N/A',
    ingestion_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    embeddings TEXT,
    CONSTRAINT %[1]s_article_url_key UNIQUE (article_url)
);
CREATE INDEX IF NOT EXISTS %[1]s_embeddings_idx ON %[1]s (embeddings)`

// undefinedTable is the Postgres error code for a missing relation.
const undefinedTable = "42P01"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context, category string) error {
	table, err := TableName(category)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(schemaTemplate, table)); err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	return nil
}

// UpsertArticle inserts the record unless its URL is already stored. The
// existing row is never refreshed; inserted reports whether a row was added.
func (s *PostgresStore) UpsertArticle(ctx context.Context, rec Record) (bool, error) {
	table, err := TableName(rec.Category)
	if err != nil {
		return false, err
	}
	if !text.IsAvailable(rec.URL) {
		return false, fmt.Errorf("upsert article: empty url")
	}

	ingested := rec.IngestionDate
	if ingested.IsZero() {
		ingested = time.Now().UTC()
	}
	var published interface{}
	if rec.PublicationDate != nil {
		published = rec.PublicationDate.Format("2006-01-02")
	}

	query, args, err := psql.Insert(table).
		Columns(
			"article_url", "title", "abstract", "journal_title", "publisher",
			"volume", "issue", "publication_date", "issn", "language",
			"identifier", "authors", "contributors", "pdf_link", "summary",
			"keywords", "ingestion_date",
		).
		Values(
			rec.URL, text.OrNA(rec.Title), text.OrNA(rec.Abstract),
			text.OrNA(rec.JournalTitle), text.OrNA(rec.Publisher),
			text.OrNA(rec.Volume), text.OrNA(rec.Issue), published,
			text.OrNA(rec.ISSN), text.OrNA(rec.Language),
			text.OrNA(rec.Identifier), text.OrNA(rec.Authors),
			text.OrNA(rec.Contributors), text.OrNA(rec.PDFLink),
			text.OrNA(rec.Summary), text.OrNA(rec.Keywords), ingested,
		).
		Suffix("ON CONFLICT (article_url) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert article %s: %w", rec.URL, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) MarkEmbeddingStatus(ctx context.Context, category, url string, status EmbeddingStatus) error {
	table, err := TableName(category)
	if err != nil {
		return err
	}
	query, args, err := psql.Update(table).
		Set("embeddings", string(status)).
		Where(sq.Eq{"article_url": url}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark embeddings %s: %w", url, err)
	}
	return nil
}

// ListPendingEmbeddings returns records whose vectors are not yet confirmed,
// oldest first.
func (s *PostgresStore) ListPendingEmbeddings(ctx context.Context, category string, limit int) ([]Record, error) {
	table, err := TableName(category)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	query, args, err := psql.Select(recordColumns...).
		From(table).
		Where(sq.Or{sq.Eq{"embeddings": nil}, sq.NotEq{"embeddings": string(EmbeddingDone)}}).
		OrderBy("id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending embeddings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r          Record
			published  sql.NullTime
			embeddings sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.URL, &r.Title, &r.Abstract, &r.JournalTitle, &r.Publisher,
			&r.Volume, &r.Issue, &published, &r.ISSN, &r.Language, &r.Identifier,
			&r.Authors, &r.Contributors, &r.PDFLink, &r.Summary, &r.Keywords,
			&r.IngestionDate, &embeddings,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if published.Valid {
			t := published.Time
			r.PublicationDate = &t
		}
		r.Embeddings = EmbeddingPending
		if embeddings.Valid && embeddings.String != "" {
			r.Embeddings = EmbeddingStatus(embeddings.String)
		}
		r.Category = category
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts reports record and embedded totals per category. A category whose
// table has not been created yet counts as empty.
func (s *PostgresStore) Counts(ctx context.Context, categories []string) (map[string]CategoryCount, error) {
	out := make(map[string]CategoryCount, len(categories))
	for _, category := range categories {
		table, err := TableName(category)
		if err != nil {
			return nil, err
		}
		query, args, err := psql.Select("COUNT(*)", "COUNT(*) FILTER (WHERE embeddings = 'done')").
			From(table).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build count: %w", err)
		}
		var c CategoryCount
		err = s.db.QueryRowContext(ctx, query, args...).Scan(&c.Records, &c.Embedded)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
			out[category] = CategoryCount{}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[category] = c
	}
	return out, nil
}
