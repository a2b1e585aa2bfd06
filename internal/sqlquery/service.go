// Package sqlquery turns a natural-language request into one read-only
// PostgreSQL query over the article tables and phrases the result.
package sqlquery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
)

type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Options struct {
	RowLimit         int
	StatementTimeout time.Duration
	// Role, when set, is assumed for the generated statement. It should hold
	// SELECT on the article tables only.
	Role string
}

// Service answers requests against the tables it was given.
type Service struct {
	llm    Completer
	db     *sql.DB
	tables []string
	opts   Options
}

func NewService(llm Completer, db *sql.DB, tables []string, opts Options) *Service {
	if opts.RowLimit <= 0 {
		opts.RowLimit = 50
	}
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = 10 * time.Second
	}
	return &Service{llm: llm, db: db, tables: tables, opts: opts}
}

const sqlSystem = `You are a PostgreSQL expert. Given an input question, write one syntactically correct PostgreSQL SELECT statement that answers it.
Only use the tables and columns listed below. Never modify data. Query at most %d rows unless the question asks for a specific number.
Use UNION ALL across specialization tables when the question is not limited to one specialization. Return only the SQL, without explanation or markdown.

Tables:
%s`

const answerSystem = `You answer questions about medical journal articles using the result of a SQL query. Be concise and cite article titles and URLs from the result when present. If the result is empty, say that no matching articles were found.`

// Answer implements the structured-query step of the retrieval engine.
func (s *Service) Answer(ctx context.Context, query, contextJSON, dateFilter string) (string, error) {
	schema, err := s.describe(ctx)
	if err != nil {
		return "", err
	}
	if schema == "" {
		return "", fmt.Errorf("no article tables available")
	}

	prompt := fmt.Sprintf(
		"Convert the following natural language request into a PostgreSQL query. "+
			"Ensure to handle time expressions like 'last week' or 'December 2024'. "+
			"%sUser request: %s. Context: %s.",
		dateFilter, query, contextJSON,
	)

	reply, err := s.llm.Complete(ctx, fmt.Sprintf(sqlSystem, s.opts.RowLimit, schema), prompt)
	if err != nil {
		return "", fmt.Errorf("generate sql: %w", err)
	}
	stmt := ExtractSQL(reply)
	if err := s.validate(stmt); err != nil {
		slog.WarnContext(ctx, "rejected generated sql", "sql", stmt, "error", err)
		return "", err
	}

	rows, err := s.Execute(ctx, stmt)
	if err != nil {
		return "", err
	}
	result, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}

	answer, err := s.llm.Complete(ctx, answerSystem,
		fmt.Sprintf("Question: %s\nSQLQuery: %s\nSQLResult: %s\nAnswer:", query, stmt, result))
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}

func (s *Service) validate(stmt string) error {
	if err := ValidateReadOnly(stmt); err != nil {
		return err
	}
	return ValidateTables(stmt, s.tables)
}

// Execute runs a validated SELECT over the article tables inside a
// read-only transaction with a statement timeout and returns at most
// RowLimit rows.
func (s *Service) Execute(ctx context.Context, stmt string) ([]map[string]interface{}, error) {
	if err := s.validate(stmt); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer tx.Rollback()

	timeout := fmt.Sprintf("SET LOCAL statement_timeout = %d", s.opts.StatementTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeout); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}
	if s.opts.Role != "" {
		if _, err := tx.ExecContext(ctx, "SET LOCAL ROLE "+pq.QuoteIdentifier(s.opts.Role)); err != nil {
			return nil, fmt.Errorf("set query role: %w", err)
		}
	}

	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", stmt, s.opts.RowLimit)
	rows, err := tx.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, fmt.Errorf("run generated sql: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[c] = string(v)
			case time.Time:
				row[c] = v.Format("2006-01-02")
			default:
				row[c] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// describe lists the columns of every known article table that exists.
func (s *Service) describe(ctx context.Context) (string, error) {
	if len(s.tables) == 0 {
		return "", nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'public' AND table_name = ANY($1) ORDER BY table_name, ordinal_position`,
		pq.Array(s.tables))
	if err != nil {
		return "", fmt.Errorf("describe tables: %w", err)
	}
	defer rows.Close()

	var (
		b       strings.Builder
		current string
	)
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		if table != current {
			if current != "" {
				b.WriteString(")\n")
			}
			b.WriteString(table + "(")
			current = table
		} else {
			b.WriteString(", ")
		}
		b.WriteString(column + " " + dataType)
	}
	if current != "" {
		b.WriteString(")\n")
	}
	return b.String(), rows.Err()
}
