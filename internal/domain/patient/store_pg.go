package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists documents as JSONB rows. created_at and updated_at live in
// their own columns so ON CONFLICT can advance one without touching the
// other; the rest of the document is opaque to Postgres apart from the
// expression indexes.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

var pgTableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// NewPGStore wraps an existing pool. The table name is interpolated into DDL
// and DML, so it is validated here rather than at every call site.
func NewPGStore(pool *pgxpool.Pool, table string) (*PGStore, error) {
	if !pgTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PGStore{pool: pool, table: table}, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureIndexes creates the table, the primary key on the business key, and
// expression indexes matching the document store's secondary lookups.
func (s *PGStore) EnsureIndexes(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    patient_id TEXT PRIMARY KEY,
    doc JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_name_normalized_idx ON %s ((doc->'name'->>'normalized'))`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_medical_condition_idx ON %s ((doc->>'medical_condition'))`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_admission_date_idx ON %s ((doc->'admission'->>'date'))`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema for %s: %w", s.table, err)
		}
	}
	return nil
}

// upsertSQL preserves created_at on conflict; xmax = 0 distinguishes a fresh
// insert from an updated row.
func (s *PGStore) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (patient_id, doc, created_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (patient_id) DO UPDATE
SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0)`, s.table)
}

// UpsertBatch pipelines the chunk through one pgx.Batch. A batch failure
// aborts the implicit transaction, so on a permanent error the chunk is
// replayed document by document to isolate the bad rows.
func (s *PGStore) UpsertBatch(ctx context.Context, docs []*Document) (BatchResult, error) {
	if len(docs) == 0 {
		return BatchResult{}, nil
	}

	result, err := s.sendBatch(ctx, docs)
	if err == nil {
		return result, nil
	}
	if isTransientPG(err) {
		return BatchResult{}, &WriteError{Transient: true, Err: err}
	}
	return s.upsertEach(ctx, docs)
}

func (s *PGStore) sendBatch(ctx context.Context, docs []*Document) (BatchResult, error) {
	batch := &pgx.Batch{}
	sql := s.upsertSQL()
	for _, doc := range docs {
		body, err := pgDocJSON(doc)
		if err != nil {
			return BatchResult{}, err
		}
		batch.Queue(sql, doc.PatientID, body, doc.CreatedAt, doc.UpdatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var result BatchResult
	for range docs {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			return BatchResult{}, err
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// upsertEach is the slow path: one statement per document, collecting
// per-document failures while the rest of the chunk proceeds.
func (s *PGStore) upsertEach(ctx context.Context, docs []*Document) (BatchResult, error) {
	var result BatchResult
	sql := s.upsertSQL()
	for _, doc := range docs {
		body, err := pgDocJSON(doc)
		if err != nil {
			result.Failed = append(result.Failed, &WriteError{Key: doc.PatientID, Err: err})
			continue
		}
		var inserted bool
		err = s.pool.QueryRow(ctx, sql, doc.PatientID, body, doc.CreatedAt, doc.UpdatedAt).Scan(&inserted)
		if err != nil {
			result.Failed = append(result.Failed, &WriteError{
				Key:       doc.PatientID,
				Transient: isTransientPG(err),
				Err:       err,
			})
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

func (s *PGStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

func (s *PGStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

// pgDocJSON renders the document body without the timestamp fields, which
// are stored as columns.
func pgDocJSON(doc *Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	delete(fields, "created_at")
	delete(fields, "updated_at")
	return json.Marshal(fields)
}

// isTransientPG marks connection loss, serialization failures, deadlocks,
// resource exhaustion, and shutdown states as retryable.
func isTransientPG(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		if code == "40001" || code == "40P01" || code == "57P03" {
			return true
		}
		if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") {
			return true
		}
	}
	return false
}
