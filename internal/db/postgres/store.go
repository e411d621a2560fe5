// Package postgres keeps the reference corpus in PostgreSQL with the pgvector
// extension. It implements matching.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Register the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// DefaultTable is the table the reference corpus lives in.
const DefaultTable = "copyrighted_content"

// Config holds connection and schema parameters.
type Config struct {
	DSN             string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is a pgvector-backed reference corpus.
type Store struct {
	db    *sql.DB
	table string
	space domain.EmbeddingSpace
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config, space domain.EmbeddingSpace) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("dsn is required")
	}
	if space.Dimensions <= 0 {
		return nil, errors.New("embedding space dimensions must be positive")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !validIdentifier(table) {
		return nil, errors.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return &Store{db: db, table: table, space: space}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "ping")
	}
	return nil
}

// Space implements matching.Store.
func (s *Store) Space() domain.EmbeddingSpace { return s.space }

// EnsureSchema creates the vector extension, table and HNSW index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.table, s.space.Dimensions) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to apply schema: %s", firstLine(stmt))
		}
	}
	return nil
}

// Insert stores item and returns it with its assigned ID and timestamp.
func (s *Store) Insert(ctx context.Context, item domain.ReferenceItem) (domain.ReferenceItem, error) {
	if item.Space.IsZero() {
		item.Space = s.space
	}
	if err := s.space.Check(item.Space); err != nil {
		return domain.ReferenceItem{}, err
	}
	if err := s.space.Validate(item.Vector); err != nil {
		return domain.ReferenceItem{}, err
	}
	if item.ContentKind == "" {
		item.ContentKind = domain.ContentImage
	}

	stmt := `INSERT INTO ` + s.table + ` (filename, embedding, content_type)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	var id int64
	err := s.db.QueryRowContext(ctx, stmt,
		item.Label, pgvector.NewVector(item.Vector), string(item.ContentKind),
	).Scan(&id, &item.CreatedAt)
	if err != nil {
		return domain.ReferenceItem{}, errors.Wrap(err, "failed to insert reference item")
	}
	item.ID = strconv.FormatInt(id, 10)
	return item, nil
}

// Nearest implements matching.Store.
func (s *Store) Nearest(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error) {
	if k <= 0 {
		return []domain.Neighbor{}, nil
	}
	if err := s.space.Validate(vector); err != nil {
		return nil, err
	}

	// <=> is cosine distance, so similarity is 1 - distance.
	query := `SELECT id, filename, content_type, created_at, 1 - (embedding <=> $1) AS similarity
		FROM ` + s.table + `
		ORDER BY embedding <=> $1, id
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	out := make([]domain.Neighbor, 0, k)
	for rows.Next() {
		var n domain.Neighbor
		if err := s.scanItem(rows, &n.Item, &n.Similarity); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate vector search")
	}
	return out, nil
}

// FindByLabel implements matching.Store.
func (s *Store) FindByLabel(ctx context.Context, token string, limit int) ([]domain.ReferenceItem, error) {
	out := []domain.ReferenceItem{}
	token = strings.TrimSpace(token)
	if token == "" || limit <= 0 {
		return out, nil
	}

	query := `SELECT id, filename, content_type, created_at
		FROM ` + s.table + `
		WHERE LOWER(filename) LIKE $1 ESCAPE '\'
		ORDER BY id
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, "%"+escapeLike(strings.ToLower(token))+"%", limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search by label")
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.ReferenceItem
		if err := s.scanItem(rows, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate label search")
	}
	return out, nil
}

// Count returns the number of stored reference items.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count reference items")
	}
	return n, nil
}

func (s *Store) scanItem(rows *sql.Rows, item *domain.ReferenceItem, extra ...any) error {
	var (
		id   int64
		kind sql.NullString
	)
	dest := append([]any{&id, &item.Label, &kind, &item.CreatedAt}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return errors.Wrap(err, "failed to scan reference item")
	}
	item.ID = strconv.FormatInt(id, 10)
	item.Space = s.space
	item.ContentKind = domain.ContentImage
	if kind.Valid && kind.String != "" {
		item.ContentKind = domain.ContentKind(kind.String)
	}
	return nil
}

func schemaStatements(table string, dims int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	filename TEXT NOT NULL,
	embedding vector(%d) NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'image',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, table, table),
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string { return likeEscaper.Replace(s) }

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		if !isLower && r != '_' && (!isDigit || i == 0) {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
