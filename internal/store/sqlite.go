package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/model"
)

// SQLiteStore is an embedded Store for single-node deployments and local
// development. Documents are stored as JSON text; predicate queries use the
// json_extract family.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger

	timeout time.Duration
}

// SQLiteConfig holds connection configuration
type SQLiteConfig struct {
	// Path is the database file, or ":memory:"
	Path           string
	MaxConnections int
	OpTimeout      time.Duration
}

// NewSQLiteStore opens the database file and verifies connectivity
func NewSQLiteStore(ctx context.Context, cfg *SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.StoreUnavailable("failed to open sqlite database", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.StoreUnavailable("sqlite unreachable", err)
	}

	logger.Info("SQLite store opened",
		zap.String("path", cfg.Path),
		zap.Int("max_connections", cfg.MaxConnections))

	return &SQLiteStore{
		db:      db,
		logger:  logger,
		timeout: cfg.OpTimeout,
	}, nil
}

// EnsureTable creates the backing table and an index on updated_at. SQLite
// has no native JSON-path index; predicate queries scan with json_extract.
func (s *SQLiteStore) EnsureTable(ctx context.Context, table string, schemaHint map[string]string) error {
	phys, ok := physicalTable(table)
	if !ok {
		return errors.InvalidTable(table, "not a valid SQL identifier")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, phys)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.SchemaError(table, "create table failed", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s (updated_at)`, phys, phys)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return errors.SchemaError(table, "create index failed", err)
	}

	s.logger.Info("Ensured table", zap.String("table", phys))
	return nil
}

// Fetch returns the document stored under (table, key), or nil when absent
func (s *SQLiteStore) Fetch(ctx context.Context, table, key string) (model.Document, error) {
	phys, ok := physicalTable(table)
	if !ok {
		return nil, errors.InvalidTable(table, "not a valid SQL identifier")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE key = ?`, phys), key).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, s.connErr("fetch failed", err)
	}

	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.InternalError("corrupted document", err).
			WithDetail("table", table).
			WithDetail("key", key)
	}
	return doc, nil
}

// UpsertBatch executes one upsert statement per item. Each statement is
// atomic on its own; a failing item is skipped and the rest of the batch
// still runs, so the acked set can have holes.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, table string, items []UpsertItem) ([]string, error) {
	phys, ok := physicalTable(table)
	if !ok {
		return nil, errors.InvalidTable(table, "not a valid SQL identifier")
	}
	if len(items) == 0 {
		return nil, nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	stmt := fmt.Sprintf(`
		INSERT INTO %s (key, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`, phys)

	acked := make([]string, 0, len(items))
	var firstErr error
	for _, item := range items {
		raw, err := json.Marshal(item.Document)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.InternalError("document not JSON-serializable", err).
					WithDetail("key", item.Key)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt, item.Key, raw); err != nil {
			if firstErr == nil {
				firstErr = s.itemErr(table, item.Key, err)
			}
			continue
		}
		acked = append(acked, item.Key)
	}
	return acked, firstErr
}

// Query forwards an opaque predicate, e.g. json_extract(data,'$.status') = 'active'
func (s *SQLiteStore) Query(ctx context.Context, table, predicate string, limit int) ([]model.Document, error) {
	phys, ok := physicalTable(table)
	if !ok {
		return nil, errors.InvalidTable(table, "not a valid SQL identifier")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT key, data FROM %s`, phys)
	if predicate != "" {
		query += " WHERE " + predicate
	}
	query += " LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, s.queryErr(err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, s.connErr("query scan failed", err)
		}
		var doc model.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, errors.InternalError("corrupted document", err).WithDetail("key", key)
		}
		doc["_key"] = key
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, s.queryErr(err)
	}
	return docs, nil
}

// Ping verifies connectivity
func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return errors.StoreUnavailable("sqlite unreachable", err)
	}
	return nil
}

// Close releases the database handle
func (s *SQLiteStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close sqlite database", zap.Error(err))
	}
}

func (s *SQLiteStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SQLiteStore) connErr(message string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(message, err)
	}
	return errors.StoreUnavailable(message, err)
}

func (s *SQLiteStore) itemErr(table, key string, err error) error {
	if isMissingTable(err) {
		return errors.SchemaError(table, "upsert rejected by store", err).WithDetail("key", key)
	}
	return s.connErr("upsert failed", err)
}

func (s *SQLiteStore) queryErr(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout("query timed out", err)
	}
	return errors.QueryError("query rejected by store", err)
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
