package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/model"
)

// PostgresStore is the production Store backed by PostgreSQL. Documents live
// in a JSONB column with a GIN index for predicate queries; updated_at is set
// by the server clock on every upsert.
type PostgresStore struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	timeout time.Duration
}

// PostgresConfig holds connection configuration
type PostgresConfig struct {
	DSN            string
	MaxConnections int
	OpTimeout      time.Duration
}

// NewPostgresStore opens a bounded connection pool and verifies connectivity
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.StoreUnavailable("invalid postgres DSN", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.StoreUnavailable("failed to open postgres pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.StoreUnavailable("postgres unreachable", err)
	}

	logger.Info("Postgres store opened",
		zap.Int("max_connections", cfg.MaxConnections))

	return &PostgresStore{
		pool:    pool,
		logger:  logger,
		timeout: cfg.OpTimeout,
	}, nil
}

// EnsureTable creates the backing table and its JSON-path index
func (s *PostgresStore) EnsureTable(ctx context.Context, table string, schemaHint map[string]string) error {
	phys, ok := physicalTable(table)
	if !ok {
		return errors.InvalidTable(table, "not a valid SQL identifier")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, phys)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return s.schemaErr(table, "create table failed", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_data ON %s USING GIN (data)`, phys, phys)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return s.schemaErr(table, "create index failed", err)
	}

	s.logger.Info("Ensured table", zap.String("table", phys))
	return nil
}

// Fetch returns the document stored under (table, key), or nil when absent
func (s *PostgresStore) Fetch(ctx context.Context, table, key string) (model.Document, error) {
	phys, ok := physicalTable(table)
	if !ok {
		return nil, errors.InvalidTable(table, "not a valid SQL identifier")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var raw []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT data FROM %s WHERE key = $1`, phys), key).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		// Missing table reads as an absent key: nothing was ever flushed.
		if isUndefinedTable(err) {
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

// UpsertBatch pipelines one upsert per item and returns the acknowledged
// keys. An item whose document cannot be serialized is never queued. The
// pipeline aborts at the first failing item, so the acked set is a prefix of
// the queued items; unacknowledged items stay dirty and retry on the next
// flush.
func (s *PostgresStore) UpsertBatch(ctx context.Context, table string, items []UpsertItem) ([]string, error) {
	phys, ok := physicalTable(table)
	if !ok {
		return nil, errors.InvalidTable(table, "not a valid SQL identifier")
	}
	if len(items) == 0 {
		return nil, nil
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sql := fmt.Sprintf(`
		INSERT INTO %s (key, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`, phys)

	batch := &pgx.Batch{}
	queued := make([]string, 0, len(items))
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
		batch.Queue(sql, item.Key, raw)
		queued = append(queued, item.Key)
	}

	results := s.pool.SendBatch(ctx, batch)
	acked := make([]string, 0, len(queued))
	for _, key := range queued {
		if _, err := results.Exec(); err != nil {
			if firstErr == nil {
				firstErr = s.itemErr(table, key, err)
			}
			break
		}
		acked = append(acked, key)
	}
	if err := results.Close(); err != nil && firstErr == nil {
		firstErr = s.connErr("batch close failed", err)
	}
	return acked, firstErr
}

// Query forwards an opaque predicate. Results carry the primary key under
// "_key" alongside the document fields.
func (s *PostgresStore) Query(ctx context.Context, table, predicate string, limit int) ([]model.Document, error) {
	phys, ok := physicalTable(table)
	if !ok {
		return nil, errors.InvalidTable(table, "not a valid SQL identifier")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sql := fmt.Sprintf(`SELECT key, data FROM %s`, phys)
	if predicate != "" {
		sql += " WHERE " + predicate
	}
	sql += " LIMIT $1"

	rows, err := s.pool.Query(ctx, sql, limit)
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
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return errors.StoreUnavailable("postgres unreachable", err)
	}
	return nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStore) connErr(message string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(message, err)
	}
	return errors.StoreUnavailable(message, err)
}

func (s *PostgresStore) itemErr(table, key string, err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "42" {
		return errors.SchemaError(table, "upsert rejected by store", err).WithDetail("key", key)
	}
	return s.connErr("upsert failed", err)
}

func (s *PostgresStore) schemaErr(table, message string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout(message, err)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return errors.SchemaError(table, message, err)
	}
	return errors.StoreUnavailable(message, err)
}

func (s *PostgresStore) queryErr(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout("query timed out", err)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return errors.QueryError("query rejected by store", err)
	}
	return errors.StoreUnavailable("query failed", err)
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "42P01"
}
