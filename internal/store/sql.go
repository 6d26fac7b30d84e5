package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ajitpratap0/microplan/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const (
	documentsTable = "documents"
	writeQueueSize = 256
	writeTimeout   = 10 * time.Second
)

type writeOp struct {
	collection string
	doc        Document
	barrier    chan struct{}
}

// SQLStore persists documents in SQLite or PostgreSQL. Writes are applied in
// submission order by a single background writer.
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	hub     *hub
	errs    *errorSink
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan writeOp
	wg     sync.WaitGroup
}

// OpenSQL opens the database, applies migrations and starts the writer.
func OpenSQL(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	var (
		dialect     goose.Dialect
		placeholder sq.PlaceholderFormat
	)
	switch driver {
	case DriverSQLite:
		dialect, placeholder = goose.DialectSQLite3, sq.Question
	case DriverPostgres:
		dialect, placeholder = goose.DialectPostgres, sq.Dollar
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection serialises access and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s: %w", driver, err)
	}
	if err := migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		errs:    newErrorSink(logger),
		logger:  logger,
		queue:   make(chan writeOp, writeQueueSize),
	}
	s.hub = newHub(s.load, logger)
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func (s *SQLStore) load(collection string) ([]Document, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	query, args, err := s.builder.
		Select("id", "fields").
		From(documentsTable).
		Where(sq.Eq{"collection": collection}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", collection, err)
		}
		fields, err := decodeFields([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", Path(collection, id), err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	return docs, rows.Err()
}

// Subscribe implements Store.
func (s *SQLStore) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if q.Collection == "" {
		return nil, models.NewValidationError("collection", "is required")
	}
	return s.hub.subscribe(ctx, q)
}

// Write implements Store. A document without an ID is assigned a random one.
func (s *SQLStore) Write(ctx context.Context, collection string, doc Document) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.reject(collection, doc, ErrClosed)
		return
	}
	select {
	case s.queue <- writeOp{collection: collection, doc: doc}:
	case <-ctx.Done():
		s.reject(collection, doc, ctx.Err())
	}
}

// Flush implements Store.
func (s *SQLStore) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- writeOp{barrier: barrier}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLStore) writer() {
	defer s.wg.Done()
	for op := range s.queue {
		if op.barrier != nil {
			close(op.barrier)
			continue
		}
		if err := s.upsert(op.collection, op.doc); err != nil {
			s.reject(op.collection, op.doc, err)
			continue
		}
		s.hub.publish(op.collection)
	}
}

func (s *SQLStore) upsert(collection string, doc Document) error {
	raw, err := encodeFields(doc.Fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	query, args, err := s.builder.
		Insert(documentsTable).
		Columns("collection", "id", "fields", "updated_at").
		Values(collection, doc.ID, string(raw), time.Now().UnixNano()).
		Suffix("ON CONFLICT (collection, id) DO UPDATE SET fields = excluded.fields, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building upsert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting %s: %w", Path(collection, doc.ID), err)
	}
	s.logger.Debug("document written", "path", Path(collection, doc.ID))
	return nil
}

func (s *SQLStore) reject(collection string, doc Document, cause error) {
	s.errs.publish(&models.StoreError{
		Path:          Path(collection, doc.ID),
		Operation:     OpWrite,
		AttemptedData: doc.Fields,
		Cause:         cause,
	})
}

// Errors implements Store.
func (s *SQLStore) Errors() <-chan *models.StoreError { return s.errs.ch }

// Close drains queued writes, ends subscriptions and closes the database.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.hub.close()
	s.errs.close()
	return s.db.Close()
}
