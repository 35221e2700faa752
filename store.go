package fieldsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/fieldsync/internal/metrics"
	"github.com/hyperengineering/fieldsync/internal/store/migrations"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schemaVersion = "3"

// Metadata keys.
const (
	metaSchemaVersion = "schema_version"
	metaClientID      = "client_id"
	metaLastDrain     = "last_drain"
)

// LocalStore is the durable record collection the sync engine and
// listener write through.
type LocalStore interface {
	AddRecord(ctx context.Context, r Record) (int64, error)
	PutRecord(ctx context.Context, r Record) error
	DeleteRecord(ctx context.Context, localID int64) error
	AllRecords(ctx context.Context) ([]Record, error)
	GetRecord(ctx context.Context, localID int64) (*Record, error)
	FindByRemoteID(ctx context.Context, remoteID string) (*Record, error)
}

// Store manages the local SQLite database holding records, the outbox
// and client metadata.
//
// The connection handle is owned by the store and reopened if it is found
// closed before or during an operation. Only Close ends the store.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
	open   func(path string) (*sql.DB, error)
	log    *log.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger used for handle lifecycle events.
func WithStoreLogger(l *log.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore opens or creates a local store, upgrading its schema in place.
func NewStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{path: path, open: openDatabase, log: discardLogger()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := s.open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	s.db = db
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func openDatabase(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaSchemaVersion, schemaVersion)
	return err
}

// handle returns a live connection handle, reopening it if it was closed
// underneath the store.
func (s *Store) handle(ctx context.Context, op string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.db != nil {
		err := s.db.PingContext(ctx)
		if err == nil {
			return s.db, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.WithFields(log.Fields{"op": op, "err": err}).Warn("store: handle unusable, reopening")
	}
	return s.reopenLocked(op)
}

// reopen replaces stale with a fresh handle unless another caller already did.
func (s *Store) reopen(op string, stale *sql.DB) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.db != nil && s.db != stale {
		return s.db, nil
	}
	return s.reopenLocked(op)
}

func (s *Store) reopenLocked(op string) (*sql.DB, error) {
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	db, err := s.open(s.path)
	if err != nil {
		metrics.StoreReopensTotal.WithLabelValues(metrics.Fail).Inc()
		s.log.WithFields(log.Fields{"op": op, "path": s.path, "err": err}).Error("store: reopen failed")
		return nil, &StorageError{Op: op, Err: err}
	}
	metrics.StoreReopensTotal.WithLabelValues(metrics.Ok).Inc()
	s.log.WithFields(log.Fields{"op": op, "path": s.path}).Info("store: reopened database")
	s.db = db
	return db, nil
}

// withDB runs fn against a live handle. If fn fails because the handle was
// closed mid-operation, the handle is reopened and fn retried once.
func (s *Store) withDB(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	db, err := s.handle(ctx, op)
	if err != nil {
		return err
	}
	err = fn(db)
	if err == nil || !isClosedErr(err) {
		return err
	}

	s.log.WithFields(log.Fields{"op": op, "err": err}).Warn("store: handle closed during operation, retrying")
	db, err = s.reopen(op, db)
	if err != nil {
		return err
	}
	return fn(db)
}

func isClosedErr(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

const recordColumns = `local_id, remote_id, client_id, date, customer, location, area, unit,
	inputs, recommendation, notes, created_at`

// AddRecord inserts a new record and returns its assigned local id.
func (s *Store) AddRecord(ctx context.Context, r Record) (int64, error) {
	inputs, err := encodeInputs(r.Inputs)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.withDB(ctx, "add record", func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO records (remote_id, client_id, date, customer, location, area, unit,
				inputs, recommendation, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			nullString(r.RemoteID),
			r.ClientID,
			r.Date,
			r.Customer,
			r.Location,
			r.Area,
			r.Unit,
			inputs,
			r.Recommendation,
			r.Notes,
			formatTime(r.CreatedAt),
			formatTime(time.Now().UTC()),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: add record: %w", err)
	}
	return id, nil
}

// PutRecord inserts or fully replaces the record stored under r.LocalID.
func (s *Store) PutRecord(ctx context.Context, r Record) error {
	if r.LocalID <= 0 {
		return fmt.Errorf("store: put record: local id required")
	}
	inputs, err := encodeInputs(r.Inputs)
	if err != nil {
		return err
	}

	err = s.withDB(ctx, "put record", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO records (local_id, remote_id, client_id, date, customer, location, area, unit,
				inputs, recommendation, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				remote_id = excluded.remote_id,
				client_id = excluded.client_id,
				date = excluded.date,
				customer = excluded.customer,
				location = excluded.location,
				area = excluded.area,
				unit = excluded.unit,
				inputs = excluded.inputs,
				recommendation = excluded.recommendation,
				notes = excluded.notes,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`,
			r.LocalID,
			nullString(r.RemoteID),
			r.ClientID,
			r.Date,
			r.Customer,
			r.Location,
			r.Area,
			r.Unit,
			inputs,
			r.Recommendation,
			r.Notes,
			formatTime(r.CreatedAt),
			formatTime(time.Now().UTC()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: put record: %w", err)
	}
	return nil
}

// DeleteRecord removes a record. Deleting an absent record is not an error.
func (s *Store) DeleteRecord(ctx context.Context, localID int64) error {
	err := s.withDB(ctx, "delete record", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM records WHERE local_id = ?", localID)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: delete record: %w", err)
	}
	return nil
}

// GetRecord returns the record with the given local id, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, localID int64) (*Record, error) {
	var r *Record
	err := s.withDB(ctx, "get record", func(db *sql.DB) error {
		var err error
		r, err = scanRecord(db.QueryRowContext(ctx,
			"SELECT "+recordColumns+" FROM records WHERE local_id = ?", localID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: get record %d: %w", localID, err)
	}
	return r, nil
}

// FindByRemoteID returns the record carrying remoteID, or ErrNotFound.
func (s *Store) FindByRemoteID(ctx context.Context, remoteID string) (*Record, error) {
	var r *Record
	err := s.withDB(ctx, "find record", func(db *sql.DB) error {
		var err error
		r, err = scanRecord(db.QueryRowContext(ctx,
			"SELECT "+recordColumns+" FROM records WHERE remote_id = ? ORDER BY local_id LIMIT 1", remoteID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: find record %s: %w", remoteID, err)
	}
	return r, nil
}

// AllRecords returns every record in the store, ordered by local id.
func (s *Store) AllRecords(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.withDB(ctx, "all records", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, "SELECT "+recordColumns+" FROM records ORDER BY local_id")
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				return err
			}
			out = append(out, *r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("store: all records: %w", err)
	}
	return out, nil
}

// GetMetadata returns the value stored under key and whether it exists.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.withDB(ctx, "get metadata", func(db *sql.DB) error {
		err := db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			value = sql.NullString{}
			return nil
		}
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("store: get metadata %s: %w", key, err)
	}
	return value.String, value.Valid, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	err := s.withDB(ctx, "set metadata", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: set metadata %s: %w", key, err)
	}
	return nil
}

// Stats returns store statistics.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}
	err := s.withDB(ctx, "stats", func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&stats.RecordCount); err != nil {
			return err
		}
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE remote_id IS NULL").Scan(&stats.UnsyncedCount); err != nil {
			return err
		}
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&stats.PendingCount); err != nil {
			return err
		}

		var version, lastDrain sql.NullString
		_ = db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", metaSchemaVersion).Scan(&version)
		_ = db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", metaLastDrain).Scan(&lastDrain)
		stats.SchemaVersion = version.String
		stats.LastDrain = parseTime(lastDrain.String)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: stats: %w", err)
	}
	return stats, nil
}

// Close closes the store. Later operations return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r         Record
		remoteID  sql.NullString
		inputs    string
		createdAt string
	)
	err := sc.Scan(
		&r.LocalID,
		&remoteID,
		&r.ClientID,
		&r.Date,
		&r.Customer,
		&r.Location,
		&r.Area,
		&r.Unit,
		&inputs,
		&r.Recommendation,
		&r.Notes,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.RemoteID = remoteID.String
	r.CreatedAt = parseTime(createdAt)
	r.Inputs = []Input{}
	if inputs != "" {
		if err := json.Unmarshal([]byte(inputs), &r.Inputs); err != nil {
			return nil, fmt.Errorf("decode inputs for record %d: %w", r.LocalID, err)
		}
	}
	return &r, nil
}

func encodeInputs(inputs []Input) (string, error) {
	if inputs == nil {
		inputs = []Input{}
	}
	b, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("store: encode inputs: %w", err)
	}
	return string(b), nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
