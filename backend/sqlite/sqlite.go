// Package sqlite is the embedded history and queue store used by task hub workers
// and orchestration clients. A store is either private to the process (in-memory)
// or backed by a database file that several hosts can share.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/microsoft/durabletask-webjobs-go/backend"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const defaultLockTimeout = 2 * time.Minute

type Options struct {
	// FilePath is the database file. Empty selects a private in-memory database.
	FilePath string

	OrchestrationLockTimeout time.Duration
	ActivityLockTimeout      time.Duration
}

// NewOptions returns options with default lock timeouts for the given file path.
func NewOptions(filePath string) *Options {
	return &Options{
		FilePath:                 filePath,
		OrchestrationLockTimeout: defaultLockTimeout,
		ActivityLockTimeout:      defaultLockTimeout,
	}
}

type store struct {
	dsn    string
	owner  string
	logger backend.Logger
	opts   Options

	mu sync.Mutex
	db *sql.DB
}

// New returns a sqlite store implementing [backend.Backend] and [backend.HostHeartbeatStore].
// Nothing is opened until CreateTaskHub or Start is called.
func New(opts *Options, logger backend.Logger) backend.Backend {
	if opts == nil {
		opts = NewOptions("")
	}
	if logger == nil {
		logger = backend.DefaultLogger()
	}

	s := &store{
		owner:  lockOwnerName(),
		logger: logger,
		opts:   *opts,
	}
	s.dsn = dataSourceName(opts.FilePath)
	return s
}

// lockOwnerName identifies this process in the LockedBy columns.
func lockOwnerName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s,%d,%s", hostname, os.Getpid(), uuid.NewString())
}

func dataSourceName(filePath string) string {
	switch {
	case filePath == "":
		// Named shared-cache database so that every connection sees the same data.
		return fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	case strings.HasPrefix(filePath, "file:"):
		return filePath
	default:
		return "file:" + filePath
	}
}

func (s *store) String() string {
	if s.opts.FilePath == "" {
		return "sqlite::memory"
	}
	return "sqlite::" + s.opts.FilePath
}

// CreateTaskHub opens the database and applies the schema. It is safe to call repeatedly.
func (s *store) CreateTaskHub(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to open the task hub store: %w", err)
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply the task hub schema: %w", err)
	}
	return nil
}

// DeleteTaskHub closes the database and removes its file, if any.
func (s *store) DeleteTaskHub(context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	if s.opts.FilePath == "" {
		return nil
	}

	err := os.Remove(strings.TrimPrefix(s.opts.FilePath, "file:"))
	if os.IsNotExist(err) {
		return backend.ErrTaskHubNotFound
	}
	return err
}

func (s *store) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open the database: %w", err)
	}

	// One connection serializes writers (no SQLITE_BUSY) and pins in-memory databases.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	s.db = db
	return nil
}

// Stop leaves the database open: clients share the store with the worker and a
// restarted worker must see the same state. Close releases it.
func (s *store) Stop(context.Context) error {
	return nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *store) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, backend.ErrNotInitialized
	}
	return s.db, nil
}

// inTx runs fn in a transaction that is committed only when fn succeeds.
func (s *store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execLocked runs a statement guarded by a LockedBy predicate and reports
// [backend.ErrWorkItemLockLost] when it touched no rows.
func execLocked(ctx context.Context, db execer, what string, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count rows changed while trying to %s: %w", what, err)
	}
	if n == 0 {
		return backend.ErrWorkItemLockLost
	}
	return nil
}

func checkEvent(e *backend.HistoryEvent) error {
	switch {
	case e == nil:
		return errors.New("history event must be non-nil")
	case e.Timestamp.IsZero():
		return errors.New("history event must have a timestamp")
	}
	return nil
}

// nullableTime maps the zero time onto NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
