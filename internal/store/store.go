// Package store persists document metadata in SQLite: lifecycle status,
// processing stage, progress, and counts. Chunk texts and vectors live in
// the vector store; this store is the source of truth for which documents
// exist and whether they are ready for retrieval.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/corpuslabs/corpusd/internal/store/migrations"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// maxErrorLen bounds the diagnostic message persisted on a failed document.
const maxErrorLen = 500

// Document statuses. Ready and Failed are terminal.
const (
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Document is the persisted record of an uploaded file.
type Document struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"-"`
	Format     string    `json:"format"`
	Status     string    `json:"status"`
	Stage      string    `json:"stage"`
	Progress   int       `json:"progress"`
	ErrorMsg   string    `json:"error_message,omitempty"`
	PageCount  int       `json:"page_count"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store is the SQLite-backed document store.
type Store struct {
	db   *sql.DB
	path string
}

// New opens (or creates) the store under dataDir and applies migrations.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "corpusd.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate(fsys embed.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Create inserts a new document in the Processing state.
func (s *Store) Create(ctx context.Context, doc *Document) error {
	if doc.Status == "" {
		doc.Status = StatusProcessing
	}
	if doc.Stage == "" {
		doc.Stage = "uploaded"
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_path, format, status, stage, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.FilePath, doc.Format, doc.Status, doc.Stage, doc.Progress,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// Get returns one document by id.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_path, format, status, stage, progress,
		       error_message, page_count, chunk_count, created_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// List returns all documents, newest first.
func (s *Store) List(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, file_path, format, status, stage, progress,
		       error_message, page_count, chunk_count, created_at, updated_at
		FROM documents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

// ListReady returns the ids of documents available for retrieval.
func (s *Store) ListReady(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE status = ? ORDER BY created_at`, StatusReady)
	if err != nil {
		return nil, fmt.Errorf("listing ready documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a document record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStage updates the processing stage and progress so pollers can watch a
// run advance. Progress is clamped to never decrease within a run.
func (s *Store) SetStage(ctx context.Context, id, stage string, progress int) error {
	return s.exec(ctx, `
		UPDATE documents
		SET stage = ?, progress = MAX(progress, ?), updated_at = ?
		WHERE id = ?`, stage, progress, time.Now().UTC(), id)
}

// SetPageCount records the extracted page count.
func (s *Store) SetPageCount(ctx context.Context, id string, pages int) error {
	return s.exec(ctx, `
		UPDATE documents SET page_count = ?, updated_at = ? WHERE id = ?`, pages, time.Now().UTC(), id)
}

// SetChunkCount records the chunk count as soon as it is known.
func (s *Store) SetChunkCount(ctx context.Context, id string, chunks int) error {
	return s.exec(ctx, `
		UPDATE documents SET chunk_count = ?, updated_at = ? WHERE id = ?`, chunks, time.Now().UTC(), id)
}

// MarkReady moves a document to the Ready terminal state.
func (s *Store) MarkReady(ctx context.Context, id string, chunkCount int) error {
	return s.exec(ctx, `
		UPDATE documents
		SET status = ?, stage = 'completed', progress = 100, chunk_count = ?, updated_at = ?
		WHERE id = ?`, StatusReady, chunkCount, time.Now().UTC(), id)
}

// MarkFailed moves a document to the Failed terminal state, keeping whatever
// page/chunk counts earlier stages already persisted. The message is
// truncated for storage.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	return s.exec(ctx, `
		UPDATE documents
		SET status = ?, stage = 'failed', error_message = ?, updated_at = ?
		WHERE id = ?`, StatusFailed, truncate(message, maxErrorLen), time.Now().UTC(), id)
}

// FailStale marks every non-terminal document as Failed. Called on startup:
// a document still "processing" with no worker attached was interrupted by a
// restart and would otherwise look stuck forever.
func (s *Store) FailStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, stage = 'failed', error_message = 'ingestion interrupted by restart',
		    updated_at = ?
		WHERE status = ?`, StatusFailed, time.Now().UTC(), StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failing stale documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failing stale documents: %w", err)
	}
	return int(n), nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Filename, &d.FilePath, &d.Format, &d.Status, &d.Stage,
		&d.Progress, &d.ErrorMsg, &d.PageCount, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &d, nil
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// truncate shortens s to at most n runes, never splitting a multi-byte
// character. Error text can carry non-ASCII filenames.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
