package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
)

// History is the per-project operation journal.
type History struct {
	path  string
	db    *sql.DB
	bunDB *BunDB
}

// OpenHistory opens the journal at path, creating it if needed.
func OpenHistory(path string) (*History, error) {
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	fail := func(err error) (*History, error) {
		db.Close()
		if created {
			os.Remove(path)
		}
		return nil, err
	}

	if !created {
		if err := checkFileType(db, path); err != nil {
			return fail(err)
		}
	}
	if err := applyPragmas(db); err != nil {
		return fail(err)
	}
	if err := execStatements(db, historySchema); err != nil {
		return fail(fmt.Errorf("failed to create schema: %w", err))
	}
	if err := execStatements(db, initHistory, SchemaVersion); err != nil {
		return fail(fmt.Errorf("failed to initialize history: %w", err))
	}

	bunDB := NewBunDB(db)
	fileType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		return fail(fmt.Errorf("failed to read schema info: %w", err))
	}
	if fileType != historyFileType {
		return fail(fmt.Errorf("not a history file (type=%s): %s", fileType, path))
	}

	if created {
		log.Debugf("[History] created %s", path)
	}
	return &History{path: path, db: db, bunDB: bunDB}, nil
}

// checkFileType rejects an existing database that is not a history file.
// It only reads, so a rejected file is left as it was. A database with no
// tables yet is accepted.
func checkFileType(db *sql.DB, path string) error {
	var tables, infoTables int
	err := db.QueryRow(`SELECT count(*), count(CASE WHEN name = 'schema_info' THEN 1 END)
		FROM sqlite_master WHERE type = 'table'`).Scan(&tables, &infoTables)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if tables == 0 {
		return nil
	}
	if infoTables == 0 {
		return fmt.Errorf("not a history file (no schema_info): %s", path)
	}
	var fileType string
	err = db.QueryRow("SELECT value FROM schema_info WHERE key = 'type'").Scan(&fileType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read schema info: %w", err)
	}
	if fileType != historyFileType {
		return fmt.Errorf("not a history file (type=%s): %s", fileType, path)
	}
	return nil
}

// Record appends op and returns its ID.
func (h *History) Record(ctx context.Context, op Operation) (int64, error) {
	id, err := h.bunDB.InsertOperation(ctx, op.ToModel())
	if err != nil {
		return 0, fmt.Errorf("failed to record %s: %w", op.Op, err)
	}
	return id, nil
}

// Recent returns up to limit operations, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Operation, error) {
	models, err := h.bunDB.ListOperations(ctx, limit)
	if err != nil {
		return nil, err
	}
	ops := make([]Operation, len(models))
	for i := range models {
		ops[i] = models[i].ToOperation()
	}
	return ops, nil
}

// Count returns the number of operations with status, or all when empty.
func (h *History) Count(ctx context.Context, status string) (int, error) {
	return h.bunDB.CountOperations(ctx, status)
}

// Path returns the file path
func (h *History) Path() string {
	return h.path
}

// Close closes the database connection
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}
