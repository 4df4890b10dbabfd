package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aluiziolira/bookrag/models"
)

const (
	dbFile        = "index.db"
	schemaVersion = "1"
)

// Keys of the meta table.
const (
	metaSchemaVersion  = "schema_version"
	metaEmbeddingModel = "embedding_model"
	metaChunkCount     = "chunk_count"
	metaDimensions     = "dimensions"
	metaComplete       = "complete"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	record_id   TEXT NOT NULL,
	position    INTEGER NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	embedding   BLOB NOT NULL
);
`

// entry is one chunk with its embedding.
type entry struct {
	chunk models.Chunk
	vec   []float32
}

// store is the SQLite file inside an index directory.
type store struct {
	db   *sql.DB
	path string
}

// createStore creates dir and an empty index database inside it.
func createStore(dir string) (*store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	s, err := openDB(filepath.Join(dir, dbFile))
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(schema); err != nil {
		s.close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// openStore opens an existing index database. A missing file is ErrCorrupt.
func openStore(dir string) (*store, error) {
	path := filepath.Join(dir, dbFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, dbFile, err)
	}
	return openDB(path)
}

func openDB(path string) (*store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &store{db: db, path: path}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

// saveChunks inserts entries in one transaction.
func (s *store) saveChunks(ctx context.Context, entries []entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, record_id, position, chunk_index, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.chunk.ID, e.chunk.RecordID, e.chunk.Position,
			e.chunk.Index, e.chunk.Content, float32SliceToBytes(e.vec)); err != nil {
			return fmt.Errorf("saving chunk %s: %w", e.chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

func (s *store) meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM meta")
	if err != nil {
		return nil, fmt.Errorf("querying meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning meta: %w", err)
		}
		meta[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating meta: %w", err)
	}
	return meta, nil
}

// loadChunks returns every entry in build order.
func (s *store) loadChunks(ctx context.Context) ([]entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, position, chunk_index, content, embedding
		FROM chunks ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var entries []entry //nolint:prealloc // size unknown from query
	for rows.Next() {
		var (
			e    entry
			blob []byte
		)
		if err := rows.Scan(&e.chunk.ID, &e.chunk.RecordID, &e.chunk.Position,
			&e.chunk.Index, &e.chunk.Content, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if len(blob) == 0 || len(blob)%4 != 0 {
			return nil, fmt.Errorf("%w: chunk %s has a malformed embedding", ErrCorrupt, e.chunk.ID)
		}
		e.vec = bytesToFloat32Slice(blob)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return entries, nil
}

// writeIndex persists entries and marks the database complete. The marker
// is written last, after every chunk row is committed.
func writeIndex(ctx context.Context, dir, model string, entries []entry) error {
	s, err := createStore(dir)
	if err != nil {
		return err
	}

	err = func() error {
		if err := s.setMeta(ctx, metaSchemaVersion, schemaVersion); err != nil {
			return err
		}
		if err := s.setMeta(ctx, metaEmbeddingModel, model); err != nil {
			return err
		}
		if err := s.setMeta(ctx, metaDimensions, strconv.Itoa(len(entries[0].vec))); err != nil {
			return err
		}
		if err := s.saveChunks(ctx, entries); err != nil {
			return err
		}
		if err := s.setMeta(ctx, metaChunkCount, strconv.Itoa(len(entries))); err != nil {
			return err
		}
		return s.setMeta(ctx, metaComplete, "true")
	}()

	return errors.Join(err, s.close())
}

// readIndex loads and validates the database in dir.
func readIndex(ctx context.Context, dir, model string) ([]entry, error) {
	s, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	defer s.close()

	meta, err := s.meta(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if meta[metaComplete] != "true" {
		return nil, fmt.Errorf("%w: build did not finish", ErrCorrupt)
	}
	if v := meta[metaSchemaVersion]; v != schemaVersion {
		return nil, fmt.Errorf("%w: schema version %q, want %q", ErrCorrupt, v, schemaVersion)
	}
	if got := meta[metaEmbeddingModel]; got != model {
		return nil, fmt.Errorf("%w: built with %q, configured %q", ErrModelMismatch, got, model)
	}

	entries, err := s.loadChunks(ctx)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if want := meta[metaChunkCount]; want != strconv.Itoa(len(entries)) {
		return nil, fmt.Errorf("%w: %d chunks stored, meta says %s", ErrCorrupt, len(entries), want)
	}
	dims, _ := strconv.Atoi(meta[metaDimensions])
	for _, e := range entries {
		if len(e.vec) != dims {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, want %d", ErrCorrupt, e.chunk.ID, len(e.vec), dims)
		}
	}
	return entries, nil
}

// float32SliceToBytes encodes a vector as little-endian float32 values.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
