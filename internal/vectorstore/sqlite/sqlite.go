// Package sqlite persists vector collections in a SQLite database. Vectors
// are stored as little-endian float64 blobs and scored in process; payload
// filters are pushed down to SQLite with json_extract.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"courserag/internal/embedding"
	"courserag/internal/vectorstore"
)

const schema = `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS points (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		ord INTEGER NOT NULL,
		vector BLOB NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);
`

var payloadKeyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Storage is a SQLite-backed vector store.
type Storage struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error { return s.db.Close() }

func (s *Storage) Init(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	var have int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, name).Scan(&have)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `INSERT INTO collections (name, dimension) VALUES (?, ?)`, name, dimension)
		if err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lookup collection %s: %w", name, err)
	case have != dimension:
		return fmt.Errorf("collection %s: %w (have %d, want %d)", name, vectorstore.ErrDimensionMismatch, have, dimension)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	return s.write(ctx, name, nil, points)
}

// Replace deletes the matching points and inserts the new ones in a single
// transaction.
func (s *Storage) Replace(ctx context.Context, name string, filter vectorstore.Filter, points []vectorstore.Point) error {
	where, args, err := whereClause(name, filter)
	if err != nil {
		return err
	}
	return s.write(ctx, name, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM points `+where, args...); err != nil {
			return fmt.Errorf("delete points: %w", err)
		}
		return nil
	}, points)
}

// write runs before (when set) and then upserts points, all in one
// transaction.
func (s *Storage) write(ctx context.Context, name string, before func(*sql.Tx) error, points []vectorstore.Point) error {
	dim, err := s.dimension(ctx, name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != dim {
			return vectorstore.ErrDimensionMismatch
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer tx.Rollback()
	if before != nil {
		if err := before(tx); err != nil {
			return err
		}
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO points (collection, id, ord, vector, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET ord = excluded.ord, vector = excluded.vector, payload = excluded.payload
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("encode payload for %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, name, p.ID, p.Order, encodeVector(p.Vector), string(payload)); err != nil {
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Storage) Search(ctx context.Context, name string, vector []float64, filter vectorstore.Filter, topK int) ([]vectorstore.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	where, args, err := whereClause(name, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, ord, vector, payload FROM points `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var (
			h       vectorstore.Hit
			blob    []byte
			payload string
		)
		if err := rows.Scan(&h.ID, &h.Order, &blob, &payload); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		h.Vector = decodeVector(blob)
		if err := json.Unmarshal([]byte(payload), &h.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", h.ID, err)
		}
		h.Score = embedding.Cosine(h.Vector, vector)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorstore.Rank(hits, topK), nil
}

func (s *Storage) Scroll(ctx context.Context, name string, filter vectorstore.Filter) ([]vectorstore.Point, error) {
	where, args, err := whereClause(name, filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, ord, payload FROM points `+where+` ORDER BY ord, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var out []vectorstore.Point
	for rows.Next() {
		var (
			p       vectorstore.Point
			payload string
		)
		if err := rows.Scan(&p.ID, &p.Order, &payload); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Storage) Delete(ctx context.Context, name string, filter vectorstore.Filter) error {
	where, args, err := whereClause(name, filter)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM points `+where, args...); err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

func (s *Storage) Clear(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, name)
	return err
}

func (s *Storage) dimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM collections WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("collection %s not initialized", name)
	}
	return dim, err
}

func whereClause(name string, filter vectorstore.Filter) (string, []any, error) {
	conds := []string{"collection = ?"}
	args := []any{name}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !payloadKeyRe.MatchString(k) {
			return "", nil, fmt.Errorf("invalid payload key %q", k)
		}
		conds = append(conds, fmt.Sprintf("json_extract(payload, '$.%s') = ?", k))
		args = append(args, filter[k])
	}
	return "WHERE " + strings.Join(conds, " AND "), args, nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
