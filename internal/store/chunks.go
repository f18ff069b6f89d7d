package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/roach88/wavefront/internal/canonical"
)

// Chunk is one indexed piece of source text.
type Chunk struct {
	ID        string
	Source    string
	Content   string
	Metadata  map[string]string
	Embedding []float32
	Seq       int64
}

// Match is a Search hit.
type Match struct {
	Chunk Chunk
	Score float64
}

// SearchQuery selects and ranks chunks.
type SearchQuery struct {
	Vector []float32
	// Limit caps the result count; zero or less means no cap.
	Limit int
	// Filter requires metadata[key] == value for every entry.
	Filter map[string]string
	// Threshold drops matches scoring below it.
	Threshold float64
}

// ChunkID returns the content-addressed ID of a chunk.
func ChunkID(source, content string) (string, error) {
	return canonical.Hash(canonical.DomainChunk, map[string]any{
		"source":  source,
		"content": content,
	})
}

// AddSource registers a source and its chunks in one transaction. Chunks
// are assigned IDs and seqs here; chunks already present (same source and
// content) are silently skipped. It returns the number of chunks inserted.
func (s *Store) AddSource(ctx context.Context, name, kind string, chunks []Chunk) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add source %q: begin tx: %w", name, err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM sources UNION ALL SELECT seq FROM chunks
		)
	`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("add source %q: read seq: %w", name, err)
	}

	seq++
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sources (name, kind, seq) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, kind, seq); err != nil {
		return 0, fmt.Errorf("add source %q: %w", name, err)
	}

	inserted := 0
	for _, c := range chunks {
		id, err := ChunkID(name, c.Content)
		if err != nil {
			return 0, fmt.Errorf("add source %q: %w", name, err)
		}
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("add source %q: %w", name, err)
		}

		seq++
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, source, content, metadata, embedding, dims, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, name, c.Content, meta, encodeVector(c.Embedding), len(c.Embedding), seq)
		if err != nil {
			return 0, fmt.Errorf("add source %q: insert chunk: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add source %q: commit: %w", name, err)
	}
	return inserted, nil
}

// Search returns chunks ranked by cosine similarity to q.Vector. Only
// chunks whose embedding has the same dimension are considered.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]Match, error) {
	query := `
		SELECT id, source, content, metadata, embedding, seq
		FROM chunks
		WHERE dims = ?`
	args := []any{len(q.Vector)}
	for _, key := range canonical.SortedKeys(q.Filter) {
		query += ` AND json_extract(metadata, ?) = ?`
		args = append(args, jsonPath(key), q.Filter[key])
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		score := Cosine(q.Vector, c.Embedding)
		if score < q.Threshold {
			continue
		}
		matches = append(matches, Match{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	// Rows arrive in seq order, so a stable sort keeps seq as tie-breaker.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Sources returns registered source names in insertion order.
func (s *Store) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sources ORDER BY seq ASC, name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return names, nil
}

// DeleteSource removes a source and, via ON DELETE CASCADE, its chunks.
func (s *Store) DeleteSource(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete source %q: %w", name, err)
	}
	return nil
}

// Reset removes every source and chunk.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks; DELETE FROM sources;`); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return nil
}

func scanChunk(rows *sql.Rows) (Chunk, error) {
	var (
		c        Chunk
		metadata string
		blob     []byte
	)
	if err := rows.Scan(&c.ID, &c.Source, &c.Content, &metadata, &blob, &c.Seq); err != nil {
		return Chunk{}, fmt.Errorf("scan chunk: %w", err)
	}
	meta, err := unmarshalMetadata(metadata)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	c.Metadata = meta
	vec, err := decodeVector(blob)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	c.Embedding = vec
	return c, nil
}

// marshalMetadata stores metadata as canonical JSON so that equal maps
// produce equal rows.
func marshalMetadata(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := canonical.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMetadata(data string) (map[string]string, error) {
	m := map[string]string{}
	if data == "" || data == "{}" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// jsonPath quotes key as a JSON path member so that keys containing dots
// or brackets address a single top-level field.
func jsonPath(key string) string {
	quoted, _ := json.Marshal(key)
	return "$." + string(quoted)
}
