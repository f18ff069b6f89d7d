package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default chunking parameters, in runes.
const (
	DefaultChunkSize    = 4000
	DefaultChunkOverlap = 200
)

// Piece is one chunk of a source before embedding.
type Piece struct {
	Content  string
	Metadata map[string]string
}

// Source produces the pieces to index.
type Source interface {
	// Name identifies the source in the index; re-adding a name is a no-op
	// for pieces already indexed under it.
	Name() string
	Kind() string
	Pieces(ctx context.Context) ([]Piece, error)
}

// Chunking configures how a text source is split. The zero value uses
// DefaultChunkSize and DefaultChunkOverlap.
type Chunking struct {
	Size    int
	Overlap int
}

func (c Chunking) withDefaults() Chunking {
	if c.Size <= 0 {
		return Chunking{Size: DefaultChunkSize, Overlap: DefaultChunkOverlap}
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		c.Overlap = 0
	}
	return c
}

// StringSource indexes an in-memory string.
type StringSource struct {
	SourceName string
	Content    string
	Metadata   map[string]string
	Chunking   Chunking
}

// Name implements Source.
func (s StringSource) Name() string { return s.SourceName }

// Kind implements Source.
func (StringSource) Kind() string { return "string" }

// Pieces implements Source.
func (s StringSource) Pieces(context.Context) ([]Piece, error) {
	return split(s.Content, s.Metadata, s.Chunking), nil
}

// FileSource indexes a text file. The file's base name is added to each
// piece's metadata under "file".
type FileSource struct {
	Path     string
	Metadata map[string]string
	Chunking Chunking
}

// Name implements Source.
func (f FileSource) Name() string { return f.Path }

// Kind implements Source.
func (FileSource) Kind() string { return "file" }

// Pieces implements Source.
func (f FileSource) Pieces(context.Context) ([]Piece, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	meta := map[string]string{"file": filepath.Base(f.Path)}
	for k, v := range f.Metadata {
		meta[k] = v
	}
	return split(string(data), meta, f.Chunking), nil
}

func split(text string, meta map[string]string, c Chunking) []Piece {
	chunks := chunkText(text, c.withDefaults())
	pieces := make([]Piece, len(chunks))
	for i, chunk := range chunks {
		pieces[i] = Piece{Content: chunk, Metadata: meta}
	}
	return pieces
}

// chunkText cuts text into windows of c.Size runes, each starting
// c.Size-c.Overlap runes after the previous one. Blank text yields no
// chunks.
func chunkText(text string, c Chunking) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.Size {
		return []string{text}
	}

	step := c.Size - c.Overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+c.Size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
