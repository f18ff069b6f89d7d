package knowledge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wavefront/internal/store"
)

func newTestKnowledge(t *testing.T, opts ...Option) *Knowledge {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, NewHashEmbedder(1024), opts...)
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Kind() string { return "test" }
func (failingSource) Pieces(context.Context) ([]Piece, error) {
	return nil, errors.New("cannot read")
}

func TestQuery_RanksBySimilarity(t *testing.T) {
	k := newTestKnowledge(t)
	ctx := context.Background()

	n, err := k.Add(ctx,
		StringSource{SourceName: "drinks", Content: "espresso coffee beans roasted"},
		StringSource{SourceName: "garden", Content: "tomato plants need sunlight and water"},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := k.Query(ctx, []string{"roasted coffee"}, 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "drinks", results[0].Source)
	assert.Equal(t, "espresso coffee beans roasted", results[0].Content)
	assert.GreaterOrEqual(t, results[0].Score, DefaultScoreThreshold)
	for _, r := range results {
		assert.NotEqual(t, "garden", r.Source, "unrelated text must fall below the threshold")
	}
}

func TestQuery_PreferenceFilter(t *testing.T) {
	k := newTestKnowledge(t)
	ctx := context.Background()

	_, err := k.Add(ctx,
		StringSource{SourceName: "a", Content: "morning drink routine", Metadata: map[string]string{"preference": "tea"}},
		StringSource{SourceName: "b", Content: "morning drink routine", Metadata: map[string]string{"preference": "coffee"}},
	)
	require.NoError(t, err)

	results, err := k.Query(ctx, []string{"morning drink"}, 5, Preference("coffee"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].Source)
	assert.Equal(t, "coffee", results[0].Metadata["preference"])

	assert.Nil(t, Preference(""))
}

func TestQuery_LimitAndDedup(t *testing.T) {
	k := newTestKnowledge(t)
	ctx := context.Background()

	for _, name := range []string{"one", "two", "three", "four", "five"} {
		_, err := k.Add(ctx, StringSource{SourceName: name, Content: "shared words here"})
		require.NoError(t, err)
	}

	results, err := k.Query(ctx, []string{"shared words", "words here"}, 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, DefaultLimit)

	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.Source], "each chunk appears once")
		seen[r.Source] = true
	}
	assert.Equal(t, "one", results[0].Source, "ties keep insertion order")

	custom := newTestKnowledge(t, WithDefaultLimit(1))
	_, err = custom.Add(ctx, StringSource{SourceName: "x", Content: "shared words"}, StringSource{SourceName: "y", Content: "shared words"})
	require.NoError(t, err)
	results, err = custom.Query(ctx, []string{"shared"}, 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestQuery_NoQueries(t *testing.T) {
	k := newTestKnowledge(t)
	results, err := k.Query(context.Background(), nil, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQuery_ThresholdOption(t *testing.T) {
	k := newTestKnowledge(t, WithScoreThreshold(-1))
	ctx := context.Background()

	_, err := k.Add(ctx, StringSource{SourceName: "s", Content: "completely unrelated"})
	require.NoError(t, err)

	results, err := k.Query(ctx, []string{"zebra"}, 3, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1, "a negative threshold keeps every candidate")
}

func TestAdd_FailingSourceIsSkippedWithWarning(t *testing.T) {
	var buf bytes.Buffer
	k := newTestKnowledge(t, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	ctx := context.Background()

	n, err := k.Add(ctx, failingSource{}, StringSource{SourceName: "ok", Content: "still indexed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read")
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "source=broken")

	results, err := k.Query(ctx, []string{"still indexed"}, 3, nil)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestAdd_FileSource(t *testing.T) {
	k := newTestKnowledge(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("the deploy runbook lives here"), 0o644))

	n, err := k.Add(ctx, FileSource{Path: path, Metadata: map[string]string{"team": "ops"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := k.Query(ctx, []string{"deploy runbook"}, 1, Filter{"team": "ops"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "notes.txt", results[0].Metadata["file"])
	assert.Equal(t, path, results[0].Source)

	_, err = k.Add(ctx, FileSource{Path: filepath.Join(t.TempDir(), "missing.txt")})
	assert.Error(t, err)
}

func TestAdd_Idempotent(t *testing.T) {
	k := newTestKnowledge(t)
	ctx := context.Background()
	src := StringSource{SourceName: "s", Content: "same content"}

	n, err := k.Add(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = k.Add(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, k.Reset(ctx))
	n, err = k.Add(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
