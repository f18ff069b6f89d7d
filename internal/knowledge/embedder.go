package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Embedder turns texts into vectors. Implementations must return one
// vector per input text, in order, all of the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// DefaultHashDims is the HashEmbedder dimension used when none is given.
const DefaultHashDims = 256

// HashEmbedder is a deterministic, offline embedder based on feature
// hashing of lower-cased word tokens. It is meant for tests, dry runs and
// small local indexes; similarity reflects shared vocabulary only.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder returns a HashEmbedder with dims dimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{Dims: dims}
}

// Embed implements Embedder. Vectors are L2-normalized; text without any
// word tokens embeds to the zero vector.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dims := h.Dims
	if dims <= 0 {
		dims = DefaultHashDims
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embed(text, dims)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, tok := range tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(dims))
		// The top bit picks the sign so unrelated tokens tend to cancel.
		if sum>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
		}
	}

	var norm2 float64
	for _, x := range v {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm2))
	for i := range v {
		v[i] *= scale
	}
	return v
}

func tokenize(text string) []string {
	text = strings.ToLower(norm.NFC.String(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
