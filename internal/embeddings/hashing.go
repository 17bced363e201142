package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
)

// Hashing is an offline Provider that projects lower-cased word tokens into
// a fixed number of buckets. Texts sharing vocabulary land close together,
// which is enough for local runs and demos without an embedding endpoint.
type Hashing struct {
	dims int
}

func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 256
	}
	return &Hashing{dims: dims}
}

func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil, apperrors.Validation("nothing to embed")
	}
	v := make([]float32, h.dims)
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[f.Sum32()%uint32(h.dims)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

func (h *Hashing) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
