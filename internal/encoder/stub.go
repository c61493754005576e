package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math"
)

// stubEncoder derives a deterministic pseudo-vector from the image bytes. It
// stands in when no encoding service is configured so the rest of the
// pipeline (compilation, artifacts, sync) stays exercisable.
type stubEncoder struct {
	featureDim int
}

func NewStub(featureDim int) Encoder {
	return &stubEncoder{featureDim: featureDim}
}

func (e *stubEncoder) Encode(_ context.Context, filename string, image io.Reader) ([]float32, error) {
	if err := CheckImageFilename(filename); err != nil {
		return nil, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, image); err != nil {
		return nil, err
	}
	seed := h.Sum(nil)

	vec := make([]float32, e.featureDim)
	state := binary.LittleEndian.Uint64(seed[:8])
	for i := range vec {
		// xorshift over the digest seed, scaled into [-1, 1)
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vec[i] = float32(int64(state%2000)-1000) / 1000
	}
	// unit-normalize so distances behave like real embeddings
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
