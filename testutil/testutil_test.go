package testutil

import (
	"testing"

	"github.com/miradorlabs/mirador/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRNGDeterminism(t *testing.T) {
	r1 := NewRNG(42)
	r2 := NewRNG(42)

	v1 := r1.UniformVectors(4, 8)
	v2 := r2.UniformVectors(4, 8)
	assert.Equal(t, v1, v2)

	r1.Reset()
	v3 := r1.UniformVectors(4, 8)
	assert.Equal(t, v1, v3)
}

func TestFillUniform(t *testing.T) {
	r := NewRNG(1)
	dst := make([]float32, 16)
	r.FillUniform(dst)

	for _, v := range dst {
		require.GreaterOrEqual(t, v, float32(0))
		require.Less(t, v, float32(1))
	}
}

func TestRecall(t *testing.T) {
	exact := []index.Result{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	assert.Equal(t, 1.0, Recall(exact, exact))
	assert.Equal(t, 0.5, Recall(exact, []index.Result{{ID: "a"}, {ID: "c"}, {ID: "x"}}))
	assert.Equal(t, 0.0, Recall(exact, nil))
	assert.Equal(t, 1.0, Recall(nil, nil))
}
