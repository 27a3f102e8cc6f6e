package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoxygen/camd/internal/frame"
)

func TestPatternSource(t *testing.T) {
	src := patternSource(32, 24)

	a, err := src(0)
	require.NoError(t, err)
	b, err := src(1)
	require.NoError(t, err)

	assert.NoError(t, frame.Validate(a))
	assert.NoError(t, frame.Validate(b))
	assert.NotEqual(t, a, b)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte{0xFF, 0xD8, 2, 0xFF, 0xD9}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte{0xFF, 0xD8, 1, 0xFF, 0xD9}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	src, err := fileSource(dir)
	require.NoError(t, err)

	for seq, want := range []byte{1, 2, 1, 2} {
		f, err := src(seq)
		require.NoError(t, err)
		assert.Equal(t, want, f[2])
	}
}

func TestFileSourceEmpty(t *testing.T) {
	_, err := fileSource(t.TempDir())
	assert.Error(t, err)
}

func TestFrameInterval(t *testing.T) {
	d, err := frameInterval(10)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, d)

	for _, fps := range []float64{0, -5, math.NaN(), 1e12} {
		_, err := frameInterval(fps)
		assert.Error(t, err, "fps %v", fps)
	}
}
