package registry

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/media"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/voiceprint"
)

func TestRegistry_SelfMatch(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "voices"), nil)
	require.NoError(t, err)
	defer r.Close()
	ctx := context.Background()

	alice := []float32{1, 0, 0}
	bob := []float32{0, 1, 0}
	idA, err := r.EnrollEmbedding(ctx, "Alice", alice)
	require.NoError(t, err)
	idB, err := r.EnrollEmbedding(ctx, "Bob", bob)
	require.NoError(t, err)
	assert.Equal(t, models.IdentityID(0), idA)
	assert.Equal(t, models.IdentityID(1), idB)

	matches, err := r.Match(ctx, alice, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Alice", matches[0].Identity.Name)
	assert.Equal(t, 0.0, matches[0].Distance)

	matches, err = r.Match(ctx, []float32{0.1, 0.9, 0}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2, "topK is clamped to the number of rows")
	assert.Equal(t, "Bob", matches[0].Identity.Name)
	assert.Less(t, matches[0].Distance, matches[1].Distance)
}

func TestRegistry_SameNameTwice(t *testing.T) {
	r, _ := Open("", nil)
	ctx := context.Background()
	_, _ = r.EnrollEmbedding(ctx, "Alice", []float32{1, 0})
	id, err := r.EnrollEmbedding(ctx, "Alice", []float32{0.9, 0.1})
	require.NoError(t, err)
	assert.Equal(t, models.IdentityID(1), id)
	assert.Len(t, r.Identities(), 2)
}

func TestRegistry_EmptyMatch(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "voices"), nil)
	require.NoError(t, err)
	_, err = r.Match(context.Background(), []float32{1, 0}, 1)
	assert.True(t, errors.Is(err, apperr.ErrEmptyRegistry))
}

func TestRegistry_DimensionFixedByFirstEnroll(t *testing.T) {
	r, _ := Open("", nil)
	ctx := context.Background()
	_, err := r.EnrollEmbedding(ctx, "Alice", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Dimension())

	_, err = r.EnrollEmbedding(ctx, "Bob", []float32{1, 0})
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	assert.Equal(t, 1, r.Size())

	_, err = r.Match(ctx, []float32{1, 0}, 1)
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
}

func TestRegistry_RejectsBadInput(t *testing.T) {
	r, _ := Open("", nil)
	ctx := context.Background()
	_, err := r.EnrollEmbedding(ctx, "Alice", []float32{0, 0})
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	_, err = r.EnrollEmbedding(ctx, "Alice", []float32{float32(math.NaN()), 1})
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	_, err = r.EnrollEmbedding(ctx, "  \t ", []float32{1, 1})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Size())
}

func TestRegistry_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "voices")
	ctx := context.Background()

	r, err := Open(path, nil)
	require.NoError(t, err)
	_, _ = r.EnrollEmbedding(ctx, "Ivanov Ivan", []float32{1, 2, 3})
	_, _ = r.EnrollEmbedding(ctx, "Bob\tSmith", []float32{3, 2, 1})
	require.NoError(t, r.Close())

	meta, err := os.ReadFile(r.MetaPath())
	require.NoError(t, err)
	assert.Equal(t, "id\tfio\n0\tIvanov Ivan\n1\tBob Smith\n", string(meta))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Size())
	assert.Equal(t, 3, reopened.Dimension())

	matches, err := reopened.Match(ctx, []float32{3, 2, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Bob Smith", matches[0].Identity.Name)

	id, err := reopened.EnrollEmbedding(ctx, "Carol", []float32{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, models.IdentityID(2), id)
}

func TestRegistry_SidecarMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices")
	r, _ := Open(path, nil)
	_, _ = r.EnrollEmbedding(context.Background(), "Alice", []float32{1, 0})
	_ = r.Close()

	require.NoError(t, os.WriteFile(r.MetaPath(), []byte("id\tfio\n0\tAlice\n1\tGhost\n"), 0644))
	_, err := Open(path, nil)
	assert.True(t, errors.Is(err, apperr.ErrPersistence))

	require.NoError(t, os.WriteFile(r.MetaPath(), []byte("id\tfio\n5\tAlice\n"), 0644))
	_, err = Open(path, nil)
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
}

func TestRegistry_FailedPersistRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices")
	r, _ := Open(path, nil)
	ctx := context.Background()
	_, err := r.EnrollEmbedding(ctx, "Alice", []float32{1, 0})
	require.NoError(t, err)

	// a directory where the sidecar should go makes the rename fail
	require.NoError(t, os.Remove(r.MetaPath()))
	require.NoError(t, os.Mkdir(r.MetaPath(), 0755))

	_, err = r.EnrollEmbedding(ctx, "Bob", []float32{0, 1})
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
	assert.Equal(t, 1, r.Size())

	matches, err := r.Match(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 1, "the failed row must not be searchable")
}

func TestRegistry_EnrollAudio(t *testing.T) {
	dir := t.TempDir()
	tone := func(name string, freq float64) string {
		samples := make([]float64, 8000)
		for i := range samples {
			samples[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/8000)
		}
		p := filepath.Join(dir, name)
		require.NoError(t, media.WriteWAV(p, &media.Clip{Samples: samples, SampleRate: 8000}))
		return p
	}

	r, err := Open(filepath.Join(dir, "voices"), voiceprint.NewSpectralModel())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.MatchAudio(ctx, tone("q.wav", 200), 1)
	assert.True(t, errors.Is(err, apperr.ErrEmptyRegistry))

	_, err = r.Enroll(ctx, "Low", tone("low.wav", 200))
	require.NoError(t, err)
	_, err = r.Enroll(ctx, "High", tone("high.wav", 1200))
	require.NoError(t, err)

	matches, err := r.MatchAudio(ctx, tone("q.wav", 200), 1)
	require.NoError(t, err)
	assert.Equal(t, "Low", matches[0].Identity.Name)

	silent := filepath.Join(dir, "silent.wav")
	require.NoError(t, media.WriteWAV(silent, &media.Clip{Samples: make([]float64, 8000), SampleRate: 8000}))
	_, err = r.Enroll(ctx, "Nobody", silent)
	assert.True(t, errors.Is(err, apperr.ErrEmbedding))
	assert.Equal(t, 2, r.Size())
}
