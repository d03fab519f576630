package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsKind(t *testing.T) {
	err := New(ErrEmptyRegistry, "registry has no rows")
	assert.True(t, errors.Is(err, ErrEmptyRegistry))
	assert.False(t, errors.Is(err, ErrIndexNotBuilt))

	wrapped := fmt.Errorf("match: %w", err)
	assert.True(t, errors.Is(wrapped, ErrEmptyRegistry))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrPersistence, cause, "write %s", "voices.tsv")
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "write voices.tsv: disk full", err.Error())
}

func TestWithStage(t *testing.T) {
	err := WithStage(New(ErrIndexNotBuilt, "query before build"), StageRetrieval)
	assert.Equal(t, StageRetrieval, StageOf(err))
	assert.Equal(t, "retrieval: query before build", err.Error())

	// first stage wins
	again := WithStage(err, StageGeneration)
	assert.Equal(t, StageRetrieval, StageOf(again))

	plain := WithStage(errors.New("boom"), StageIngestion)
	assert.Equal(t, StageIngestion, StageOf(plain))
	assert.Nil(t, WithStage(nil, StageIngestion))
	assert.Equal(t, "ingestion: boom", plain.Error())
}

func TestWithStage_KeepsOuterContext(t *testing.T) {
	inner := Wrap(ErrEmbedding, errors.New("zero vector"), "embed clip")
	err := WithStage(fmt.Errorf("speaker SPEAKER_00: %w", inner), StageResolution)

	assert.Equal(t, "resolution: speaker SPEAKER_00: embed clip: zero vector", err.Error())
	assert.True(t, errors.Is(err, ErrEmbedding))
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, StageResolution, StageOf(err))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrEmptyRegistry, "x"), http.StatusConflict},
		{New(ErrIndexNotBuilt, "x"), http.StatusConflict},
		{New(ErrEmbedding, "x"), http.StatusUnprocessableEntity},
		{New(ErrFormat, "x"), http.StatusUnprocessableEntity},
		{New(ErrCapability, "x"), http.StatusBadGateway},
		{New(ErrPersistence, "x"), http.StatusInternalServerError},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
