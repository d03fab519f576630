//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// BERTSession stub type when built without CGO (see onnx.go for real implementation).
type BERTSession struct{}

// NewBERTSession returns an error when built without CGO.
func NewBERTSession(_, _ string, _, _ int) (*BERTSession, error) {
	return nil, errNoCGO
}

func (s *BERTSession) Run(_, _, _ []int64) ([]float32, error) { return nil, errNoCGO }
func (s *BERTSession) MaxTokens() int                         { return 0 }
func (s *BERTSession) Close() error                           { return nil }

// ONNXEmbedder stub type when built without CGO.
type ONNXEmbedder struct{}

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(_ string, _, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, errNoCGO }
func (e *ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errNoCGO
}
func (e *ONNXEmbedder) Dimensions() int { return 0 }
func (e *ONNXEmbedder) Close() error    { return nil }
