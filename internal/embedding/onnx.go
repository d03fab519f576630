//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInit    sync.Once
	ortInitErr error
)

// BERTSession runs a BERT-style ONNX model with fixed-length input_ids, attention_mask and
// token_type_ids inputs and a single float output of outputSize values. Tensors are allocated
// once and reused, so Run is serialized.
type BERTSession struct {
	session             *ort.AdvancedSession
	maxTokens           int
	outputSize          int
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewBERTSession loads modelPath. InitializeEnvironment is called if not already done.
func NewBERTSession(modelPath, outputName string, maxTokens, outputSize int) (*BERTSession, error) {
	ortInit.Do(func() { ortInitErr = ort.InitializeEnvironment() })
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", ortInitErr)
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	s := &BERTSession{maxTokens: maxTokens, outputSize: outputSize}
	shape := ort.NewShape(1, int64(maxTokens))

	var err error
	if s.inputIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if s.attentionMaskTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if s.tokenTypeIDsTensor, err = ort.NewEmptyTensor[int64](shape); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if s.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(outputSize))); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{outputName},
		[]ort.ArbitraryTensor{s.inputIDsTensor, s.attentionMaskTensor, s.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{s.outputTensor},
		nil,
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return s, nil
}

// Run feeds one tokenized sequence and returns a copy of the output.
func (s *BERTSession) Run(inputIDs, attentionMask, tokenTypeIDs []int64) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputIDsTensor.GetData(), inputIDs)
	copy(s.attentionMaskTensor.GetData(), attentionMask)
	copy(s.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	out := make([]float32, s.outputSize)
	copy(out, s.outputTensor.GetData())
	return out, nil
}

// MaxTokens returns the fixed sequence length.
func (s *BERTSession) MaxTokens() int {
	return s.maxTokens
}

// Close destroys the session and tensors.
func (s *BERTSession) Close() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.inputIDsTensor != nil {
		_ = s.inputIDsTensor.Destroy()
	}
	if s.attentionMaskTensor != nil {
		_ = s.attentionMaskTensor.Destroy()
	}
	if s.tokenTypeIDsTensor != nil {
		_ = s.tokenTypeIDsTensor.Destroy()
	}
	if s.outputTensor != nil {
		_ = s.outputTensor.Destroy()
	}
	s.inputIDsTensor, s.attentionMaskTensor, s.tokenTypeIDsTensor, s.outputTensor = nil, nil, nil, nil
	return err
}

// ONNXEmbedder produces sentence embeddings with a pooled BERT-style ONNX model
// (e.g. paraphrase-multilingual-mpnet-base-v2 exported with pooling).
type ONNXEmbedder struct {
	session    *BERTSession
	dimensions int
	cache      *EmbeddingCache
	tokenizer  Tokenizer
}

// NewONNXEmbedder creates an ONNX embedder whose model has a pooled "output" of the given dimensions.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	session, err := NewBERTSession(modelPath, "output", maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	return &ONNXEmbedder{
		session:    session,
		dimensions: dimensions,
		cache:      NewEmbeddingCache(cacheSize),
		tokenizer:  &SimpleTokenizer{},
	}, nil
}

// Embed returns the unit-length embedding for text, using cache when available.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.session.MaxTokens())
	embedding, err := e.session.Run(inputIDs, attentionMask, tokenTypeIDs)
	if err != nil {
		return nil, err
	}
	NormalizeL2Slice(embedding)
	e.cache.Set(text, embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases the ONNX session.
func (e *ONNXEmbedder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	return err
}
