// Package answer builds a prompt from retrieved chunks and asks a text generator for the answer.
package answer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/pkg/utils"
)

// DefaultMaxTokens bounds the generated answer.
const DefaultMaxTokens = 150

// Generator completes a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Retriever returns the chunks relevant to a question, best first.
type Retriever interface {
	Query(ctx context.Context, q string, topK, recallK int) ([]models.RetrievedChunk, error)
}

// Template holds the three labels of the prompt:
// Context + chunks joined by newline + Question + question + Answer.
type Template struct {
	Context  string
	Question string
	Answer   string
}

// Built-in templates.
var (
	EnglishTemplate = Template{Context: "Context: ", Question: "\nQuestion: ", Answer: "\nAnswer:"}
	RussianTemplate = Template{Context: "Контекст: ", Question: "\nВопрос: ", Answer: "\nОтвет:"}
)

// TemplateByName returns "en" or "ru".
func TemplateByName(name string) (Template, error) {
	switch strings.ToLower(name) {
	case "en", "english", "":
		return EnglishTemplate, nil
	case "ru", "russian":
		return RussianTemplate, nil
	default:
		return Template{}, fmt.Errorf("unknown prompt template: %s (supported: en, ru)", name)
	}
}

// Render builds the prompt.
func (t Template) Render(contexts []string, question string) string {
	return t.Context + strings.Join(contexts, "\n") + t.Question + question + t.Answer
}

// AnswerGenerator answers questions over a Retriever with one generation call per question.
type AnswerGenerator struct {
	retriever Retriever
	generator Generator
	template  Template
	topK      int
	recallK   int
	maxTokens int
	logger    *zap.Logger
}

// Option configures an AnswerGenerator.
type Option func(*AnswerGenerator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *AnswerGenerator) { a.logger = logger }
}

// WithTemplate sets the prompt template.
func WithTemplate(t Template) Option {
	return func(a *AnswerGenerator) { a.template = t }
}

// WithRetrieval sets how many chunks are recalled and kept as context.
func WithRetrieval(topK, recallK int) Option {
	return func(a *AnswerGenerator) {
		a.topK = topK
		a.recallK = recallK
	}
}

// WithMaxTokens bounds the answer length.
func WithMaxTokens(n int) Option {
	return func(a *AnswerGenerator) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// New creates an AnswerGenerator. A nil generator answers with the best chunk verbatim.
func New(retriever Retriever, generator Generator, opts ...Option) *AnswerGenerator {
	a := &AnswerGenerator{
		retriever: retriever,
		generator: generator,
		template:  EnglishTemplate,
		topK:      models.DefaultTopK,
		recallK:   models.DefaultRecallK,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = utils.Named(a.logger, "answer")
	return a
}

// Prompt retrieves context for question and renders the prompt without generating.
func (a *AnswerGenerator) Prompt(ctx context.Context, question string) (string, []models.RetrievedChunk, error) {
	hits, err := a.retriever.Query(ctx, question, a.topK, a.recallK)
	if err != nil {
		return "", nil, err
	}
	contexts := make([]string, len(hits))
	for i, h := range hits {
		contexts[i] = h.Chunk.Text
	}
	return a.template.Render(contexts, question), hits, nil
}

// Answer retrieves context for question and generates the answer. No retries, no streaming.
func (a *AnswerGenerator) Answer(ctx context.Context, question string) (*models.AnswerResponse, error) {
	prompt, hits, err := a.Prompt(ctx, question)
	if err != nil {
		return nil, err
	}
	resp := &models.AnswerResponse{
		Question: question,
		Context:  make([]string, len(hits)),
		Sources:  hits,
	}
	for i, h := range hits {
		resp.Context[i] = h.Chunk.Text
	}

	if a.generator == nil {
		if len(hits) > 0 {
			resp.Answer = hits[0].Chunk.Text
		}
		return resp, nil
	}

	text, err := a.generator.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCapability, err, "generate with %s", a.generator.Name())
	}
	resp.Answer = strings.TrimSpace(text)
	a.logger.Debug("answer generated",
		zap.String("generator", a.generator.Name()),
		zap.Int("context_chunks", len(hits)),
		zap.Int("prompt_chars", len(prompt)))
	return resp, nil
}
