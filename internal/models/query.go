package models

import (
	"strings"

	"github.com/hyperjump/koe/internal/apperr"
)

const (
	DefaultTopK    = 3
	DefaultRecallK = 20
	maxRecallK     = 1000
)

// QueryRequest is a retrieval request.
type QueryRequest struct {
	Query   string `json:"query"`
	TopK    int    `json:"top_k,omitempty"`
	RecallK int    `json:"recall_k,omitempty"`
}

// Validate ensures the query is non-empty and fills defaults.
// RecallK is raised to TopK when smaller so the rerank stage always has enough candidates.
func (q *QueryRequest) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return apperr.New(apperr.ErrFormat, "query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.RecallK <= 0 {
		q.RecallK = DefaultRecallK
	}
	if q.RecallK > maxRecallK {
		q.RecallK = maxRecallK
	}
	if q.RecallK < q.TopK {
		q.RecallK = q.TopK
	}
	return nil
}

// QueryResponse is returned by the query endpoint.
type QueryResponse struct {
	Query     string           `json:"query"`
	Results   []RetrievedChunk `json:"results"`
	QueryTime int64            `json:"query_time_ms"`
}

// AnswerResponse is returned by the answer endpoint.
type AnswerResponse struct {
	Question string           `json:"question"`
	Answer   string           `json:"answer"`
	Context  []string         `json:"context"`
	Sources  []RetrievedChunk `json:"sources"`
}
