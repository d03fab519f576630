package keyword

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/hyperjump/koe/internal/models"
)

// BleveIndex is a snapshot keyword index over a chunk slice.
type BleveIndex struct {
	index bleve.Index
	path  string
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming): transcripts mix languages and
	// a stemmer for one mangles the other.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("source", keywordFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// Build indexes chunks into a fresh index at path, replacing whatever was there.
// The new index is written next to path and moved into place once complete.
// An empty path builds an in-memory index.
func Build(ctx context.Context, path string, chunks []models.Chunk) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(newMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		b := &BleveIndex{index: index}
		if err := b.indexAll(ctx, chunks); err != nil {
			_ = index.Close()
			return nil, err
		}
		return b, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp := path + ".tmp-" + uuid.NewString()
	index, err := bleve.New(tmp, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b := &BleveIndex{index: index}
	if err := b.indexAll(ctx, chunks); err != nil {
		_ = index.Close()
		_ = os.RemoveAll(tmp)
		return nil, err
	}
	if err := index.Close(); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("failed to close Bleve index: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("failed to remove previous index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("failed to move index into place: %w", err)
	}
	return Open(path)
}

// Open opens an index previously written by Build. The error wraps fs.ErrNotExist when
// there is no index at path.
func Open(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("keyword index %s: %w", path, fs.ErrNotExist)
		}
		return nil, err
	}
	index, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Bleve index: %w", err)
	}
	return &BleveIndex{index: index, path: path}, nil
}

func (b *BleveIndex) indexAll(ctx context.Context, chunks []models.Chunk) error {
	const batchSize = 500
	batch := b.index.NewBatch()
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := map[string]interface{}{
			"text":   c.Text,
			"source": c.Source,
		}
		if err := batch.Index(strconv.Itoa(i), doc); err != nil {
			return fmt.Errorf("index chunk %d: %w", i, err)
		}
		if batch.Size() >= batchSize {
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("Bleve batch failed: %w", err)
			}
			batch = b.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve batch failed: %w", err)
		}
	}
	return nil
}

// Search returns up to limit hits, best first; equal scores keep chunk order.
// With PhraseBoost > 1 and several query terms, scores are scaled by term coverage
// and phrase proximity.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	phraseBoost := 1.0
	fuzzyEnabled := false
	fuzziness := 1
	if opts != nil {
		if opts.PhraseBoost > 0 {
			phraseBoost = opts.PhraseBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	terms := tokenizeQuery(query)
	reqSize := limit
	if phraseBoost > 1.0 && len(terms) > 1 && reqSize < 50 {
		// Rescoring can reorder, so look deeper than limit.
		reqSize = 50
	}

	scores, err := b.run(ctx, b.buildQuery(query, terms, fuzzyEnabled, fuzziness), reqSize)
	if err != nil {
		return nil, err
	}

	if phraseBoost > 1.0 && len(terms) > 1 {
		coverage := b.termCoverage(ctx, terms, reqSize, fuzzyEnabled, fuzziness)
		phrases := b.phraseMatches(ctx, query, reqSize)
		for pos, score := range scores {
			// (matched/total)^2 so chunks matching every term outrank partial matches.
			matched := coverage[pos]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
			if phrases[pos] {
				score *= phraseBoost
			}
			scores[pos] = score
		}
	}

	hits := make([]Hit, 0, len(scores))
	for pos, score := range scores {
		hits = append(hits, Hit{Position: pos, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (b *BleveIndex) run(ctx context.Context, q blevequery.Query, size int) (map[int]float64, error) {
	req := bleve.NewSearchRequest(q)
	req.Size = size
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make(map[int]float64, len(results.Hits))
	for _, hit := range results.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		out[pos] = hit.Score
	}
	return out, nil
}

// tokenizeQuery splits query into distinct lowercase terms.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

// buildQuery makes a match query over the text field, or a disjunction of fuzzy term
// queries when fuzzy matching is on.
func (b *BleveIndex) buildQuery(query string, terms []string, fuzzyEnabled bool, fuzziness int) blevequery.Query {
	if !fuzzyEnabled || len(terms) == 0 {
		mq := bleve.NewMatchQuery(query)
		mq.SetField("text")
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField("text")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// termCoverage counts how many distinct query terms each chunk matches.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, size int, fuzzyEnabled bool, fuzziness int) map[int]int {
	coverage := make(map[int]int)
	for _, term := range terms {
		hits, err := b.run(ctx, b.buildQuery(term, []string{term}, fuzzyEnabled, fuzziness), size)
		if err != nil {
			continue
		}
		for pos := range hits {
			coverage[pos]++
		}
	}
	return coverage
}

// phraseMatches finds chunks where the query appears as a phrase.
func (b *BleveIndex) phraseMatches(ctx context.Context, query string, size int) map[int]bool {
	pq := bleve.NewMatchPhraseQuery(query)
	pq.SetField("text")
	hits, err := b.run(ctx, pq, size)
	matches := make(map[int]bool, len(hits))
	if err != nil {
		return matches
	}
	for pos := range hits {
		matches[pos] = true
	}
	return matches
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Path returns the on-disk location, empty for an in-memory index.
func (b *BleveIndex) Path() string { return b.path }

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
