package rerank

import (
	"context"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// LexicalConfig holds the weights of the lexical scorer.
type LexicalConfig struct {
	// PhraseMatchScore is awarded when the whole query or a quoted phrase occurs verbatim.
	PhraseMatchScore float64
	// AllWordsInOrderScore is awarded when every query term occurs in query order.
	AllWordsInOrderScore float64
	// ScatteredWordsScore is awarded when every query term occurs in any order; partial
	// matches get it scaled by the matched fraction.
	ScatteredWordsScore float64

	TFIDFEnabled       bool
	MaxTFIDFMultiplier float64

	// PositionBoostMultiplier applies when a match starts within the first
	// PositionBoostThreshold fraction of the passage's words.
	PositionBoostMultiplier float64
	PositionBoostThreshold  float64
}

// DefaultLexicalConfig returns the default weights.
func DefaultLexicalConfig() *LexicalConfig {
	return &LexicalConfig{
		PhraseMatchScore:        100,
		AllWordsInOrderScore:    60,
		ScatteredWordsScore:     40,
		TFIDFEnabled:            true,
		MaxTFIDFMultiplier:      2.0,
		PositionBoostMultiplier: 1.1,
		PositionBoostThreshold:  0.25,
	}
}

// LexicalScorer scores passages by word overlap with the query: phrase matches first, then
// term coverage weighted by TF-IDF over the candidate set. It needs no model.
type LexicalScorer struct {
	config *LexicalConfig
}

// NewLexicalScorer creates a scorer; nil config means DefaultLexicalConfig.
func NewLexicalScorer(config *LexicalConfig) *LexicalScorer {
	if config == nil {
		config = DefaultLexicalConfig()
	}
	return &LexicalScorer{config: config}
}

// Name implements Reranker.
func (s *LexicalScorer) Name() string { return "lexical" }

var phrasePattern = regexp.MustCompile(`["«„“]([^"»“”]+)["»“”]`)

// analyzedQuery is a query split into quoted phrases and distinct terms.
type analyzedQuery struct {
	whole   string
	phrases []string
	terms   []string
}

func analyze(query string) analyzedQuery {
	var q analyzedQuery
	for _, m := range phrasePattern.FindAllStringSubmatch(query, -1) {
		if p := strings.Join(tokenize(m[1]), " "); p != "" {
			q.phrases = append(q.phrases, p)
		}
	}
	words := tokenize(query)
	q.whole = strings.Join(words, " ")
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		if !seen[w] {
			seen[w] = true
			q.terms = append(q.terms, w)
		}
	}
	return q
}

// tokenize lowercases text and splits it into runs of letters and digits.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// passage is a tokenized candidate.
type passage struct {
	words  []string
	joined string
	first  map[string]int
	counts map[string]int
}

func newPassage(text string) passage {
	p := passage{words: tokenize(text), first: make(map[string]int), counts: make(map[string]int)}
	p.joined = " " + strings.Join(p.words, " ") + " "
	for i, w := range p.words {
		if _, ok := p.first[w]; !ok {
			p.first[w] = i
		}
		p.counts[w]++
	}
	return p
}

// Score implements Reranker.
func (s *LexicalScorer) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := analyze(query)
	passages := make([]passage, len(candidates))
	docFreq := make(map[string]int, len(q.terms))
	for i, c := range candidates {
		passages[i] = newPassage(c)
		for _, t := range q.terms {
			if passages[i].counts[t] > 0 {
				docFreq[t]++
			}
		}
	}

	scores := make([]float64, len(candidates))
	for i, p := range passages {
		scores[i] = s.scorePassage(q, p, docFreq, len(candidates))
	}
	return scores, nil
}

func (s *LexicalScorer) scorePassage(q analyzedQuery, p passage, docFreq map[string]int, total int) float64 {
	if len(p.words) == 0 || len(q.terms) == 0 {
		return 0
	}

	score := 0.0
	phrases := q.phrases
	if len(q.terms) > 1 {
		phrases = append(phrases[:len(phrases):len(phrases)], q.whole)
	}
	for _, ph := range phrases {
		score = math.Max(score, s.scorePhrase(ph, p))
	}
	score = math.Max(score, s.scoreTerms(q.terms, p, docFreq, total))

	if score > 0 && s.config.PositionBoostMultiplier > 1 {
		limit := int(math.Ceil(float64(len(p.words)) * s.config.PositionBoostThreshold))
		for _, t := range q.terms {
			if pos, ok := p.first[t]; ok && pos < limit {
				score *= s.config.PositionBoostMultiplier
				break
			}
		}
	}
	return score
}

func (s *LexicalScorer) scorePhrase(phrase string, p passage) float64 {
	count := strings.Count(p.joined, " "+phrase+" ")
	if count == 0 {
		return 0
	}
	// Diminishing bonus for repeats.
	return s.config.PhraseMatchScore + math.Min(float64(count-1)*5, 20)
}

func (s *LexicalScorer) scoreTerms(terms []string, p passage, docFreq map[string]int, total int) float64 {
	matched := 0
	for _, t := range terms {
		if p.counts[t] > 0 {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}

	var base float64
	switch {
	case matched < len(terms):
		base = s.config.ScatteredWordsScore * float64(matched) / float64(len(terms))
	case termsInOrder(terms, p):
		base = s.config.AllWordsInOrderScore
	default:
		base = s.config.ScatteredWordsScore
	}

	if s.config.TFIDFEnabled && total > 0 {
		base *= s.tfidfMultiplier(terms, p, docFreq, total)
	}
	return base
}

// tfidfMultiplier scales 1 + 10*avg(tf*idf) over matched terms, capped at MaxTFIDFMultiplier.
func (s *LexicalScorer) tfidfMultiplier(terms []string, p passage, docFreq map[string]int, total int) float64 {
	sum := 0.0
	n := 0
	for _, t := range terms {
		c := p.counts[t]
		if c == 0 {
			continue
		}
		tf := float64(c) / float64(len(p.words))
		idf := 1.0 + math.Log(float64(total)/float64(docFreq[t]))
		sum += tf * idf
		n++
	}
	if n == 0 {
		return 1.0
	}
	return math.Min(1.0+10*sum/float64(n), s.config.MaxTFIDFMultiplier)
}

func termsInOrder(terms []string, p passage) bool {
	last := -1
	for _, t := range terms {
		pos, ok := p.first[t]
		if !ok || pos < last {
			return false
		}
		last = pos
	}
	return true
}
