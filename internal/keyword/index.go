// Package keyword provides keyword (BM25) indexing and search over transcript chunks.
package keyword

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// PhraseBoost multiplies the score when query terms appear close together (phrase match).
	// Values > 1 boost chunks with adjacent query terms (e.g. 1.5). Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance, which matters for
	// speech-to-text output where names are often misspelled.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// Hit is a single keyword search hit. Position is the chunk's position in the slice the
// index was built from.
type Hit struct {
	Position int
	Score    float64
}
