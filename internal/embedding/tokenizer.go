package embedding

import "strings"

const (
	clsToken = 101
	sepToken = 102
	// vocabSize bounds hashed token IDs below the special tokens' range of typical BERT vocabularies.
	vocabSize = 30000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize produces [CLS] words [SEP], padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	return t.TokenizePair(text, "", maxTokens)
}

// TokenizePair produces [CLS] first [SEP] second [SEP] for cross-encoders, with token type 1
// on the second segment. An empty second produces the single-segment layout.
func (t *SimpleTokenizer) TokenizePair(first, second string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	pos := 1

	put := func(words []string, typeID int64, reserve int) {
		for _, word := range words {
			if pos >= maxTokens-reserve {
				break
			}
			inputIDs[pos] = int64(HashString(word) % vocabSize)
			attentionMask[pos] = 1
			tokenTypeIDs[pos] = typeID
			pos++
		}
		if pos < maxTokens {
			inputIDs[pos] = sepToken
			attentionMask[pos] = 1
			tokenTypeIDs[pos] = typeID
			pos++
		}
	}

	secondWords := SplitWords(second)
	if len(secondWords) == 0 {
		put(SplitWords(first), 0, 1)
		return inputIDs, attentionMask, tokenTypeIDs
	}
	// leave at least half of the window for the passage
	put(SplitWords(first), 0, maxTokens/2)
	put(secondWords, 1, 1)
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	return words
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		// -MinInt overflows back to MinInt
		h = 0
	}
	return h
}
