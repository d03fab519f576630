package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != clsToken {
		t.Errorf("expected CLS 101, got %d", ids[0])
	}
	if ids[3] != sepToken {
		t.Errorf("expected SEP after two words, got %d", ids[3])
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Error("attention should cover CLS, words and SEP only")
	}
	for i, tt := range types {
		if tt != 0 {
			t.Errorf("token type %d = %d, want 0", i, tt)
		}
	}
}

func TestSimpleTokenizer_TokenizePair(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.TokenizePair("who spoke", "alice spoke first", 16)
	// [CLS] who spoke [SEP] alice spoke first [SEP]
	if ids[3] != sepToken || ids[7] != sepToken {
		t.Errorf("separators at wrong positions: %v", ids[:8])
	}
	if types[2] != 0 || types[4] != 1 || types[7] != 1 {
		t.Errorf("token types = %v", types[:8])
	}
	if attn[7] != 1 || attn[8] != 0 {
		t.Errorf("attention = %v", attn[:9])
	}
}

func TestSimpleTokenizer_TokenizePairTruncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	long := "a b c d e f g h i j k l m n o p"
	ids, _, types := tok.TokenizePair(long, long, 8)
	if len(ids) != 8 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	hasSecond := false
	for _, tt := range types {
		if tt == 1 {
			hasSecond = true
		}
	}
	if !hasSecond {
		t.Error("second segment was truncated away entirely")
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  a  b \n c  ")
	if len(words) != 3 {
		t.Errorf("expected 3 words, got %v", words)
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestHashString(t *testing.T) {
	h := HashString("abc")
	if h == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
}
