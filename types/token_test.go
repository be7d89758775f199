package types

import "testing"

func TestEstimateTokenizer_Counting(t *testing.T) {
	t.Parallel()

	tok := NewEstimateTokenizer()

	if got := tok.CountTokens(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty, got %d", got)
	}
	if got := tok.CountTokens("a"); got != 1 {
		t.Fatalf("expected minimum 1 token for non-empty, got %d", got)
	}
	if got := tok.CountTokens("abcdefghijklmnop"); got != 4 {
		t.Fatalf("expected 4 tokens for 16 ascii chars, got %d", got)
	}
	if got := tok.CountTokens("登录按钮"); got < 2 {
		t.Fatalf("expected cjk text to weigh more, got %d", got)
	}
}

func TestEstimateTokenizer_ImplementsCounter(t *testing.T) {
	t.Parallel()
	var _ TokenCounter = NewEstimateTokenizer()
}
