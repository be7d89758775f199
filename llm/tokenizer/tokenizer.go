package tokenizer

import (
	"fmt"

	"github.com/BaSui01/autoheal/types"
)

// Counter kinds accepted by New.
const (
	KindEstimate = "estimate"
	KindTiktoken = "tiktoken"
)

// New 按名称创建 Token 计数器。
func New(kind, model string) (types.TokenCounter, error) {
	switch kind {
	case KindEstimate, "":
		return types.NewEstimateTokenizer(), nil
	case KindTiktoken:
		return NewTiktokenCounter(model), nil
	default:
		return nil, fmt.Errorf("unsupported tokenizer: %s", kind)
	}
}

// Truncate 截断 text，使其 Token 数不超过 budget。
// 在字符边界上二分查找最长前缀。
func Truncate(counter types.TokenCounter, text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if counter.CountTokens(text) <= budget {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.CountTokens(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
