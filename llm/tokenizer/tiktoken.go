package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/autoheal/types"
	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter 使用 tiktoken 对 OpenAI 系列模型精确计数。
// 编码数据在首次使用时加载；加载失败时回退到估算器。
type TiktokenCounter struct {
	model    string
	encoding string
	fallback *types.EstimateTokenizer

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// modelEncodings 将模型名称映射到其 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// encodingFor 返回模型的编码，按最长前缀匹配，默认 cl100k_base。
func encodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best, bestLen := "cl100k_base", 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

// NewTiktokenCounter 为给定模型创建计数器。
func NewTiktokenCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{
		model:    model,
		encoding: encodingFor(model),
		fallback: types.NewEstimateTokenizer(),
	}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 实现 types.TokenCounter
func (t *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Err 返回编码初始化错误（未初始化或成功时为 nil）。
func (t *TiktokenCounter) Err() error {
	return t.initErr
}

// Name 返回计数器名称
func (t *TiktokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
