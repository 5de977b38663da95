package retrieval

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 是压缩器使用的 token 计数接口.
// token 预算以下游生成消费者的 token 单位度量.
type Tokenizer interface {
	// CountTokens 返回文本的 token 数.
	CountTokens(text string) int

	// Name 返回分词器名称.
	Name() string
}

// ====== tiktoken 分词器 ======

// TiktokenTokenizer 基于 tiktoken 编码计数.
// 编码数据懒加载; 底层出错时回退到字符估算并记录警告.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	logger   *zap.Logger
}

// NewTiktokenTokenizer 创建 tiktoken 分词器.
// encoding 如 "cl100k_base", "o200k_base"; 空值使用 cl100k_base.
func NewTiktokenTokenizer(encoding string, logger *zap.Logger) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

// init 懒初始化 tiktoken 编码（首次使用时可能下载数据）.
func (t *TiktokenTokenizer) init() error {
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

// CountTokens 实现 Tokenizer. 初始化失败时回退到 len(text)/4 估算.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		t.logger.Warn("tiktoken unavailable, falling back to estimate",
			zap.Error(err))
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Name 实现 Tokenizer.
func (t *TiktokenTokenizer) Name() string {
	return "tiktoken/" + t.encoding
}

// ====== 估算分词器 ======

// EstimatorTokenizer 不依赖外部编码数据的估算分词器, CJK 感知:
// ASCII 文本约 4 字符一个 token, CJK 字符约每字一个 token.
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer 创建估算分词器.
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

// CountTokens 实现 Tokenizer.
func (t *EstimatorTokenizer) CountTokens(text string) int {
	return estimateTokens(text)
}

// Name 实现 Tokenizer.
func (t *EstimatorTokenizer) Name() string { return "estimator" }

func estimateTokens(text string) int {
	ascii := 0
	wide := 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else {
			wide++
		}
	}
	n := ascii/4 + wide
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
