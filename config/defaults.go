// =============================================================================
// 📦 LearnRAG 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Retrieval: DefaultRetrievalConfig(),
		Redis:     DefaultRedisConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultRetrievalConfig 返回默认检索流水线配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:              100,
		PerRouteTimeout:   2 * time.Second,
		RateLimitRPS:      0,
		RateLimitBurst:    1,
		QueryTimeout:      30 * time.Second,
		KRRF:              60,
		RerankTopN:        150,
		RerankWorkers:     8,
		TokenBudget:       8000,
		DedupThreshold:    0.85,
		EnableProgression: true,
		TokenizerEncoding: "cl100k_base",
		Weights: WeightsConfig{
			Dense:      0.40,
			Sparse:     0.25,
			Graph:      0.25,
			Difficulty: 0.10,
		},
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		ResultTTL:    10 * time.Minute,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "learnrag",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}
