// Copyright (c) LearnRAG Authors.
// Licensed under the MIT License.

/*
Package types 提供 learnrag 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 retrieval、config 等
上层模块提供统一的错误契约。检索管线中所有跨包共享的错误码均定义于此，
以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Retryable 与 Route 标记

# 错误传播策略

只有 INVALID_QUERY 与 INVALID_CONFIG 作为硬失败逃逸到调用方；
ADAPTER_TIMEOUT / ADAPTER_ERROR 在路由层局部恢复为降级空贡献，
SCORING_UNAVAILABLE 在重排序层按候选局部恢复。NO_RESULTS 是可表示的
终态哨兵，调用方通过 types.IsCode(err, types.ErrNoResults) 区分。
*/
package types
