// Copyright 2025-2026 LearnRAG Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package retrieval 提供面向教学场景的混合检索、多阶段重排序与
上下文压缩的完整实现。

该包覆盖查询到上下文的全部阶段：查询分析（意图分类、概念抽取、
子查询分解、难度估计）、三路并发检索（稠密向量 / BM25 稀疏 /
概念图激活扩散）、加权 Reciprocal Rank Fusion 融合去重、
五函数集成重排序以及预算内确定性上下文压缩。

# 核心接口/类型

  - Engine — 端到端流水线入口（RetrieveAndCompress）
  - CandidateSource — 候选来源适配器统一接口（Route / Search）
  - Scorer — 重排序评分函数接口（五个内置实现，支持按意图注入）
  - Embedder — 稠密路由的向量化接口（内置确定性特征哈希实现）
  - Tokenizer — 压缩预算核算的分词器接口（tiktoken / 估算两种实现）
  - CompressedContext — 交给下游生成消费者的最终产物

# 主要能力

  - 查询分析：七种固定意图的规则分类（首条命中生效）、领域概念抽取、
    复合查询分解（前置型分解携带依赖顺序）、三级难度估计（Analyzer）
  - 并发路由：errgroup 扇出，单路超时与限流，失败路由降级打标
    而非整体失败（Router）
  - 加权融合：w/(k+rank) 跨路由跨子查询累加，内容寻址去重，
    难度匹配加成，全空产出 NoResults 终态（Fuser）
  - 集成重排序：语义 / 教学 / 概念 / 清晰度 / 权威度五函数加权，
    意图调制教学子权重，单函数失败按成功权重比例归一（Reranker）
  - 上下文压缩：近重复跳过（不同来源视为不同视角保留）、
    整片段预算准入（从不截断）、可选学习进阶稳定重排（Compressor）
  - 结果缓存与可观测：Redis 结果缓存、Prometheus 指标、OTel 追踪
*/
package retrieval
