// Copyright (c) LearnRAG Authors.
// Licensed under the MIT License.

/*
Package main 提供 LearnRAG 命令行程序入口。

# 概述

cmd/learnrag 是检索引擎的可执行入口，从 YAML 语料文件建立
稠密 / 稀疏 / 概念图三路内存索引，执行端到端查询流水线，
并打印带引用来源的压缩上下文。程序支持 YAML 配置文件加载、
结构化日志（zap）、可选的 Redis 结果缓存与 Prometheus 指标。

# 主要能力

  - 子命令：query（执行查询）、analyze（仅查询分析）、version
  - 语料加载：spans（文本 + 来源 + 概念元数据）与 relations（概念边）
  - 配置优先级：默认值 → YAML 文件 → LEARNRAG_* 环境变量
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
