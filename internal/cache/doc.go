// 版权所有 2025 LearnRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的检索结果缓存能力，支持连接池、
健康检查与 JSON 序列化。

# 概述

本包封装 go-redis 客户端，为检索引擎缓存压缩后的上下文结果。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。
缓存键由查询文本与选项指纹派生，相同查询在 TTL 内命中同一条目。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 GetResult/SetResult/Delete/Ping 等操作。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL
    与健康检查间隔等参数。

# 主要能力

  - 结果存取：压缩上下文以 JSON 序列化后整体缓存。
  - 键派生：ResultKey 用 SHA-256 把查询与选项折叠为稳定键。
  - 连接池管理：通过 PoolSize 与 MinIdleConns 控制连接复用。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 优雅关闭：Close 方法安全释放底层 Redis 连接。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
