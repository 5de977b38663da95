// =============================================================================
// LearnRAG 主入口
// =============================================================================
// 混合检索 + 多阶段重排序 + 上下文压缩的命令行入口
//
// 使用方法:
//
//	learnrag query --corpus corpus.yaml "what is gradient descent"
//	learnrag query --config config.yaml --corpus corpus.yaml --budget 4000 "..."
//	learnrag analyze "compare BFS and DFS"
//	learnrag version
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/learnrag/config"
	"github.com/BaSui01/learnrag/internal/cache"
	"github.com/BaSui01/learnrag/internal/metrics"
	"github.com/BaSui01/learnrag/retrieval"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "query":
		runQuery(os.Args[2:])
	case "analyze":
		runAnalyze(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🔍 query 命令
// =============================================================================

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	corpusPath := fs.String("corpus", "", "Path to corpus YAML file")
	budget := fs.Int("budget", 0, "Token budget override")
	intent := fs.String("intent", "", "Force query intent")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "query requires a query string")
		os.Exit(1)
	}
	queryText := strings.Join(fs.Args(), " ")

	if *corpusPath == "" {
		fmt.Fprintln(os.Stderr, "query requires --corpus")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	engine, cleanup, err := buildEngine(cfg, *corpusPath, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}
	defer cleanup()

	opts := &retrieval.QueryOptions{TokenBudget: *budget}
	if *intent != "" {
		opts.Intent = retrieval.Intent(*intent)
	}

	result, err := engine.RetrieveAndCompress(context.Background(), queryText, opts)
	if err != nil {
		logger.Fatal("query failed", zap.Error(err))
	}

	printContext(result)
}

// =============================================================================
// 🧪 analyze 命令
// =============================================================================

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "analyze requires a query string")
		os.Exit(1)
	}
	queryText := strings.Join(fs.Args(), " ")

	analyzer := retrieval.NewAnalyzer(retrieval.DefaultAnalyzerConfig(), zap.NewNop())
	q, subs, err := analyzer.Analyze(queryText)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analyze failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("intent:     %s\n", q.Intent)
	fmt.Printf("difficulty: %s\n", q.Difficulty)
	fmt.Printf("concepts:   %s\n", strings.Join(q.Concepts, ", "))
	fmt.Printf("sub-queries:\n")
	for _, sub := range subs {
		deps := ""
		if len(sub.DependsOn) > 0 {
			deps = fmt.Sprintf("  (depends on %v)", sub.DependsOn)
		}
		fmt.Printf("  [%d] %s%s\n", sub.Index, sub.Text, deps)
	}
}

// =============================================================================
// 🔧 装配
// =============================================================================

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.WithValidator((*config.Config).Validate).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// buildEngine 加载语料, 建三路索引并装配引擎.
func buildEngine(cfg *config.Config, corpusPath string, logger *zap.Logger) (*retrieval.Engine, func(), error) {
	corpus, err := loadCorpus(corpusPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load corpus: %w", err)
	}

	embedder := retrieval.NewHashingEmbedder(0)
	dense := retrieval.NewDenseSource(embedder, logger)
	sparse := retrieval.NewSparseSource(retrieval.DefaultSparseConfig(), logger)
	graph := retrieval.NewGraphSource(logger)

	spans := corpus.Spans
	for i := range spans {
		if spans[i].Embedding == nil {
			spans[i].Embedding, _ = embedder.Embed(context.Background(), spans[i].Text)
		}
	}
	if err := dense.Index(spans); err != nil {
		return nil, nil, fmt.Errorf("index dense: %w", err)
	}
	if err := sparse.Index(spans); err != nil {
		return nil, nil, fmt.Errorf("index sparse: %w", err)
	}
	if err := graph.Index(spans); err != nil {
		return nil, nil, fmt.Errorf("index graph: %w", err)
	}
	for _, rel := range corpus.Relations {
		graph.AddRelation(rel.From, rel.To, rel.Weight)
	}
	logger.Info("corpus indexed",
		zap.Int("spans", len(spans)),
		zap.Int("relations", len(corpus.Relations)))

	sources := []retrieval.CandidateSource{dense, sparse, graph}
	engineCfg := engineConfigFrom(cfg)

	var opts []retrieval.EngineOption
	cleanup := func() {}

	if cfg.Redis.Enabled {
		manager, err := cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DefaultTTL:   cfg.Redis.ResultTTL,
		}, logger)
		if err != nil {
			// 缓存不可用不致命, 降级为直连检索
			logger.Warn("result cache unavailable", zap.Error(err))
		} else {
			opts = append(opts, retrieval.WithResultCache(manager))
			cleanup = func() { manager.Close() }
		}
	}

	if cfg.Metrics.Enabled {
		opts = append(opts, retrieval.WithMetrics(
			metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)))
	}

	opts = append(opts, retrieval.WithTokenizer(
		retrieval.NewTiktokenTokenizer(cfg.Retrieval.TokenizerEncoding, logger)))

	engine, err := retrieval.NewEngine(engineCfg, sources, logger, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	prevCleanup := cleanup
	cleanup = func() {
		engine.Close()
		prevCleanup()
	}
	return engine, cleanup, nil
}

// engineConfigFrom 把外部配置映射为引擎配置.
func engineConfigFrom(cfg *config.Config) retrieval.EngineConfig {
	engineCfg := retrieval.DefaultEngineConfig()
	engineCfg.Router.TopK = cfg.Retrieval.TopK
	engineCfg.Router.PerRouteTimeout = cfg.Retrieval.PerRouteTimeout
	engineCfg.Router.RateLimitRPS = cfg.Retrieval.RateLimitRPS
	engineCfg.Router.RateLimitBurst = cfg.Retrieval.RateLimitBurst
	engineCfg.QueryTimeout = cfg.Retrieval.QueryTimeout
	engineCfg.Fusion.KRRF = cfg.Retrieval.KRRF
	engineCfg.Fusion.Weights = retrieval.RouteWeights{
		Dense:      cfg.Retrieval.Weights.Dense,
		Sparse:     cfg.Retrieval.Weights.Sparse,
		Graph:      cfg.Retrieval.Weights.Graph,
		Difficulty: cfg.Retrieval.Weights.Difficulty,
	}
	if len(cfg.Retrieval.IntentWeights) > 0 {
		engineCfg.IntentWeights = make(map[retrieval.Intent]retrieval.RouteWeights, len(cfg.Retrieval.IntentWeights))
		for intent, w := range cfg.Retrieval.IntentWeights {
			engineCfg.IntentWeights[retrieval.Intent(intent)] = retrieval.RouteWeights{
				Dense:      w.Dense,
				Sparse:     w.Sparse,
				Graph:      w.Graph,
				Difficulty: w.Difficulty,
			}
		}
	}
	engineCfg.Rerank.TopN = cfg.Retrieval.RerankTopN
	engineCfg.Rerank.Workers = cfg.Retrieval.RerankWorkers
	engineCfg.Compressor.TokenBudget = cfg.Retrieval.TokenBudget
	engineCfg.Compressor.DedupSimilarityThreshold = cfg.Retrieval.DedupThreshold
	engineCfg.Compressor.EnableProgression = cfg.Retrieval.EnableProgression
	engineCfg.CacheTTL = cfg.Redis.ResultTTL
	return engineCfg
}

// =============================================================================
// 🖨️ 输出
// =============================================================================

func printContext(result *retrieval.CompressedContext) {
	if result.NoResults {
		fmt.Println("no results: all retrieval routes returned zero candidates")
		return
	}

	for i, entry := range result.Entries {
		cite := entry.Source.DocumentID
		if entry.Source.Title != "" {
			cite = entry.Source.Title
		}
		if entry.Source.Page > 0 {
			cite = fmt.Sprintf("%s, p.%d", cite, entry.Source.Page)
		}
		fmt.Printf("--- [%d] %s (score %.4f, %d tokens)\n", i+1, cite, entry.Composite, entry.TokenCount)
		fmt.Println(entry.Text)
	}

	fmt.Printf("\n%d entries, %d/%d tokens, %d dropped\n",
		len(result.Entries), result.TotalTokens, result.TokenBudget, result.DroppedCount)
	if result.Degraded() {
		fmt.Printf("degraded routes: %v\n", result.DegradedRoutes)
	}
	if result.PartiallyScored > 0 {
		fmt.Printf("partially scored entries: %d\n", result.PartiallyScored)
	}
	if result.PrerequisiteOrdered {
		fmt.Println("entries reordered into prerequisite order")
	}
}

func printVersion() {
	fmt.Printf("LearnRAG %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`LearnRAG - hybrid retrieval, reranking and context compression

Usage:
  learnrag query --corpus corpus.yaml [--config config.yaml] [--budget N] [--intent I] <query>
  learnrag analyze <query>
  learnrag version`)
}

// =============================================================================
// 📝 日志
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
