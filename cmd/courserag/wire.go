package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"courserag/internal/assistant"
	"courserag/internal/chunker"
	"courserag/internal/config"
	"courserag/internal/domain"
	"courserag/internal/embedding/genai"
	"courserag/internal/embedding/hashed"
	embopenai "courserag/internal/embedding/openai"
	histmemory "courserag/internal/history/memory"
	"courserag/internal/history/redis"
	histsqlite "courserag/internal/history/sqlite"
	"courserag/internal/index"
	"courserag/internal/llm"
	llmopenai "courserag/internal/llm/openai"
	"courserag/internal/service"
	"courserag/internal/summarizer"
	"courserag/internal/tools"
	"courserag/internal/vectorstore"
	"courserag/internal/vectorstore/memory"
	"courserag/internal/vectorstore/qdrant"
	"courserag/internal/vectorstore/sqlite"
)

// app holds the assembled components of one command run.
type app struct {
	cfg     *config.AppConfig
	index   *index.Index
	tools   *tools.Set
	service *service.RAGService
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

func build(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	emb, err := newEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	store, err := newVectorStore(cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	hist, err := newHistory(ctx, cfg.History)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, hist.Close)

	a.index = index.New(store, emb, logger.Named("index"))
	a.tools = tools.NewSet(a.index, cfg.Retrieval.TopK, logger.Named("tools"))

	// The model is only needed to answer, so a missing key does not stop
	// ingest, courses or mcp.
	model, err := newModel(cfg.LLM)
	if err != nil {
		logger.Debug("language model unavailable", zap.Error(err))
		model = unavailableModel(err)
	}

	var sum *summarizer.FrequencySummarizer
	switch cfg.Summarizer.Type {
	case "frequency":
		sum = summarizer.NewFrequencySummarizer()
	case "none":
	default:
		a.Close()
		return nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
	}

	ch := chunker.NewTranscriptChunker(cfg.Chunker.Size, cfg.Chunker.Overlap,
		chunker.NewSentenceBoundary(cfg.Chunker.Punctuation), logger.Named("chunker"))
	asst := assistant.New(model, a.tools, hist, logger.Named("assistant"))
	a.service = service.NewRAGService(ch, a.index, asst, sum, service.Options{
		Workers:          cfg.Ingest.Workers,
		SummarySentences: cfg.Summarizer.MaxSentences,
	}, logger.Named("service"))
	return a, nil
}

func newEmbedder(ctx context.Context, cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashed":
		return hashed.NewEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		client, err := embopenai.NewClient(embopenai.Config{
			BaseURL:    cfg.OpenAI.BaseURL,
			APIKeyEnv:  cfg.OpenAI.APIKeyEnv,
			Model:      cfg.OpenAI.Model,
			Timeout:    config.Seconds(cfg.OpenAI.TimeoutSecs, 30*time.Second),
			MaxRetries: cfg.OpenAI.MaxRetries,
		}, logger.Named("embedder"))
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	case "genai":
		if cfg.GenAI == nil {
			return nil, errors.New("genai embedder config missing")
		}
		client, err := genai.NewClient(ctx, genai.Config{
			APIKeyEnv: cfg.GenAI.APIKeyEnv,
			Model:     cfg.GenAI.Model,
			TaskType:  cfg.GenAI.TaskType,
			Dimension: cfg.GenAI.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("genai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
}

func newVectorStore(cfg config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "sqlite":
		if cfg.SQLite == nil {
			return nil, errors.New("sqlite vector store config missing")
		}
		return sqlite.Open(cfg.SQLite.Path)
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		var key string
		if cfg.Qdrant.APIKeyEnv != "" {
			key = os.Getenv(cfg.Qdrant.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:              cfg.Qdrant.URL,
			APIKey:           key,
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
			Timeout:          config.Seconds(cfg.Qdrant.TimeoutSecs, 10*time.Second),
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

func newHistory(ctx context.Context, cfg config.HistoryConfig) (domain.HistoryStore, error) {
	switch cfg.Type {
	case "memory":
		return histmemory.NewStoreWithLimit(cfg.MaxMessages, cfg.MaxSessions), nil
	case "sqlite":
		if cfg.SQLite == nil {
			return nil, errors.New("sqlite history config missing")
		}
		return histsqlite.Open(cfg.SQLite.Path, cfg.MaxMessages)
	case "redis":
		if cfg.Redis == nil {
			return nil, errors.New("redis history config missing")
		}
		var password string
		if cfg.Redis.PasswordEnv != "" {
			password = os.Getenv(cfg.Redis.PasswordEnv)
		}
		return redis.Connect(ctx, redis.Config{
			Addr:        cfg.Redis.Addr,
			Password:    password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			MaxMessages: cfg.MaxMessages,
			TTL:         time.Duration(cfg.Redis.TTLSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown history store: %s", cfg.Type)
	}
}

func newModel(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return llmopenai.NewClient(llmopenai.Config{
			BaseURL:     cfg.BaseURL,
			APIKeyEnv:   cfg.APIKeyEnv,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     config.Seconds(cfg.TimeoutSecs, time.Minute),
		}, logger.Named("llm"))
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// unavailableModel fails every completion with the construction error.
func unavailableModel(cause error) llm.Client {
	return llm.ClientFunc(func(context.Context, llm.Request) (llm.Response, error) {
		return llm.Response{}, fmt.Errorf("language model unavailable: %w", cause)
	})
}
