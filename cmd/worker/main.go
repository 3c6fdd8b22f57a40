// Package main is the entry point for the background ingestion worker.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/PoshanP/ThinkFolio-sub000/internal/agent"
	"github.com/PoshanP/ThinkFolio-sub000/internal/config"
	"github.com/PoshanP/ThinkFolio-sub000/internal/embedder"
	"github.com/PoshanP/ThinkFolio-sub000/internal/llm"
	"github.com/PoshanP/ThinkFolio-sub000/internal/loader"
	"github.com/PoshanP/ThinkFolio-sub000/internal/queue"
	"github.com/PoshanP/ThinkFolio-sub000/internal/rag"
	"github.com/PoshanP/ThinkFolio-sub000/internal/splitter"
	"github.com/PoshanP/ThinkFolio-sub000/internal/storage"
	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
	"github.com/PoshanP/ThinkFolio-sub000/pkg/shutdown"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	log.Info("starting ingestion worker",
		"version", version,
		"environment", cfg.Server.Environment,
		"vector_backend", cfg.Ingestion.VectorBackend,
	)

	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)

	db, err := storage.NewPostgres(storage.PostgresConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	shutdownHandler.RegisterNamed("database", func(ctx context.Context) error {
		return db.Close()
	})
	log.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	redisClient, err := storage.NewRedisClient(storage.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		if cfg.Ingestion.VectorBackend == "redis" {
			return fmt.Errorf("redis vector backend selected but redis is unavailable: %w", err)
		}
		log.Warn("redis unavailable, embedding cache disabled", "error", err)
		redisClient = nil
	} else {
		shutdownHandler.RegisterNamed("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
		log.Info("connected to redis", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
	}

	var vectors storage.VectorStore
	if cfg.Ingestion.VectorBackend == "redis" {
		vectors = storage.NewRedisVectorStore(redisClient, log)
	} else {
		vectors = storage.NewPgVectorStore(db, log)
	}

	objects, err := storage.NewMinIOStore(storage.ObjectStoreConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to object storage: %w", err)
	}
	log.Info("connected to object storage", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.BucketName)

	queueClient, err := queue.New(queue.DefaultConfig(cfg.NATS.URL), log)
	if err != nil {
		return err
	}
	shutdownHandler.RegisterNamed("nats", func(ctx context.Context) error {
		return queueClient.Drain()
	})

	embCfg := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
	embCfg.BaseURL = cfg.LLM.BaseURL
	embCfg.Model = cfg.LLM.EmbeddingModel
	embSvc, err := embedder.NewOpenAIService(embCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	generator, err := llm.NewOpenAIGenerator(llm.Config{
		APIKey:      cfg.LLM.OpenAIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	sp, err := splitter.New(splitter.Config{
		ChunkSize:     cfg.Ingestion.ChunkSize,
		ChunkOverlap:  cfg.Ingestion.ChunkOverlap,
		ChunksPerPage: cfg.Ingestion.ChunksPerPage,
	})
	if err != nil {
		return err
	}

	var cache storage.EmbeddingCache
	if redisClient != nil {
		cache = storage.NewRedisEmbeddingCache(redisClient, 0, log)
	}

	store := storage.NewPostgresDocumentStore(db, log)
	manager := rag.NewManager(vectors, embSvc, cache, rag.SearchConfig{
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		SemanticWeight: cfg.Retrieval.SemanticWeight,
		KeywordWeight:  cfg.Retrieval.KeywordWeight,
		MMRFetchK:      cfg.Retrieval.MMRFetchK,
		MMRLambda:      cfg.Retrieval.MMRLambda,
	}, log)
	chain := rag.NewChain(manager, generator, rag.ChainConfig{
		TopK:   cfg.Retrieval.TopK,
		Window: cfg.Retrieval.HistoryWindow,
	}, log)

	ragAgent := agent.New(agent.Deps{
		Store:    store,
		Vectors:  vectors,
		Objects:  objects,
		Splitter: sp,
		Batcher:  embedder.NewBatcher(embSvc, cfg.Ingestion.EmbedBatchSize, log),
		Loader:   loader.New(objects, log),
		Chain:    chain,
	}, agent.DefaultConfig(), log)

	err = queueClient.ConsumeProcessJobs(ctx, func(ctx context.Context, job queue.ProcessJob) error {
		var jobErr error
		if job.Reprocess {
			jobErr = ragAgent.Reprocess(ctx, job.DocumentID)
		} else {
			jobErr = ragAgent.ProcessDocument(ctx, job.DocumentID)
		}

		event := queue.DocumentDoneEvent{
			JobID:      job.JobID,
			DocumentID: job.DocumentID,
			Success:    jobErr == nil,
			FinishedAt: time.Now().UTC(),
		}
		if jobErr != nil {
			event.Error = jobErr.Error()
		} else if doc, getErr := store.GetDocument(ctx, job.DocumentID); getErr == nil {
			event.ChunkCount = doc.ChunkCount
		}
		if pubErr := queueClient.PublishDocumentDone(ctx, event); pubErr != nil {
			log.WithError(pubErr).Warn("failed to publish done event", "job_id", job.JobID)
		}
		return jobErr
	})
	if err != nil {
		return err
	}

	log.Info("worker ready", "nats_url", cfg.NATS.URL)
	shutdownHandler.Wait()

	log.Info("worker stopped")
	return nil
}
