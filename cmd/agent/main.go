// Package main is the entry point for the document agent CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

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
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:     "agent",
		Short:   "ThinkFolio document agent CLI",
		Long:    "CLI for ingesting documents and asking questions over them.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newSummarizeCmd())
	rootCmd.AddCommand(newInsightsCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newReprocessCmd())

	return rootCmd.Execute()
}

// app bundles everything a command needs, built from configuration.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *storage.PostgresDB
	redis   *storage.RedisClient
	store   storage.DocumentStore
	vectors storage.VectorStore
	objects storage.ObjectStore
	queue   *queue.Client
	agent   *agent.Agent
}

func (a *app) close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// newApp wires storage, retrieval, and generation from the environment.
// withQueue also connects to NATS so jobs can be enqueued.
func newApp(withQueue bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

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
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db}
	a.store = storage.NewPostgresDocumentStore(db, log)

	a.redis, err = storage.NewRedisClient(storage.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("redis unavailable, embedding cache disabled", "error", err)
		a.redis = nil
	}

	switch cfg.Ingestion.VectorBackend {
	case "redis":
		if a.redis == nil {
			a.close()
			return nil, fmt.Errorf("redis vector backend selected but redis is unavailable")
		}
		a.vectors = storage.NewRedisVectorStore(a.redis, log)
	default:
		a.vectors = storage.NewPgVectorStore(db, log)
	}

	a.objects, err = storage.NewMinIOStore(storage.ObjectStoreConfig{
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		BucketName:      cfg.Storage.BucketName,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}

	if withQueue {
		a.queue, err = queue.New(queue.DefaultConfig(cfg.NATS.URL), log)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	embCfg := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
	embCfg.BaseURL = cfg.LLM.BaseURL
	embCfg.Model = cfg.LLM.EmbeddingModel
	embSvc, err := embedder.NewOpenAIService(embCfg, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	generator, err := llm.NewOpenAIGenerator(llm.Config{
		APIKey:      cfg.LLM.OpenAIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	sp, err := splitter.New(splitter.Config{
		ChunkSize:     cfg.Ingestion.ChunkSize,
		ChunkOverlap:  cfg.Ingestion.ChunkOverlap,
		ChunksPerPage: cfg.Ingestion.ChunksPerPage,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	var cache storage.EmbeddingCache
	if a.redis != nil {
		cache = storage.NewRedisEmbeddingCache(a.redis, 0, log)
	}

	manager := rag.NewManager(a.vectors, embSvc, cache, rag.SearchConfig{
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

	a.agent = agent.New(agent.Deps{
		Store:    a.store,
		Vectors:  a.vectors,
		Objects:  a.objects,
		Splitter: sp,
		Batcher:  embedder.NewBatcher(embSvc, cfg.Ingestion.EmbedBatchSize, log),
		Loader:   loader.New(a.objects, log),
		Chain:    chain,
	}, agent.DefaultConfig(), log)

	return a, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := storage.NewPostgres(storage.PostgresConfig{
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				Database: cfg.Database.Database,
				SSLMode:  cfg.Database.SSLMode,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	var (
		title   string
		rawURL  string
		userID  string
		enqueue bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest documents from files or a URL",
		Long:  "Upload local files (or register a URL), then chunk, embed, and index them.",
		Example: `  # Ingest local PDFs
  agent ingest paper.pdf notes.txt

  # Ingest a web page
  agent ingest --url=https://example.com/article

  # Register the documents and let the worker process them
  agent ingest --enqueue paper.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && rawURL == "" {
				return fmt.Errorf("no files or URL specified")
			}
			owner, err := parseNullUUID(userID)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}

			a, err := newApp(enqueue)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if rawURL != "" {
				return ingestOne(ctx, a, &storage.Document{
					UserID:     owner,
					Title:      orDefault(title, rawURL),
					SourceType: storage.SourceURL,
					SourceRef:  rawURL,
				}, nil, enqueue)
			}

			bar := progressbar.NewOptions(len(args),
				progressbar.OptionSetDescription("Ingesting documents"),
				progressbar.OptionShowCount(),
			)
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				sourceType := storage.SourceText
				if strings.EqualFold(filepath.Ext(path), ".pdf") {
					sourceType = storage.SourcePDF
				}
				doc := &storage.Document{
					UserID:     owner,
					Title:      orDefault(title, filepath.Base(path)),
					SourceType: sourceType,
					SourceRef:  filepath.Base(path),
				}
				if err := ingestOne(ctx, a, doc, data, enqueue); err != nil {
					return err
				}
				bar.Add(1)
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (defaults to file name or URL)")
	cmd.Flags().StringVarP(&rawURL, "url", "u", "", "Web page URL to ingest")
	cmd.Flags().StringVar(&userID, "user", "", "Owning user ID")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Enqueue for the background worker instead of processing inline")

	return cmd
}

// ingestOne registers a document and either processes it inline or hands it
// to the worker queue.
func ingestOne(ctx context.Context, a *app, doc *storage.Document, data []byte, enqueue bool) error {
	if data != nil {
		contentType := "text/plain"
		if doc.SourceType == storage.SourcePDF {
			contentType = "application/pdf"
		}
		if err := a.objects.Upload(ctx, doc.SourceRef, data, contentType); err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
	}

	if err := a.store.CreateDocument(ctx, doc); err != nil {
		return err
	}

	if enqueue {
		return a.queue.EnqueueProcessJob(ctx, queue.NewProcessJob(doc.ID, false))
	}
	return a.agent.ProcessDocument(ctx, doc.ID)
}

func newAskCmd() *cobra.Command {
	var (
		sessionID  string
		userID     string
		docIDs     []string
		searchType string
		noStream   bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question over the ingested documents",
		Args:  cobra.MinimumNArgs(1),
		Example: `  agent ask "What does the methodology section describe?"

  # Continue a conversation
  agent ask --session=<id> "And what were the results?"

  # Restrict to specific documents with keyword search
  agent ask --docs=<id1>,<id2> --search-type=keyword "error bounds"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			in := agent.QueryInput{
				Question:   strings.Join(args, " "),
				SearchType: rag.SearchType(searchType),
			}
			if sessionID != "" {
				in.SessionID, err = uuid.Parse(sessionID)
				if err != nil {
					return fmt.Errorf("invalid session id: %w", err)
				}
			}
			in.UserID, err = parseNullUUID(userID)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			in.DocumentIDs, err = parseUUIDs(docIDs)
			if err != nil {
				return err
			}

			var out *agent.QueryOutput
			if noStream {
				out, err = a.agent.Query(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Println(out.Answer)
			} else {
				out, err = a.agent.StreamQuery(cmd.Context(), in, func(delta string) error {
					fmt.Print(delta)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Println()
			}

			if len(out.Citations) > 0 {
				fmt.Println("\nSources:")
				for _, c := range out.Citations {
					line := fmt.Sprintf("  [%d] %s", c.Rank, c.Snippet)
					if c.PageNumber > 0 {
						line += fmt.Sprintf(" (page %d)", c.PageNumber)
					}
					fmt.Println(line)
				}
			}
			fmt.Printf("\nsession: %s\n", out.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to continue a conversation")
	cmd.Flags().StringVar(&userID, "user", "", "User ID owning the session")
	cmd.Flags().StringSliceVarP(&docIDs, "docs", "d", nil, "Restrict retrieval to these document IDs")
	cmd.Flags().StringVar(&searchType, "search-type", "", "Retrieval strategy: similarity, mmr, keyword, or hybrid")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the full answer instead of streaming")

	return cmd
}

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [document-id]",
		Short: "Generate a summary of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.agent.Summarize(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}
}

func newInsightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insights [document-id]",
		Short: "Extract key insights from a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			insights, err := a.agent.ExtractInsights(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, insight := range insights {
				fmt.Printf("- %s\n", insight)
			}
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var (
		userID     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents and their processing status",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseNullUUID(userID)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			docs, err := a.store.ListDocuments(cmd.Context(), owner)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(docs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}

			for _, doc := range docs {
				fmt.Printf("%s  %-10s  %4d chunks  %s\n", doc.ID, doc.Status, doc.ChunkCount, doc.Title)
				if doc.Status == storage.StatusFailed && doc.StatusError != "" {
					fmt.Printf("    error: %s\n", doc.StatusError)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only list documents owned by this user ID")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id]",
		Short: "Delete a document and all of its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.agent.DeleteDocument(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Println("deleted", id)
			return nil
		},
	}
}

func newReprocessCmd() *cobra.Command {
	var enqueue bool

	cmd := &cobra.Command{
		Use:   "reprocess [document-id]",
		Short: "Re-run ingestion for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			a, err := newApp(enqueue)
			if err != nil {
				return err
			}
			defer a.close()

			if enqueue {
				return a.queue.EnqueueProcessJob(cmd.Context(), queue.NewProcessJob(id, true))
			}
			return a.agent.Reprocess(cmd.Context(), id)
		},
	}

	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Enqueue for the background worker instead of processing inline")
	return cmd
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid document id %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}

func parseNullUUID(s string) (uuid.NullUUID, error) {
	if s == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
