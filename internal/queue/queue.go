// Package queue provides the NATS-backed ingestion job queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

// Stream and subject layout for ingestion jobs and notifications.
const (
	StreamIngestion = "INGESTION"

	SubjectProcessJob   = "ingestion.jobs.process"
	SubjectDocumentDone = "ingestion.events.done"

	workerQueueGroup = "ingestion-workers"
	durableName      = "ingestion-worker"
)

// Config holds NATS connection configuration.
type Config struct {
	URL            string
	ClientName     string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns default queue configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		ClientName:     "thinkfolio",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// ProcessJob asks a worker to ingest one document.
type ProcessJob struct {
	JobID      string    `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Reprocess  bool      `json:"reprocess"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewProcessJob creates a job for a document.
func NewProcessJob(documentID uuid.UUID, reprocess bool) ProcessJob {
	return ProcessJob{
		JobID:      uuid.New().String(),
		DocumentID: documentID,
		Reprocess:  reprocess,
		EnqueuedAt: time.Now().UTC(),
	}
}

// DocumentDoneEvent reports the outcome of an ingestion job.
type DocumentDoneEvent struct {
	JobID      string    `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	FinishedAt time.Time `json:"finished_at"`
}

// Client wraps the NATS connection and JetStream context.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *logger.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New connects to NATS and ensures the ingestion stream exists.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Default()
	}
	clog := log.WithComponent("queue")

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				clog.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			clog.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &Client{conn: conn, js: js, log: clog}
	if err := client.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	clog.Info("connected to NATS", "url", cfg.URL)
	return client, nil
}

func (c *Client) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:      StreamIngestion,
		Subjects:  []string{"ingestion.>"},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Replicas:  1,
	}

	_, err := c.js.StreamInfo(cfg.Name)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := c.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		c.log.Info("created stream", "stream", cfg.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	return nil
}

// EnqueueProcessJob publishes an ingestion job.
func (c *Client) EnqueueProcessJob(ctx context.Context, job ProcessJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if _, err := c.js.Publish(SubjectProcessJob, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	c.log.Info("job enqueued", "job_id", job.JobID, "document_id", job.DocumentID, "reprocess", job.Reprocess)
	return nil
}

// ConsumeProcessJobs subscribes workers to the job subject. Handler errors
// trigger redelivery; successful jobs are acked.
func (c *Client) ConsumeProcessJobs(ctx context.Context, handler func(context.Context, ProcessJob) error) error {
	sub, err := c.js.QueueSubscribe(SubjectProcessJob, workerQueueGroup, func(msg *nats.Msg) {
		var job ProcessJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			c.log.Error("dropping malformed job", "error", err)
			_ = msg.Term()
			return
		}

		if err := handler(ctx, job); err != nil {
			c.log.WithError(err).Error("job failed", "job_id", job.JobID, "document_id", job.DocumentID)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durableName),
		nats.ManualAck(),
		nats.AckWait(10*time.Minute),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to jobs: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	c.log.Info("consuming ingestion jobs", "queue", workerQueueGroup)
	return nil
}

// PublishDocumentDone publishes the outcome of a job.
func (c *Client) PublishDocumentDone(ctx context.Context, event DocumentDoneEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := c.js.Publish(SubjectDocumentDone, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish done event: %w", err)
	}
	return nil
}

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Drain gracefully drains subscriptions and the connection.
func (c *Client) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			return fmt.Errorf("failed to drain connection: %w", err)
		}
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
