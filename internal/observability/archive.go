package observability

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
)

// ArchiveConfig configures long-term request log retention in
// S3-compatible storage. Credentials are resolved before construction;
// empty keys fall back to the SDK's default chain.
type ArchiveConfig struct {
	Bucket        string
	Region        string
	AccessKeyID   string
	SecretKey     string
	Endpoint      string
	PathPrefix    string
	FlushInterval time.Duration
	BatchSize     int
}

// Archiver batches request logs and uploads them as date-partitioned
// JSONL objects. Uploads are best effort: failures are logged and the
// batch is dropped, never retried into the request path.
type Archiver struct {
	cfg    ArchiveConfig
	client *s3.Client
	logger *slog.Logger

	mu    sync.Mutex
	batch []RequestLog

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewArchiver builds the S3 client and starts the flush loop.
func NewArchiver(ctx context.Context, cfg ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	a := &Archiver{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		logger: logger.With("component", "archiver"),
		batch:  make([]RequestLog, 0, cfg.BatchSize),
		stopCh: make(chan struct{}),
	}
	a.wg.Add(1)
	go a.flushLoop()
	return a, nil
}

// Add queues one request log for archival.
func (a *Archiver) Add(log *RequestLog) {
	a.mu.Lock()
	a.batch = append(a.batch, *log)
	full := len(a.batch) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		go a.flush(context.Background())
	}
}

func (a *Archiver) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush(context.Background())
		case <-a.stopCh:
			return
		}
	}
}

func (a *Archiver) flush(ctx context.Context) {
	a.mu.Lock()
	if len(a.batch) == 0 {
		a.mu.Unlock()
		return
	}
	entries := a.batch
	a.batch = make([]RequestLog, 0, a.cfg.BatchSize)
	a.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			a.logger.Warn("skipping unencodable archive entry", "id", entries[i].ID, "error", err)
		}
	}

	key := a.objectKey(time.Now().UTC())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		a.logger.Error("archive upload failed",
			"bucket", a.cfg.Bucket,
			"key", key,
			"entries", len(entries),
			"error", err,
		)
		return
	}
	a.logger.Debug("archived request logs", "key", key, "entries", len(entries))
}

// objectKey builds a date-partitioned key so downstream query engines
// can prune by time.
func (a *Archiver) objectKey(t time.Time) string {
	datePrefix := fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d",
		t.Year(), t.Month(), t.Day(), t.Hour())
	filename := fmt.Sprintf("requests_%d.jsonl", t.UnixNano())
	if a.cfg.PathPrefix != "" {
		return path.Join(a.cfg.PathPrefix, datePrefix, filename)
	}
	return path.Join(datePrefix, filename)
}

// Close flushes what remains and stops the loop.
func (a *Archiver) Close(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
	a.flush(ctx)
	return nil
}
