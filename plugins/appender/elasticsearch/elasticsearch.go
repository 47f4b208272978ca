package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterAppender("elasticsearch", NewElasticsearchAppenderFromConfig)
}

// Config represents Elasticsearch appender configuration
type Config struct {
	Addresses     []string      `yaml:"addresses"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	APIKey        string        `yaml:"api_key,omitempty"`
	Index         string        `yaml:"index"`                    // supports date templates such as logs-{yyyy.MM.dd}
	Timeout       time.Duration `yaml:"timeout,omitempty"`        // per bulk request
	BatchSize     int           `yaml:"batch_size,omitempty"`     // flush when this many documents are queued
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"` // background flush period
}

type document struct {
	index string
	body  []byte
}

// ElasticsearchAppender indexes payloads through the bulk API
type ElasticsearchAppender struct {
	config Config
	client *elasticsearch.Client
	logger *zap.Logger
	now    func() time.Time

	batch      []document
	batchMutex sync.Mutex
	closeMutex sync.Mutex
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewElasticsearchAppenderFromConfig creates an Elasticsearch appender from configuration
func NewElasticsearchAppenderFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	return NewElasticsearchAppender(cfg)
}

// NewElasticsearchAppender creates a new Elasticsearch appender. No request is
// made until the first flush; use CheckHealth to probe the cluster.
func NewElasticsearchAppender(config Config) (*ElasticsearchAppender, error) {
	if len(config.Addresses) == 0 {
		config.Addresses = []string{"http://localhost:9200"}
	}
	if config.Index == "" {
		return nil, errors.New("index is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
		APIKey:    config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &ElasticsearchAppender{
		config: config,
		client: client,
		logger: zap.L().Named("elasticsearch").With(zap.String("index", config.Index)),
		now:    time.Now,
		batch:  make([]document, 0, config.BatchSize),
		ctx:    ctx,
		cancel: cancel,
	}

	e.wg.Add(1)
	go e.periodicFlush()

	return e, nil
}

func (e *ElasticsearchAppender) Name() string { return "elasticsearch" }

// Append queues a document and flushes once the batch is full
func (e *ElasticsearchAppender) Append(_ context.Context, payload []byte, entry core.Snapshot) error {
	e.closeMutex.Lock()
	closed := e.closed
	e.closeMutex.Unlock()
	if closed {
		return fmt.Errorf("elasticsearch appender: %w", core.ErrClosed)
	}

	now := e.now()
	doc := document{index: resolveIndexName(e.config.Index, now), body: e.buildDocument(payload, entry, now)}

	e.batchMutex.Lock()
	e.batch = append(e.batch, doc)
	shouldFlush := len(e.batch) >= e.config.BatchSize
	e.batchMutex.Unlock()

	if shouldFlush {
		return e.flush()
	}
	return nil
}

// buildDocument indexes JSON objects as-is and wraps anything else
func (e *ElasticsearchAppender) buildDocument(payload []byte, entry core.Snapshot, now time.Time) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return trimmed
	}

	doc := map[string]any{
		"@timestamp": now.Format(time.RFC3339Nano),
		"level":      entry.Level.String(),
		"message":    string(trimmed),
	}
	if entry.Label != "" {
		doc["label"] = entry.Label
	}
	if fields := entry.Fields(); len(fields) > 0 {
		doc["metadata"] = fields.Map()
	}
	body, _ := json.Marshal(doc)
	return body
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemStatus `json:"items"`
}

type bulkItemStatus struct {
	Status int `json:"status"`
}

// flush sends batched documents to Elasticsearch
func (e *ElasticsearchAppender) flush() error {
	e.batchMutex.Lock()
	if len(e.batch) == 0 {
		e.batchMutex.Unlock()
		return nil
	}
	batch := e.batch
	e.batch = make([]document, 0, e.config.BatchSize)
	e.batchMutex.Unlock()

	var buf bytes.Buffer
	for _, doc := range batch {
		meta, _ := json.Marshal(map[string]any{"index": map[string]any{"_index": doc.index}})
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(doc.body)
		buf.WriteByte('\n')
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
	defer cancel()

	req := esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		return fmt.Errorf("elasticsearch returned status: %s", res.Status())
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if bulkResp.Errors {
		failed := 0
		for _, item := range bulkResp.Items {
			for _, status := range item {
				if status.Status >= 300 {
					failed++
				}
			}
		}
		return fmt.Errorf("bulk request had %d of %d failed items", failed, len(batch))
	}

	e.logger.Debug("bulk indexed", zap.Int("documents", len(batch)))
	return nil
}

func (e *ElasticsearchAppender) periodicFlush() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.flush(); err != nil {
				e.logger.Warn("periodic flush failed", zap.Error(err))
			}
		case <-e.ctx.Done():
			return
		}
	}
}

var indexTemplates = []struct {
	pattern string
	layout  string
}{
	{"{yyyy.MM.dd}", "2006.01.02"},
	{"{yyyy-MM-dd}", "2006-01-02"},
	{"{yyyy.MM}", "2006.01"},
	{"{yyyy-MM}", "2006-01"},
	{"{yyyy}", "2006"},
	{"{MM}", "01"},
	{"{dd}", "02"},
}

// resolveIndexName expands date templates in the index name
func resolveIndexName(index string, t time.Time) string {
	if !strings.Contains(index, "{") {
		return index
	}
	for _, tmpl := range indexTemplates {
		index = strings.ReplaceAll(index, tmpl.pattern, t.Format(tmpl.layout))
	}
	return index
}

// CheckHealth reports whether the cluster answers the info endpoint
func (e *ElasticsearchAppender) CheckHealth(ctx context.Context) error {
	res, err := e.client.Info(e.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		return fmt.Errorf("elasticsearch health check error: %s", res.String())
	}
	return nil
}

// Close stops the background flusher and flushes what is left
func (e *ElasticsearchAppender) Close() error {
	e.closeMutex.Lock()
	if e.closed {
		e.closeMutex.Unlock()
		return nil
	}
	e.closed = true
	e.closeMutex.Unlock()

	e.cancel()
	e.wg.Wait()
	return e.flush()
}
