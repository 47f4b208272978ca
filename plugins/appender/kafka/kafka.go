package kafkaappender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/mbiondo/logdog/core"
	"github.com/mbiondo/logdog/pkg/tlsconfig"
)

func init() {
	core.RegisterAppender("kafka", NewKafkaAppenderFromConfig)
}

// Config represents Kafka appender configuration values supplied via YAML.
type Config struct {
	Brokers      []string         `yaml:"brokers"`
	Topic        string           `yaml:"topic"`
	ClientID     string           `yaml:"client_id,omitempty"`
	Username     string           `yaml:"username,omitempty"`
	Password     string           `yaml:"password,omitempty"`
	Compression  string           `yaml:"compression,omitempty"` // gzip, snappy, lz4 or zstd
	BatchSize    int              `yaml:"batch_size,omitempty"`
	BatchTimeout time.Duration    `yaml:"batch_timeout,omitempty"`
	RequiredAcks string           `yaml:"required_acks,omitempty"` // none, one or all
	TLS          tlsconfig.Config `yaml:"tls,omitempty"`
}

// messageWriter is the subset of *kafka.Writer the appender uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaAppenderFromConfig builds a Kafka appender from generic configuration.
func NewKafkaAppenderFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	writer, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaAppender(cfg.Topic, writer), nil
}

func newWriter(cfg Config) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka appender requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka appender requires a topic")
	}

	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	acks, err := parseAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}

	transport := &kafka.Transport{
		ClientID:    cfg.ClientID,
		DialTimeout: 10 * time.Second,
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := cfg.TLS.NewTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		transport.TLS = tlsConfig
	}
	if cfg.Username != "" && cfg.Password != "" {
		transport.SASL = plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: acks,
		Compression:  compression,
		Transport:    transport,
	}, nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported kafka compression %q", name)
	}
}

func parseAcks(value string) (kafka.RequiredAcks, error) {
	switch value {
	case "", "all":
		return kafka.RequireAll, nil
	case "one":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	default:
		return 0, fmt.Errorf("unsupported required_acks %q", value)
	}
}

// KafkaAppender publishes payloads to a topic. The message key is the entry
// label so one label always lands on the same partition.
type KafkaAppender struct {
	topic  string
	writer messageWriter
	mu     sync.RWMutex
	closed bool
}

// NewKafkaAppender creates a Kafka appender around a writer
func NewKafkaAppender(topic string, writer messageWriter) *KafkaAppender {
	return &KafkaAppender{topic: topic, writer: writer}
}

func (k *KafkaAppender) Name() string { return "kafka(" + k.topic + ")" }

// Append publishes one message
func (k *KafkaAppender) Append(ctx context.Context, payload []byte, entry core.Snapshot) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return fmt.Errorf("kafka appender: %w", core.ErrClosed)
	}

	msg := kafka.Message{
		Key:   []byte(entry.Label),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "level", Value: []byte(entry.Level.String())},
		},
		Time: time.Now(),
	}
	if entry.Source != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "source", Value: []byte(entry.Source)})
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes pending batches and closes the writer
func (k *KafkaAppender) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	return k.writer.Close()
}
