package egress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"serene.dev/tdmesh/internal/config"
	"serene.dev/tdmesh/internal/mesh"
	"serene.dev/tdmesh/internal/metrics"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

// messageWriter is the part of *kafka.Writer the transmitter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FrameRecord is the JSON value written for every published frame.
type FrameRecord struct {
	Node      uint32            `json:"node"`
	Hostname  string            `json:"hostname"`
	Seq       uint64            `json:"seq"`
	Samples   []int32           `json:"samples"`
	Vibration int32             `json:"vibration"`
	Timestamp int64             `json:"ts"` // unix milliseconds
	Tags      map[string]string `json:"tags,omitempty"`
}

// KafkaTransmitter exports frames as JSON records keyed by node id.
type KafkaTransmitter struct {
	cfg    config.KafkaEgressConfig
	node   config.NodeConfig
	key    []byte
	writer messageWriter
	now    func() time.Time

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// NewKafkaTransmitter creates an asynchronous batching writer for cfg.
func NewKafkaTransmitter(cfg config.KafkaEgressConfig, node config.NodeConfig) (*KafkaTransmitter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka transmitter: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka transmitter: topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	k := &KafkaTransmitter{}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // one partition per node keeps frames ordered
		BatchSize:    cfg.BatchSize,
		BatchTimeout: config.Duration(cfg.BatchTimeout, defaultBatchTimeout),
		MaxAttempts:  defaultMaxAttempts,
		Compression:  codec,
		// Async so a slow broker never holds up the cycle clock; delivery
		// failures are counted in Completion.
		Async:      true,
		Completion: k.completion,
	}
	k.init(cfg, node, writer)

	slog.Info("kafka transmitter started",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"compression", cfg.Compression,
	)
	return k, nil
}

func newKafkaTransmitter(cfg config.KafkaEgressConfig, node config.NodeConfig, w messageWriter) *KafkaTransmitter {
	k := &KafkaTransmitter{}
	k.init(cfg, node, w)
	return k
}

func (k *KafkaTransmitter) init(cfg config.KafkaEgressConfig, node config.NodeConfig, w messageWriter) {
	k.cfg = cfg
	k.node = node
	k.key = []byte(strconv.FormatUint(uint64(node.ID), 10))
	k.writer = w
	k.now = time.Now
}

// completion runs for every async batch.
func (k *KafkaTransmitter) completion(msgs []kafka.Message, err error) {
	if err != nil {
		k.errorCount.Add(uint64(len(msgs)))
		metrics.EgressErrorsTotal.WithLabelValues(k.Name()).Add(float64(len(msgs)))
		slog.Warn("kafka delivery failed", "messages", len(msgs), "error", err)
	}
}

// Name implements Transmitter.
func (k *KafkaTransmitter) Name() string { return "kafka" }

// Transmit writes one record for the frame.
func (k *KafkaTransmitter) Transmit(ctx context.Context, seq uint64, f mesh.Frame) error {
	ts := k.now()
	value, err := json.Marshal(k.record(seq, f, ts))
	if err != nil {
		k.errorCount.Add(1)
		return fmt.Errorf("serialize frame failed: %w", err)
	}

	msg := kafka.Message{
		Key:   k.key,
		Value: value,
		Time:  ts,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	k.reportedCount.Add(1)
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaTransmitter) Close() error {
	if err := k.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	slog.Info("kafka transmitter stopped",
		"total_reported", k.reportedCount.Load(),
		"total_errors", k.errorCount.Load(),
	)
	return nil
}

func (k *KafkaTransmitter) record(seq uint64, f mesh.Frame, ts time.Time) FrameRecord {
	audio := f.Audio()
	samples := make([]int32, len(audio))
	for i, s := range audio {
		samples[i] = int32(s)
	}
	return FrameRecord{
		Node:      k.node.ID,
		Hostname:  k.node.Hostname,
		Seq:       seq,
		Samples:   samples,
		Vibration: int32(f.Vibration()),
		Timestamp: ts.UnixMilli(),
		Tags:      k.node.Tags,
	}
}

func compressionCodec(name string) (compress.Compression, error) {
	switch name {
	case "none", "":
		return compress.None, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return compress.None, fmt.Errorf("invalid compression type: %s", name)
	}
}
