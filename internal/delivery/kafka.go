package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaDeliverer publishes one digest event per run
type KafkaDeliverer struct {
	producer sarama.SyncProducer
	topic    string
}

// digestEvent is the message value; consumers fetch full digests from the other sinks
type digestEvent struct {
	RunID       string         `json:"run_id"`
	Status      string         `json:"status"`
	GeneratedAt string         `json:"generated_at"`
	Title       string         `json:"title"`
	Metrics     Metrics        `json:"metrics"`
	Headlines   []headlineItem `json:"headlines"`
}

type headlineItem struct {
	Category string   `json:"category"`
	Title    string   `json:"title"`
	URLs     []string `json:"urls,omitempty"`
}

// NewKafkaDeliverer connects a synchronous producer to brokers
func NewKafkaDeliverer(brokers []string, topic string) (*KafkaDeliverer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaDelivererWithProducer(producer, topic), nil
}

// NewKafkaDelivererWithProducer wraps an existing producer
func NewKafkaDelivererWithProducer(producer sarama.SyncProducer, topic string) *KafkaDeliverer {
	return &KafkaDeliverer{producer: producer, topic: topic}
}

// Name returns the sink name
func (k *KafkaDeliverer) Name() string {
	return "kafka"
}

// Deliver publishes the digest event keyed by run id
func (k *KafkaDeliverer) Deliver(ctx context.Context, d *Digest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := digestEvent{
		RunID:       d.RunID,
		Status:      d.Status,
		GeneratedAt: d.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Title:       d.Title,
		Metrics:     d.Metrics,
	}
	for _, section := range d.Sections {
		for _, story := range section.Stories {
			event.Headlines = append(event.Headlines, headlineItem{
				Category: string(section.Category),
				Title:    story.Representative.Title,
				URLs:     story.SourceURLs,
			})
		}
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal digest event: %w", err)
	}

	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(d.RunID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the producer
func (k *KafkaDeliverer) Close() error {
	return k.producer.Close()
}
