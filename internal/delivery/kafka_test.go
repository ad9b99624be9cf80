package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaDeliverer(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "digests" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "3f2a9c10-aaaa-bbbb-cccc-000000000000" {
			return errors.New("message must be keyed by run id")
		}
		value, _ := msg.Value.Encode()
		var event digestEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if len(event.Headlines) != 2 || event.Headlines[0].Category != "Economy" {
			return errors.New("unexpected headlines")
		}
		return nil
	})

	k := NewKafkaDelivererWithProducer(producer, "digests")
	if err := k.Deliver(context.Background(), NewDigest(testResult(), testNow)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestKafkaDeliverer_Error(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	k := NewKafkaDelivererWithProducer(producer, "digests")
	err := k.Deliver(context.Background(), NewDigest(testResult(), testNow))
	if !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Errorf("expected producer error, got %v", err)
	}
	_ = k.Close()
}
