package service

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"fwstore/pkg/logging"
)

// Event topics, prefixed with the configured topic prefix.
const (
	TopicPaymentCompleted   = "payment.completed"
	TopicPaymentFailed      = "payment.failed"
	TopicFirmwareDownloaded = "firmware.downloaded"
	TopicWithdrawalSettled  = "withdrawal.settled"
)

// EventPublisher emits domain events after state changes commit. Publishing is best effort;
// the database stays the source of truth.
type EventPublisher interface {
	Publish(topic string, event map[string]interface{})
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(string, map[string]interface{}) {}
func (NopPublisher) Close() error                          { return nil }

// KafkaPublisher hands events to an async producer so request paths never wait on the
// brokers. Delivery failures surface on the producer's error channel and are logged.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	prefix   string
	drained  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewKafkaPublisher(brokers []string, prefix string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	logging.Infof("[KAFKA] producer connected to %v", brokers)
	return newKafkaPublisher(producer, prefix), nil
}

func newKafkaPublisher(producer sarama.AsyncProducer, prefix string) *KafkaPublisher {
	p := &KafkaPublisher{producer: producer, prefix: prefix, drained: make(chan struct{})}
	go func() {
		defer close(p.drained)
		for perr := range producer.Errors() {
			logging.Errorf("[KAFKA] publish %s: %v", perr.Msg.Topic, perr.Err)
		}
	}()
	return p
}

// Publish never blocks. When the producer's input buffer is full the event is dropped.
func (p *KafkaPublisher) Publish(topic string, event map[string]interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.Errorf("[KAFKA] marshal %s: %v", topic, err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic:     p.prefix + topic,
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		logging.Warnf("[KAFKA] publisher closed, dropping %s", msg.Topic)
		return
	}
	select {
	case p.producer.Input() <- msg:
	default:
		logging.Warnf("[KAFKA] producer backlog full, dropping %s", msg.Topic)
	}
}

// Close flushes buffered messages and waits for the error channel to drain.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.producer.Close()
	<-p.drained
	return err
}
