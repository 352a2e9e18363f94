package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Topic the delivery jobs travel on.
const TopicCampaignSends = "campaign_sends"

// DeliveryJob identifies one record of one campaign to deliver, together
// with the relay settings captured at dispatch time. Credentials ride in
// the payload because they are never persisted: without them a consumer in
// another process would have nothing to dial with.
type DeliveryJob struct {
	CampaignID int         `json:"campaign_id"`
	RecordID   int         `json:"record_id"`
	Relay      RelayConfig `json:"relay"`
}

// RelayConfig is the transport slice of a delivery job.
type RelayConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	FromName string `json:"from_name"`
	// Retries is the total attempt budget; nil means the consumer's default.
	Retries *int `json:"retries,omitempty"`
}

// Queue decouples the send initiator from the delivery worker.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue is the single-process implementation with a bounded
// redelivery loop per job.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
	}
}

// jobEnvelope wraps a payload with redelivery bookkeeping.
type jobEnvelope struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish delivers a payload to every subscriber of the topic.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := jobEnvelope{
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: 3,
	}

	for _, handler := range handlers {
		go q.processJob(topic, handler, job)
	}

	return nil
}

// processJob redelivers on handler error up to MaxRetries with a growing
// delay. This is queue-level redelivery, distinct from the per-attempt
// transport retry inside the handler.
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, job jobEnvelope) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return // ack
		}

		job.RetryCount++
		log.Warn("job handler failed", "topic", topic, "attempt", job.RetryCount, "max", job.MaxRetries, "error", err)

		if job.RetryCount > job.MaxRetries {
			log.Error("job permanently failed", "topic", topic, "payload", job.Payload)
			return
		}

		time.Sleep(time.Duration(job.RetryCount*500) * time.Millisecond)
	}
}

// Subscribe adds a handler for a topic.
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}
