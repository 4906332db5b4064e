// Package publish pushes confirmed signals and scores to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "marketflow/config"
	"marketflow/internal/metrics"
	"marketflow/internal/score"
	"marketflow/logger"
)

const (
	KindSignal = "signal"
	KindScore  = "score"
)

// Envelope is the JSON value of every message. Exactly one of Signal and
// Score is set.
type Envelope struct {
	Kind        string        `json:"kind"`
	RunID       string        `json:"run_id"`
	Code        string        `json:"code"`
	Date        string        `json:"date"`
	Signal      *score.Signal `json:"signal,omitempty"`
	Score       *score.Result `json:"score,omitempty"`
	PublishedAt time.Time     `json:"published_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
	log    *logger.Log
}

func NewKafkaPublisher(cfg appconfig.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	p := newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireOne,
	}, cfg.Topic)
	p.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka publisher initialized")
	return p, nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, now: time.Now, log: logger.GetLogger()}
}

// PublishSignals writes one message per signal keyed by instrument code.
func (p *KafkaPublisher) PublishSignals(ctx context.Context, runID string, signals []score.Signal) error {
	envelopes := make([]Envelope, 0, len(signals))
	for i := range signals {
		s := signals[i]
		envelopes = append(envelopes, Envelope{
			Kind:   KindSignal,
			RunID:  runID,
			Code:   s.Code,
			Date:   s.Date.Format("2006-01-02"),
			Signal: &s,
		})
	}
	return p.publish(ctx, KindSignal, envelopes)
}

// PublishScores writes one message per ranked score. Insufficient results
// are not published.
func (p *KafkaPublisher) PublishScores(ctx context.Context, runID string, results []score.Result) error {
	envelopes := make([]Envelope, 0, len(results))
	for i := range results {
		r := results[i]
		if r.Insufficient {
			continue
		}
		envelopes = append(envelopes, Envelope{
			Kind:  KindScore,
			RunID: runID,
			Code:  r.Code,
			Date:  r.Date.Format("2006-01-02"),
			Score: &r,
		})
	}
	return p.publish(ctx, KindScore, envelopes)
}

func (p *KafkaPublisher) publish(ctx context.Context, kind string, envelopes []Envelope) error {
	log := p.log.WithComponent("kafka_publisher").WithFields(logger.Fields{"kind": kind, "topic": p.topic})
	if len(envelopes) == 0 {
		log.Debug("nothing to publish")
		return nil
	}

	msgs := make([]kafka.Message, 0, len(envelopes))
	for _, env := range envelopes {
		env.PublishedAt = p.now().UTC()
		data, err := json.Marshal(env)
		if err != nil {
			log.WithInstrument(env.Code).WithError(err).Warn("failed to marshal message")
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(env.Code), Value: data})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		log.WithError(err).Warn("failed to write messages")
		return fmt.Errorf("publish %s: %w", kind, err)
	}

	metrics.EmitMetric(p.log, "publish", metrics.MetricPublished, len(msgs), "counter", logger.Fields{"kind": kind})
	log.WithFields(logger.Fields{"messages": len(msgs)}).Debug("messages written to kafka")
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.log.WithComponent("kafka_publisher").Debug("stopping kafka publisher")
	return p.writer.Close()
}
