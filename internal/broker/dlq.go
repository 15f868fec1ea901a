package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/IliaW/content-overlay/config"
)

type deadLetter struct {
	URL       string    `json:"url"`
	Error     string    `json:"error"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

// KafkaDLQClient parks URLs that could not be turned into tasks.
type KafkaDLQClient struct {
	serviceName string
	kafkaWriter messageWriter
	topic       string
}

func NewKafkaDLQ(serviceName string, cfg *config.ProducerConfig) *KafkaDLQClient {
	return &KafkaDLQClient{
		serviceName: serviceName,
		kafkaWriter: newWriter(cfg.DeadLetterTopicName, cfg),
		topic:       cfg.DeadLetterTopicName,
	}
}

func (d *KafkaDLQClient) SendUrlToDLQ(url string, reason error) {
	msg := deadLetter{URL: url, Service: d.serviceName, Timestamp: time.Now().UTC()}
	if reason != nil {
		msg.Error = reason.Error()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshaling error.", slog.String("err", err.Error()))
		return
	}
	err = d.kafkaWriter.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(url),
		Value: body,
		Headers: []kafka.Header{
			{Key: "service", Value: []byte(d.serviceName)},
		},
	})
	if err != nil {
		slog.Error("failed to send url to dlq.", slog.String("url", url), slog.String("topic", d.topic),
			slog.String("err", err.Error()))
		return
	}
	slog.Debug("url sent to dlq.", slog.String("url", url))
}

func (d *KafkaDLQClient) Close() {
	if err := d.kafkaWriter.Close(); err != nil {
		slog.Error("failed to close dlq writer.", slog.String("err", err.Error()))
	}
}
