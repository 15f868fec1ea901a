package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/IliaW/content-overlay/config"
	"github.com/IliaW/content-overlay/internal/telemetry"
)

// KafkaConsumerClient feeds raw messages of the URL topic into msgChan and
// closes it once ctx is done.
type KafkaConsumerClient struct {
	msgChan chan<- []byte
	metrics *telemetry.KafkaConsumerMetrics
	cfg     *config.ConsumerConfig
	wg      *sync.WaitGroup
}

func NewKafkaConsumer(msgChan chan<- []byte, metrics *telemetry.KafkaConsumerMetrics, cfg *config.ConsumerConfig,
	wg *sync.WaitGroup) *KafkaConsumerClient {
	return &KafkaConsumerClient{
		msgChan: msgChan,
		metrics: metrics,
		cfg:     cfg,
		wg:      wg,
	}
}

func (c *KafkaConsumerClient) Run(ctx context.Context) {
	slog.Info("starting kafka consumer.", slog.String("topic", c.cfg.ReadTopicName))
	defer c.wg.Done()
	defer func() {
		close(c.msgChan)
		slog.Info("close msgChan.")
	}()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          c.cfg.Brokers,
		Topic:            c.cfg.ReadTopicName,
		GroupID:          c.cfg.GroupID,
		MaxWait:          c.cfg.MaxWait,
		ReadBatchTimeout: c.cfg.ReadBatchTimeout,
		QueueCapacity:    c.cfg.QueueCapacity,
		MaxBytes:         c.cfg.MaxBytes,
		CommitInterval:   c.cfg.CommitInterval,
	})
	defer func() {
		slog.Info("stopping kafka reader.")
		if err := r.Close(); err != nil {
			slog.Error("failed to close kafka reader.", slog.String("err", err.Error()))
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("failed to fetch message from kafka.", slog.String("err", err.Error()))
			c.metrics.FailedReadMsgCnt(1)
			continue
		}
		err = r.CommitMessages(context.Background(), m)
		if err != nil {
			slog.Error("failed to commit messages.", slog.String("err", err.Error()))
			c.metrics.FailedReadMsgCnt(1)
			continue
		}
		slog.Debug("successfully read messages from kafka.")

		select {
		case c.msgChan <- m.Value:
			c.metrics.SuccessfullyReadMsgCnt(1)
		case <-ctx.Done():
			return
		}
	}
}
