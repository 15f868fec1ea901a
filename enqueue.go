package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/IliaW/content-overlay/internal/broker"
	cacheClient "github.com/IliaW/content-overlay/internal/cache"
	"github.com/IliaW/content-overlay/internal/crawler"
	"github.com/IliaW/content-overlay/internal/extractor"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/telemetry"
	"github.com/IliaW/content-overlay/internal/worker"
)

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue",
		Short: "Create crawl tasks for page URLs read from kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(cmd.Context())
		},
	}
}

func runEnqueue(ctx context.Context) error {
	metrics := telemetry.SetupMetrics(context.Background(), cfg)
	defer metrics.Close()
	cache := cacheClient.NewCachedClient(cfg.CacheSettings)
	defer cache.Close()
	reader, err := crawler.NewAttributeReader(cfg, getHttpTransport())
	if err != nil {
		return err
	}
	kafkaDLQ := broker.NewKafkaDLQ(cfg.ServiceName, cfg.KafkaSettings.Producer)
	defer kafkaDLQ.Close()
	slog.Info("starting enqueue service on port "+cfg.Port, slog.String("env", cfg.Env),
		slog.String("crawl mechanism", model.CrawlMechanism(cfg.DiscoverySettings.CrawlMechanism).String()))

	threadNum := parallelWorkers()
	urlChan := make(chan []byte, threadNum*2)

	kafkaWg := &sync.WaitGroup{}
	kafkaWg.Add(1)
	kafkaConsumer := broker.NewKafkaConsumer(urlChan, metrics.KafkaConsumerMetrics,
		cfg.KafkaSettings.Consumer, kafkaWg)
	go kafkaConsumer.Run(ctx)

	workerWg := &sync.WaitGroup{}
	enqueueWorker := &worker.EnqueueWorker{
		MsgChan:  urlChan,
		Registry: extractor.Default(),
		Client:   newServiceClient(),
		Reader:   reader,
		Cache:    cache,
		KafkaDLQ: kafkaDLQ,
		Metrics:  metrics.AppMetrics,
		Priority: cfg.TrackerSettings.Priority,
		Wg:       workerWg,
	}
	// messages already taken from kafka are finished after shutdown starts
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < threadNum; i++ {
		workerWg.Add(1)
		go enqueueWorker.Run(workCtx)
	}

	go healthCheckHandler()

	// Graceful shutdown.
	// 1. Stop Kafka Consumer by system call. Close urlChan
	// 2. Wait till all Workers processed all messages from urlChan
	// 3. Close DLQ writer, memcached and database connections
	<-ctx.Done()
	slog.Info("stopping server...")
	kafkaWg.Wait()
	workerWg.Wait()
	slog.Info("server stopped.")
	return nil
}
