package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/IliaW/content-overlay/internal/broker"
	"github.com/IliaW/content-overlay/internal/browser"
	cacheClient "github.com/IliaW/content-overlay/internal/cache"
	"github.com/IliaW/content-overlay/internal/discovery"
	"github.com/IliaW/content-overlay/internal/extractor"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/navigation"
	"github.com/IliaW/content-overlay/internal/overlay"
	"github.com/IliaW/content-overlay/internal/report"
	"github.com/IliaW/content-overlay/internal/telemetry"
	"github.com/IliaW/content-overlay/internal/tracker"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Open a browser tab and track the content shown in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func runWatch(ctx context.Context) error {
	metrics := telemetry.SetupMetrics(ctx, cfg)
	defer metrics.Close()

	client := newServiceClient()
	cache := cacheClient.NewCachedClient(cfg.CacheSettings)
	defer cache.Close()

	wg := &sync.WaitGroup{}
	var sink overlay.EventSink
	if cfg.KafkaSettings.Producer.Enabled {
		producer := broker.NewEventProducer(metrics.KafkaProducerMetrics, cfg.KafkaSettings.Producer, wg)
		wg.Add(1)
		go producer.Run()
		defer func() {
			producer.Close()
			wg.Wait()
		}()
		sink = producer
	}

	host, err := browser.NewChromeHost(ctx, cfg.BrowserSettings, cfg.DiscoverySettings.UserAgent)
	if err != nil {
		return err
	}
	defer host.Close()

	bus := discovery.NewBus()
	registry := extractor.Default()
	prober := discovery.NewProber(host, bus, cache, cfg.DiscoverySettings.ProbeInterval)

	for {
		s, err := startSession(ctx, host, overlay.Deps{
			Registry: registry,
			Client:   client,
			Env:      host,
			Bus:      bus,
			Prober:   prober,
			Opener:   host,
			Sink:     sink,
			Render:   host.Render,
			Metrics:  metrics.AppMetrics,
		}, client, sink)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			s.stop()
			slog.Info("shutting down.")
			return nil
		case <-host.Done():
			s.stop()
			return errors.New("browser tab closed")
		case <-host.Reloads():
			s.stop()
			slog.Warn("extension context lost. reloading the page.")
			if err := host.ReloadPage(); err != nil {
				return err
			}
		}
	}
}

// session is one life of the overlay inside the tab. A page reload ends it.
type session struct {
	ctrl    *overlay.Controller
	watcher *navigation.Watcher
	buttons func()
}

func (s *session) stop() {
	if s.buttons != nil {
		s.buttons()
	}
	s.watcher.Stop()
	s.ctrl.Close()
}

func startSession(ctx context.Context, host *browser.ChromeHost, deps overlay.Deps, client serviceClient,
	sink overlay.EventSink) (*session, error) {
	ctrl := overlay.New(deps, tracker.Options{
		Interval:         cfg.TrackerSettings.PollInterval,
		FailureWarnAfter: cfg.TrackerSettings.FailureWarnAfter,
		Priority:         cfg.TrackerSettings.Priority,
	})
	s := &session{ctrl: ctrl, watcher: navigation.New(host, ctrl.HandleURL)}

	if cfg.BrowserSettings.ShowButton {
		release, err := host.InstallButtons(func(button string) {
			// bindings are delivered on the event goroutine
			go pressButton(ctx, button, ctrl, host, client, deps.Metrics, sink)
		})
		if err != nil {
			ctrl.Close()
			return nil, err
		}
		s.buttons = release
	}

	if err := s.watcher.Start(); err != nil {
		s.stop()
		return nil, err
	}
	return s, nil
}

func pressButton(ctx context.Context, button string, ctrl *overlay.Controller, host *browser.ChromeHost,
	client serviceClient, metrics *telemetry.AppMetrics, sink overlay.EventSink) {
	switch button {
	case "analyze":
		res, err := ctrl.Click(ctx)
		if err != nil {
			slog.Error("analyze failed.", slog.String("err", err.Error()))
			return
		}
		slog.Debug("analyze pressed.", slog.Int("action", int(res.Action)), slog.String("task", res.TaskID))
	case "export":
		if _, err := ctrl.ExportClick(); err != nil {
			slog.Error("export failed.", slog.String("err", err.Error()))
		}
	case "report":
		reqCtx, cancel := withTimeout(ctx, cfg.HttpClientSettings.RequestTimeout)
		defer cancel()
		builder := report.New(client, metrics)
		if err := builder.Open(reqCtx); err != nil {
			slog.Error("failed to load analysis items.", slog.String("err", err.Error()))
			return
		}
		sub, err := builder.Submit(reqCtx)
		if err != nil {
			slog.Error("failed to create report.", slog.String("err", err.Error()))
			return
		}
		if sink != nil {
			sink.Publish(model.OverlayEvent{ID: uuid.NewString(), Kind: model.EventReportCreated, TaskID: sub.TaskID,
				Timestamp: time.Now().UTC()})
		}
		if err := host.Open(sub.URL); err != nil {
			slog.Error("failed to open report.", slog.String("err", err.Error()))
		}
	default:
		slog.Warn("unknown button.", slog.String("button", button))
	}
}
