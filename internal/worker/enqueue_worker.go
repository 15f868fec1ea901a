package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/IliaW/content-overlay/internal/discovery"
	"github.com/IliaW/content-overlay/internal/extractor"
	"github.com/IliaW/content-overlay/internal/model"
	"github.com/IliaW/content-overlay/internal/telemetry"
)

var ErrUnrecognized = errors.New("no extractor recognized the url")

type TaskCreator interface {
	CreateTask(ctx context.Context, payload model.CreateTaskPayload) (string, error)
}

type DeadLetterQueue interface {
	SendUrlToDLQ(url string, reason error)
}

// EnqueueWorker turns page URLs from the queue into CRAWL tasks. Udemy course
// ids are resolved by reading the page, with the course cache in front.
type EnqueueWorker struct {
	MsgChan  <-chan []byte
	Registry *extractor.Registry
	Client   TaskCreator
	Reader   discovery.AttributeReader
	Cache    discovery.CourseCache
	KafkaDLQ DeadLetterQueue
	Metrics  *telemetry.AppMetrics
	Priority int
	Wg       *sync.WaitGroup
}

func (w *EnqueueWorker) Run(ctx context.Context) {
	defer w.Wg.Done()
	slog.Debug("starting enqueue worker.")

	for value := range w.MsgChan {
		var task model.CrawlTask
		if err := jsoniter.Unmarshal(value, &task); err != nil || task.URL == "" {
			if err == nil {
				err = errors.New("message has no url")
			}
			slog.Error("failed to unmarshal message.", slog.String("err", err.Error()))
			w.KafkaDLQ.SendUrlToDLQ(string(value), err)
			w.Metrics.FailedProcessedMsgCnt(1)
			continue
		}

		taskID, err := w.Process(ctx, task)
		if err != nil {
			slog.Error("failed to enqueue url.", slog.String("url", task.URL), slog.String("err", err.Error()))
			w.KafkaDLQ.SendUrlToDLQ(task.URL, err)
			if errors.Is(err, ErrUnrecognized) {
				w.Metrics.UnrecognizedUrlsCnt(1)
			} else {
				w.Metrics.FailedProcessedMsgCnt(1)
			}
			continue
		}
		slog.Info("crawl task created.", slog.String("url", task.URL), slog.String("task", taskID))
	}
}

// Process creates the CRAWL task for one URL.
func (w *EnqueueWorker) Process(ctx context.Context, task model.CrawlTask) (string, error) {
	info, ok := w.Registry.Extract(task.URL)
	if !ok {
		return "", ErrUnrecognized
	}
	if info.Platform == model.Udemy && info.ID == "" {
		id, err := w.resolveCourseID(ctx, task.URL)
		if err != nil {
			return "", err
		}
		info.ID = id
	}
	if !info.Actionable() {
		return "", fmt.Errorf("%w: %s has no content id", ErrUnrecognized, info)
	}

	priority := task.Priority
	if priority <= 0 {
		priority = w.Priority
	}
	if priority <= 0 {
		priority = 1
	}
	taskID, err := w.Client.CreateTask(ctx, model.NewCrawlPayload(info, priority))
	if err != nil {
		return "", fmt.Errorf("create task for %s: %w", info, err)
	}
	w.Metrics.TasksCreatedCnt(1)
	return taskID, nil
}

func (w *EnqueueWorker) resolveCourseID(ctx context.Context, pageURL string) (string, error) {
	slug, _ := extractor.UdemyCourseSlug(pageURL)
	if w.Cache != nil {
		if id, ok := w.Cache.GetCourseID(slug); ok {
			return id, nil
		}
	}
	id, found, err := w.Reader.ReadAttribute(ctx, pageURL, discovery.UdemyCourseSelector,
		discovery.UdemyCourseAttribute)
	if err != nil {
		return "", fmt.Errorf("read course id: %w", err)
	}
	if !found || id == "" {
		return "", errors.New("course id not found on page")
	}
	if w.Cache != nil {
		w.Cache.SaveCourseID(slug, id)
	}
	return id, nil
}
