// Package worker implements the resolution pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/media"
	"github.com/JakeFAU/sipeto/internal/metrics"
)

// Resolution outcomes reported to metrics.
const (
	OutcomeResolved   = "resolved"
	OutcomeDownloaded = "downloaded"
	OutcomeFailed     = "failed"
)

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds resolve plus download for one job. Zero disables it.
	JobTimeout time.Duration
	// Topic receives media.DownloadedEvent payloads. Empty disables publishing.
	Topic string
}

// Resolvers looks up the resolver for a platform. *media.Registry implements it.
type Resolvers interface {
	Resolver(platform media.Platform) (media.Resolver, bool)
}

// Worker consumes queue items and executes the resolve/fetch pipeline.
type Worker struct {
	queue     media.Queue
	resolvers Resolvers
	recorder  media.DownloadRecorder
	publisher media.Publisher
	ids       media.IDGenerator
	clock     media.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. recorder, publisher and ids may be nil.
func New(
	queue media.Queue,
	resolvers Resolvers,
	recorder media.DownloadRecorder,
	publisher media.Publisher,
	ids media.IDGenerator,
	clock media.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		resolvers: resolvers,
		recorder:  recorder,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, media.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.JobID))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job media.Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	result := w.execute(jobCtx, job)
	outcome := OutcomeResolved
	switch {
	case result.Err != nil:
		outcome = OutcomeFailed
		w.logger.Warn("job failed",
			zap.String("job_id", job.JobID),
			zap.String("platform", string(job.Platform)),
			zap.String("url", job.URL),
			zap.Error(result.Err),
		)
	case result.Download.Location != "":
		outcome = OutcomeDownloaded
		metrics.ObserveMediaBytes(string(job.Platform), result.Download.Bytes)
		w.logger.Info("media downloaded",
			zap.String("job_id", job.JobID),
			zap.String("platform", string(job.Platform)),
			zap.String("location", result.Download.Location),
			zap.Int64("bytes", result.Download.Bytes),
		)
	default:
		w.logger.Info("media resolved",
			zap.String("job_id", job.JobID),
			zap.String("platform", string(job.Platform)),
			zap.String("type", result.Attributes.Get(media.AttrType)),
		)
	}
	metrics.ObserveResolution(string(job.Platform), outcome)

	if job.Future != nil {
		job.Future.Resolve(result)
	}
}

func (w *Worker) execute(ctx context.Context, job media.Job) media.Result {
	result := media.Result{JobID: job.JobID, Platform: job.Platform, URL: job.URL}

	resolver, ok := w.resolvers.Resolver(job.Platform)
	if !ok {
		result.Err = fmt.Errorf("%w: %s", media.ErrUnsupportedPlatform, job.Platform)
		return result
	}

	attrs, err := resolver.ResolveAttributes(ctx, job.URL)
	if err != nil {
		result.Err = fmt.Errorf("resolve attributes: %w", err)
		return result
	}
	result.Attributes = attrs
	if !job.Download {
		return result
	}

	download, err := fetch(ctx, resolver, attrs)
	if err != nil {
		result.Err = fmt.Errorf("fetch media: %w", err)
		return result
	}
	result.Download = download

	// The object is stored at this point; ledger and event failures are logged only.
	w.record(ctx, job, attrs, download)
	w.publish(ctx, job, attrs, download)
	return result
}

func fetch(ctx context.Context, resolver media.Resolver, attrs media.AttributeMap) (media.Download, error) {
	if df, ok := resolver.(media.DownloadFetcher); ok {
		d, err := df.FetchDownload(ctx, attrs)
		if err != nil {
			return media.Download{}, fmt.Errorf("fetch download: %w", err)
		}
		return d, nil
	}
	location, err := resolver.FetchMedia(ctx, attrs)
	if err != nil {
		return media.Download{}, fmt.Errorf("fetch media: %w", err)
	}
	return media.Download{Location: location}, nil
}

func (w *Worker) record(ctx context.Context, job media.Job, attrs media.AttributeMap, d media.Download) {
	if w.recorder == nil {
		return
	}
	id := job.JobID
	if w.ids != nil {
		generated, err := w.ids.NewID()
		if err != nil {
			w.logger.Error("generate download id", zap.String("job_id", job.JobID), zap.Error(err))
			return
		}
		id = generated
	}
	rec := media.DownloadRecord{
		ID:           id,
		JobID:        job.JobID,
		Platform:     job.Platform,
		MediaID:      attrs.Get(media.AttrID),
		MediaType:    attrs.Get(media.AttrType),
		SourceURL:    job.URL,
		Location:     d.Location,
		ContentType:  d.ContentType,
		Bytes:        d.Bytes,
		SHA256:       d.SHA256,
		ChatID:       job.ChatID,
		DownloadedAt: w.clock.Now(),
	}
	if err := w.recorder.RecordDownload(ctx, rec); err != nil {
		w.logger.Error("record download failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, job media.Job, attrs media.AttributeMap, d media.Download) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := media.DownloadedEvent{
		JobID:     job.JobID,
		Platform:  job.Platform,
		SourceURL: job.URL,
		Location:  d.Location,
		Bytes:     d.Bytes,
		SHA256:    d.SHA256,
		Attrs:     attrs.Clone(),
		At:        w.clock.Now(),
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Error("publish download event failed", zap.String("job_id", job.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("download event published", zap.String("job_id", job.JobID), zap.String("message_id", msgID))
}
