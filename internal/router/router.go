// Package router turns Telegram updates into resolution jobs.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sipeto/internal/media"
	"github.com/JakeFAU/sipeto/internal/metrics"
	"github.com/JakeFAU/sipeto/internal/telegram"
)

// Reply texts sent back to chats.
const (
	MissReply = "No supported media link found. Send an Instagram, Twitter/X or TikTok link."
	busyReply = "Too many requests in flight, please try again shortly."
)

// Action describes what Route did with an update.
type Action string

// Actions.
const (
	ActionIgnored      Action = "ignored"
	ActionAcknowledged Action = "acknowledged"
	ActionMissed       Action = "missed"
	ActionSubmitted    Action = "submitted"
)

// ErrSubmit wraps a failure to hand a job to the worker pool.
var ErrSubmit = errors.New("submit job")

// Detector finds the first supported media link in text. *media.Registry implements it.
type Detector interface {
	Detect(text string) (media.Resolver, string, bool)
}

// Submitter queues a job. *dispatcher.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, job media.Job) (*media.Future, error)
}

// Config controls reply behavior.
type Config struct {
	ReplyOnMiss   bool
	ReportResults bool
	Download      bool
	// ReplyTimeout bounds waiting for a job result plus sending the report.
	ReplyTimeout time.Duration
}

// Outcome reports how an update was handled.
type Outcome struct {
	Type     string
	Action   Action
	Platform media.Platform
	URL      string
	JobID    string
	Future   *media.Future
}

// Router dispatches updates by type.
type Router struct {
	detector  Detector
	submitter Submitter
	notifier  media.Notifier
	ids       media.IDGenerator
	clock     media.Clock
	cfg       Config
	logger    *zap.Logger
	pending   sync.WaitGroup
}

// New builds a Router. notifier may be nil, which disables all replies.
func New(
	detector Detector,
	submitter Submitter,
	notifier media.Notifier,
	ids media.IDGenerator,
	clock media.Clock,
	cfg Config,
	logger *zap.Logger,
) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Minute
	}
	return &Router{
		detector:  detector,
		submitter: submitter,
		notifier:  notifier,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("router"),
	}
}

// Route handles one update. It never blocks on outbound calls: jobs go to the
// worker pool and chat replies are sent from background goroutines.
func (r *Router) Route(ctx context.Context, u telegram.Update) (Outcome, error) {
	kind := u.Type()
	metrics.ObserveUpdate(kind)

	switch kind {
	case telegram.TypeMessage:
		if u.Message == nil {
			return Outcome{Type: kind, Action: ActionIgnored}, nil
		}
		return r.routeMessage(ctx, u.Message)
	case telegram.TypeCallbackQuery:
		r.logger.Debug("callback query acknowledged", zap.Int64("update_id", u.UpdateID))
		return Outcome{Type: kind, Action: ActionAcknowledged}, nil
	case telegram.TypeInlineQuery:
		r.logger.Debug("inline query acknowledged", zap.Int64("update_id", u.UpdateID))
		return Outcome{Type: kind, Action: ActionAcknowledged}, nil
	default:
		r.logger.Debug("unknown update type", zap.String("type", kind), zap.Int64("update_id", u.UpdateID))
		return Outcome{Type: kind, Action: ActionIgnored}, nil
	}
}

func (r *Router) routeMessage(ctx context.Context, msg *telegram.Message) (Outcome, error) {
	out := Outcome{Type: telegram.TypeMessage}
	resolver, link, ok := r.detector.Detect(msg.Content())
	if !ok {
		out.Action = ActionMissed
		if r.cfg.ReplyOnMiss {
			r.replyAsync(ctx, msg.Chat.ID, MissReply)
		}
		return out, nil
	}

	job := media.Job{
		Platform:  resolver.Platform(),
		URL:       link,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Attempt:   1,
		Download:  r.cfg.Download,
	}
	if r.ids != nil {
		id, err := r.ids.NewID()
		if err != nil {
			return out, fmt.Errorf("generate job id: %w", err)
		}
		job.JobID = id
	}
	if r.clock != nil {
		job.Submitted = r.clock.Now()
	}

	future, err := r.submitter.Submit(ctx, job)
	if err != nil {
		r.logger.Warn("job submit failed", zap.String("url", link), zap.Error(err))
		r.replyAsync(ctx, msg.Chat.ID, busyReply)
		return out, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	r.logger.Info("job submitted",
		zap.String("job_id", job.JobID),
		zap.String("platform", string(job.Platform)),
		zap.String("url", link),
		zap.Int64("chat_id", job.ChatID),
	)

	out.Action = ActionSubmitted
	out.Platform = job.Platform
	out.URL = link
	out.JobID = job.JobID
	out.Future = future
	if r.cfg.ReportResults {
		r.reportAsync(ctx, msg.Chat.ID, future)
	}
	return out, nil
}

func (r *Router) replyAsync(ctx context.Context, chatID int64, text string) {
	if r.notifier == nil {
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ReplyTimeout)
		defer cancel()
		r.send(replyCtx, chatID, text)
	}()
}

func (r *Router) reportAsync(ctx context.Context, chatID int64, future *media.Future) {
	if r.notifier == nil || future == nil {
		return
	}
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ReplyTimeout)
		defer cancel()
		result, err := future.Wait(waitCtx)
		if err != nil {
			r.logger.Warn("gave up waiting for job result", zap.Error(err))
			return
		}
		r.send(waitCtx, chatID, ReportText(result))
	}()
}

func (r *Router) send(ctx context.Context, chatID int64, text string) {
	if err := r.notifier.SendMessage(ctx, chatID, text); err != nil {
		r.logger.Warn("send reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// Wait blocks until background replies have finished.
func (r *Router) Wait() {
	r.pending.Wait()
}

// ReportText renders a job result for the chat.
func ReportText(res media.Result) string {
	if res.Err != nil {
		switch {
		case errors.Is(res.Err, media.ErrInvalidURL):
			return fmt.Sprintf("That %s link does not point at a post I can read.", res.Platform)
		case errors.Is(res.Err, media.ErrMediaDownload):
			return fmt.Sprintf("Found the %s media but the download failed.", res.Platform)
		default:
			return fmt.Sprintf("Could not fetch %s media, please try again later.", res.Platform)
		}
	}
	text := fmt.Sprintf("%s %s", res.Platform, res.Attributes.Get(media.AttrType))
	if w, h := res.Attributes.Get(media.AttrWidth), res.Attributes.Get(media.AttrHeight); w != "" && w != "0" {
		text += fmt.Sprintf(" %sx%s", w, h)
	}
	if d := res.Attributes.Get(media.AttrDuration); d != "" && d != "0" {
		text += fmt.Sprintf(", %ss", d)
	}
	if res.Download.Location != "" {
		text += "\nsaved to " + res.Download.Location
	}
	return text
}
