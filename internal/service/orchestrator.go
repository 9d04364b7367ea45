package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/recipient"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

const (
	defaultWorkers        = 10
	defaultAttemptTimeout = 30 * time.Second
)

// SendOrchestrator drives one send operation: resolve, deliver to every recipient, finalize.
type SendOrchestrator struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	LogRepo        repository.DeliveryLogRepositoryInterface
	Candidates     recipient.CandidateSource
	Mailer         mailer.Mailer
	Workers        int
	AttemptTimeout time.Duration
	Log            *zap.Logger
	Now            func() time.Time
}

// SendResult summarizes a send. CampaignID is nil for custom sends.
type SendResult struct {
	CampaignID *int64 `json:"campaign_id,omitempty"`
	BatchID    string `json:"batch_id"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

type CustomEmailInput struct {
	To      []string `json:"to" validate:"required,min=1"`
	Subject string   `json:"subject" validate:"required,max=255"`
	Body    string   `json:"body" validate:"required"`
	SentBy  string   `json:"-"`
}

func (o *SendOrchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *SendOrchestrator) logger() *zap.Logger {
	if o.Log == nil {
		return zap.NewNop()
	}
	return o.Log
}

// SendCampaign claims the campaign and runs the send to completion. A campaign that is already
// sending or sent fails with ErrAlreadySent and nothing is delivered.
func (o *SendOrchestrator) SendCampaign(ctx context.Context, id int64, sentBy string) (*SendResult, error) {
	c, err := o.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	claimed, err := o.CampaignRepo.MarkSending(ctx, id, o.now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		status := c.Status
		if cur, err := o.CampaignRepo.GetByID(ctx, id); err == nil {
			status = cur.Status
		}
		return nil, appErrors.NewAlreadySent(id, string(status))
	}

	// a stray queued job for this campaign must not start a second run
	if ok, err := o.CampaignRepo.ClaimRun(ctx, id, o.now()); err != nil {
		o.MarkFailed(context.WithoutCancel(ctx), id, fmt.Errorf("claim run: %w", err))
		return nil, err
	} else if !ok {
		return nil, appErrors.NewAlreadySent(id, string(model.StatusSending))
	}

	c.Status = model.StatusSending
	return o.Run(ctx, c, sentBy)
}

// Run executes the send for a campaign the caller has already moved to sending. Once started it
// ignores cancellation of ctx: delivered mail cannot be recalled, so the outcome is always recorded.
// Failures before any delivery move the campaign to failed.
func (o *SendOrchestrator) Run(ctx context.Context, c *model.Campaign, sentBy string) (*SendResult, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	log := o.logger().With(zap.Int64("campaign_id", c.ID))

	res, err := recipient.Resolve(ctx, c.Targeting, o.Candidates)
	if err != nil {
		o.fail(ctx, log, c.ID, err)
		return nil, err
	}

	batch := delivery{
		campaignID: &c.ID,
		batchID:    uuid.NewString(),
		subject:    c.Subject,
		body:       c.Body,
		category:   model.CategoryMassMailing,
		sentBy:     sentBy,
	}
	log = log.With(zap.String("batch_id", batch.batchID))
	log.Info("campaign send started", zap.Int("recipients", len(res.Recipients)))

	counters := o.deliver(ctx, batch, res.Recipients)

	ok, err := o.CampaignRepo.Finalize(ctx, c.ID, counters, o.now())
	if err != nil {
		log.Error("finalize failed", zap.Error(err))
		return nil, err
	}
	if !ok {
		log.Warn("finalize was a no-op, campaign no longer sending")
	}

	metrics.CampaignSends.WithLabelValues(string(model.StatusSent)).Inc()
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	log.Info("campaign send finished",
		zap.Int("total", counters.Total),
		zap.Int("sent", counters.Sent),
		zap.Int("failed", counters.Failed),
	)

	return &SendResult{
		CampaignID: &c.ID,
		BatchID:    batch.batchID,
		Total:      counters.Total,
		Sent:       counters.Sent,
		Failed:     counters.Failed,
	}, nil
}

// RunJob is Run with the result discarded, for queue consumers.
func (o *SendOrchestrator) RunJob(ctx context.Context, c *model.Campaign, sentBy string) error {
	_, err := o.Run(ctx, c, sentBy)
	return err
}

func (o *SendOrchestrator) fail(ctx context.Context, log *zap.Logger, id int64, cause error) {
	metrics.CampaignSends.WithLabelValues(string(model.StatusFailed)).Inc()
	ok, err := o.CampaignRepo.MarkFailed(ctx, id, cause.Error())
	switch {
	case err != nil:
		log.Error("could not mark campaign failed", zap.Error(err), zap.NamedError("cause", cause))
	case !ok:
		log.Warn("mark failed was a no-op, campaign no longer sending", zap.NamedError("cause", cause))
	default:
		log.Error("campaign send failed", zap.Error(cause))
	}
}

// MarkFailed moves a claimed campaign to failed when its send could not be started, e.g. the job
// could not be dispatched.
func (o *SendOrchestrator) MarkFailed(ctx context.Context, id int64, cause error) {
	o.fail(ctx, o.logger().With(zap.Int64("campaign_id", id)), id, cause)
}

// SendCustomEmail delivers an ad-hoc message to a caller-supplied list. Nothing is stored in the
// campaign store; every attempt is logged under the custom category.
func (o *SendOrchestrator) SendCustomEmail(ctx context.Context, in CustomEmailInput) (*SendResult, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	if strings.TrimSpace(in.Body) == "" {
		in.Body = ""
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	addrs, err := recipient.CustomAddresses(in.To)
	if err != nil {
		return nil, err
	}
	recipients := make([]recipient.Recipient, len(addrs))
	for i, a := range addrs {
		recipients[i] = recipient.Recipient{Email: a}
	}

	batch := delivery{
		batchID:  uuid.NewString(),
		subject:  in.Subject,
		body:     in.Body,
		category: model.CategoryCustom,
		sentBy:   in.SentBy,
	}
	counters := o.deliver(context.WithoutCancel(ctx), batch, recipients)

	o.logger().Info("custom email sent",
		zap.String("batch_id", batch.batchID),
		zap.Int("total", counters.Total),
		zap.Int("sent", counters.Sent),
		zap.Int("failed", counters.Failed),
	)
	return &SendResult{BatchID: batch.batchID, Total: counters.Total, Sent: counters.Sent, Failed: counters.Failed}, nil
}

