package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/campaign-mailer/internal/metrics"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/recipient"
)

// delivery is the shared part of every attempt in one send operation.
type delivery struct {
	campaignID *int64
	batchID    string
	subject    string
	body       string
	category   model.DeliveryCategory
	sentBy     string
}

// deliver attempts every recipient on a bounded pool. Attempts are independent: a failure never
// stops the others, and each one appends exactly one log entry.
func (o *SendOrchestrator) deliver(ctx context.Context, d delivery, recipients []recipient.Recipient) model.SendCounters {
	var sent, failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(o.workers())
	for _, rc := range recipients {
		g.Go(func() error {
			if o.attempt(ctx, d, rc) {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return model.SendCounters{
		Total:  len(recipients),
		Sent:   int(sent.Load()),
		Failed: int(failed.Load()),
	}
}

// attempt sends to one recipient and records the outcome. A timeout counts as a failure.
func (o *SendOrchestrator) attempt(ctx context.Context, d delivery, rc recipient.Recipient) bool {
	err := o.sendWithTimeout(ctx, rc.Email, d.subject, d.body)

	entry := &model.DeliveryLogEntry{
		CampaignID:  d.campaignID,
		BatchID:     d.batchID,
		CandidateID: rc.CandidateID,
		ToEmail:     rc.Email,
		Subject:     d.subject,
		BodyPreview: model.Preview(d.body),
		Category:    d.category,
		Status:      model.DeliverySent,
		SentBy:      d.sentBy,
		CreatedAt:   o.now(),
	}
	if err != nil {
		entry.Status = model.DeliveryFailed
		entry.ErrorMessage = err.Error()
		o.logger().Debug("delivery failed",
			zap.String("batch_id", d.batchID),
			zap.String("to", rc.Email),
			zap.Error(err),
		)
	}
	metrics.DeliveryAttempts.WithLabelValues(string(d.category), string(entry.Status)).Inc()

	if lerr := o.LogRepo.Append(ctx, entry); lerr != nil {
		o.logger().Error("could not append delivery log entry",
			zap.String("batch_id", d.batchID),
			zap.String("to", rc.Email),
			zap.String("status", string(entry.Status)),
			zap.Error(lerr),
		)
	}
	return err == nil
}

// sendWithTimeout bounds a single attempt even when the mailer ignores its context.
func (o *SendOrchestrator) sendWithTimeout(ctx context.Context, to, subject, body string) error {
	timeout := o.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.Mailer.Send(actx, to, subject, body) }()

	timedOut := fmt.Errorf("delivery to %s timed out after %s", to, timeout)
	select {
	case err := <-done:
		if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return timedOut
		}
		return err
	case <-actx.Done():
		select {
		case err := <-done:
			if err == nil {
				return nil
			}
		default:
		}
		return timedOut
	}
}

func (o *SendOrchestrator) workers() int {
	if o.Workers < 1 {
		return defaultWorkers
	}
	return o.Workers
}
