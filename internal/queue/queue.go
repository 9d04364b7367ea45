package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
	"github.com/unclebandit/campaign-mailer/internal/model"
	"github.com/unclebandit/campaign-mailer/internal/repository"
)

// CampaignSendsTopic carries one job per claimed campaign.
const CampaignSendsTopic = "campaign_sends"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// CampaignJob asks a consumer to run the send of a campaign that is already in sending.
type CampaignJob struct {
	CampaignID  int64  `json:"campaign_id"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// DecodeCampaignJob accepts the in-memory struct or the JSON body delivered by a broker.
func DecodeCampaignJob(payload any) (CampaignJob, error) {
	switch p := payload.(type) {
	case CampaignJob:
		return p, nil
	case *CampaignJob:
		return *p, nil
	case []byte:
		var job CampaignJob
		if err := json.Unmarshal(p, &job); err != nil {
			return CampaignJob{}, fmt.Errorf("decode campaign job: %w", err)
		}
		return job, nil
	}
	return CampaignJob{}, fmt.Errorf("unexpected campaign job payload %T", payload)
}

// InMemoryQueue delivers each published payload to every subscriber on its own goroutine,
// retrying failed handlers with linear backoff.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	wg       sync.WaitGroup
	closed   bool

	MaxRetries int
	Backoff    time.Duration
	Log        *zap.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Log:        log,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Payload    any
	RetryCount int
	MaxRetries int
}

var ErrQueueClosed = errors.New("queue closed")

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	job := JobPayload{Payload: payload, MaxRetries: q.MaxRetries}
	for _, handler := range handlers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.processJob(topic, handler, job)
		}()
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(topic string, handler func(payload any) error, job JobPayload) {
	for {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.Log.Error("job permanently failed",
				zap.String("topic", topic),
				zap.Int("attempts", job.RetryCount),
				zap.Error(err),
			)
			return
		}
		q.Log.Warn("job failed, retrying",
			zap.String("topic", topic),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err),
		)
		time.Sleep(time.Duration(job.RetryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close stops accepting jobs and waits for in-flight ones until ctx ends.
func (q *InMemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunFunc executes the send of a claimed campaign.
type RunFunc func(ctx context.Context, c *model.Campaign, sentBy string) error

// StartCampaignSendSubscriber consumes campaign jobs. A job for a campaign that is no longer in
// sending (redelivery after it finished, or a deleted row) is acknowledged and dropped, and so is a
// job whose campaign already has a run in progress: only the consumer that wins ClaimRun sends.
// A run that died mid-send is left to the stuck report. Only failures to load or claim the campaign
// are retried; the send itself records its own outcome.
func StartCampaignSendSubscriber(ctx context.Context, q Queue, campaignRepo repository.CampaignRepositoryInterface, run RunFunc, log *zap.Logger) error {
	return q.Subscribe(CampaignSendsTopic, func(payload any) error {
		job, err := DecodeCampaignJob(payload)
		if err != nil {
			log.Error("invalid campaign job", zap.Error(err))
			return nil
		}

		c, err := campaignRepo.GetByID(ctx, job.CampaignID)
		if errors.Is(err, appErrors.ErrNotFound) {
			log.Warn("campaign job for missing campaign", zap.Int64("campaign_id", job.CampaignID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("load campaign %d: %w", job.CampaignID, err)
		}
		if c.Status != model.StatusSending {
			log.Info("skipping campaign job",
				zap.Int64("campaign_id", c.ID),
				zap.String("status", string(c.Status)),
			)
			return nil
		}

		claimed, err := campaignRepo.ClaimRun(ctx, c.ID, time.Now())
		if err != nil {
			return fmt.Errorf("claim run of campaign %d: %w", c.ID, err)
		}
		if !claimed {
			log.Warn("campaign already has a run in progress, dropping job", zap.Int64("campaign_id", c.ID))
			return nil
		}

		if err := run(ctx, c, job.RequestedBy); err != nil {
			log.Error("campaign send failed", zap.Int64("campaign_id", c.ID), zap.Error(err))
		}
		return nil
	})
}
