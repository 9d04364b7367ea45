// cmd/worker/main.go consumes campaign jobs from RabbitMQ and runs the sends.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("worker exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if cfg.Storage.Driver != "postgres" {
		return errors.New("the worker needs STORAGE_DRIVER=postgres to share campaigns with the server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	campaigns := &repository.CampaignRepository{DB: conn}
	orch := &service.SendOrchestrator{
		CampaignRepo:   campaigns,
		LogRepo:        &repository.DeliveryLogRepository{DB: conn},
		Candidates:     &repository.TeamRepository{DB: conn},
		Mailer:         mailer.New(cfg.SMTP, log),
		Workers:        cfg.Delivery.Workers,
		AttemptTimeout: cfg.Delivery.AttemptTimeout,
		Log:            log.Named("orchestrator"),
	}

	q, err := queue.DialAMQP(cfg.Queue.AMQPURL, log.Named("amqp"))
	if err != nil {
		return err
	}
	defer q.Close()

	if err := consume(ctx, q, campaigns, orch, log); err != nil {
		return err
	}
	log.Info("worker running, waiting for campaign jobs")
	<-ctx.Done()
	log.Info("worker stopping")
	return nil
}

// consume attaches the orchestrator to the campaign_sends topic of q.
func consume(ctx context.Context, q queue.Queue, campaigns repository.CampaignRepositoryInterface, orch *service.SendOrchestrator, log *zap.Logger) error {
	return queue.StartCampaignSendSubscriber(ctx, q, campaigns, orch.RunJob, log.Named("subscriber"))
}
