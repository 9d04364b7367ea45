// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/auth"
	"github.com/unclebandit/campaign-mailer/internal/config"
	"github.com/unclebandit/campaign-mailer/internal/controller"
	"github.com/unclebandit/campaign-mailer/internal/db"
	"github.com/unclebandit/campaign-mailer/internal/handler"
	"github.com/unclebandit/campaign-mailer/internal/logger"
	"github.com/unclebandit/campaign-mailer/internal/mailer"
	"github.com/unclebandit/campaign-mailer/internal/queue"
	"github.com/unclebandit/campaign-mailer/internal/recipient"
	"github.com/unclebandit/campaign-mailer/internal/repository"
	"github.com/unclebandit/campaign-mailer/internal/scheduler"
	"github.com/unclebandit/campaign-mailer/internal/service"
)

type stores struct {
	campaigns  repository.CampaignRepositoryInterface
	logs       repository.DeliveryLogRepositoryInterface
	candidates recipient.CandidateSource
	close      func()
}

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
		zlog.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	orch := &service.SendOrchestrator{
		CampaignRepo:   st.campaigns,
		LogRepo:        st.logs,
		Candidates:     st.candidates,
		Mailer:         mailer.New(cfg.SMTP, log),
		Workers:        cfg.Delivery.Workers,
		AttemptTimeout: cfg.Delivery.AttemptTimeout,
		Log:            log.Named("orchestrator"),
	}
	campaignSvc := &service.CampaignService{
		CampaignRepo: st.campaigns,
		LogRepo:      st.logs,
		Candidates:   st.candidates,
		Log:          log.Named("campaigns"),
	}

	q, closeQueue, err := openQueue(ctx, cfg, st, orch, log)
	if err != nil {
		return err
	}
	defer closeQueue()

	if cfg.Scheduler.Enabled {
		opts := []scheduler.Option{scheduler.WithStuckAfter(cfg.Scheduler.StuckAfter)}
		if cfg.Redis.Enabled {
			opt, closeRedis, err := redisLock(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeRedis()
			opts = append(opts, opt)
		}
		sched := scheduler.NewCampaignScheduler(st.campaigns, st.logs, q, orch, log, cfg.Scheduler.Interval, opts...)
		stopScheduler := sched.Start(ctx)
		defer stopScheduler()
	}

	router := handler.NewRouter(handler.RouterDeps{
		Campaigns: &controller.CampaignController{CampaignService: campaignSvc, Orchestrator: orch, Log: log},
		Emails: &controller.EmailController{
			LogService:      &service.DeliveryLogService{LogRepo: st.logs, Log: log},
			CampaignService: campaignSvc,
			Orchestrator:    orch,
			Log:             log,
		},
		Auth: auth.NewAuthenticator(cfg.Auth),
		Log:  log.Named("http"),
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("using in-memory storage, nothing survives a restart")
		return &stores{
			campaigns:  repository.NewMemoryCampaignRepository(),
			logs:       repository.NewMemoryDeliveryLogRepository(),
			candidates: repository.NewMemoryCandidateSource(),
			close:      func() {},
		}, nil
	}

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &stores{
		campaigns:  &repository.CampaignRepository{DB: conn},
		logs:       &repository.DeliveryLogRepository{DB: conn},
		candidates: &repository.TeamRepository{DB: conn},
		close:      func() { _ = conn.Close() },
	}, nil
}

// openQueue returns the queue the scheduler publishes to. The in-memory queue is consumed here; an
// AMQP queue is consumed by cmd/worker.
func openQueue(ctx context.Context, cfg *config.Config, st *stores, orch *service.SendOrchestrator, log *zap.Logger) (queue.Queue, func(), error) {
	if cfg.Queue.Driver == "amqp" {
		q, err := queue.DialAMQP(cfg.Queue.AMQPURL, log.Named("amqp"))
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	}

	q := queue.NewInMemoryQueue(log.Named("queue"))
	if err := queue.StartCampaignSendSubscriber(ctx, q, st.campaigns, orch.RunJob, log.Named("subscriber")); err != nil {
		return nil, nil, err
	}
	closeQueue := func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := q.Close(drainCtx); err != nil {
			log.Warn("queue did not drain", zap.Error(err))
		}
	}
	return q, closeQueue, nil
}

func redisLock(ctx context.Context, cfg *config.Config) (scheduler.Option, func(), error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	lock := scheduler.NewRedisTickLock(client, "", cfg.Scheduler.LockTTL)
	return scheduler.WithTickLock(lock), func() { _ = client.Close() }, nil
}
